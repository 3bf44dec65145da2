package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	git "github.com/libgit2/git2go/v34"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/forgebase/gitkv"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	repoPath := filepath.Join(t.TempDir(), "repo.git")
	repo, err := git.InitRepository(repoPath, true)
	require.NoError(t, err)
	repo.Free()

	store, err := gitkv.Open(gitkv.Config{
		RepoPath:      repoPath,
		PrimaryBranch: "master",
		DefaultSignature: gitkv.Signature{
			Name:  "Test Runner",
			Email: "test@example.com",
		},
	})
	require.NoError(t, err)

	log := logrus.New()
	log.SetOutput(io.Discard)
	srv := httptest.NewServer(New(store, log).Handler())
	t.Cleanup(srv.Close)
	return srv
}

type entryResponse struct {
	Data struct {
		File *struct {
			Data string `json:"data"`
		} `json:"File"`
		Dir *struct {
			Entries []struct {
				IsDir bool   `json:"is_dir"`
				Name  string `json:"name"`
			} `json:"entries"`
		} `json:"Dir"`
	} `json:"data"`
	CommitID string `json:"commit_id"`
}

type commitResponse struct {
	CommitID string `json:"commit_id"`
}

func doRequest(t *testing.T, srv *httptest.Server, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func putLatest(t *testing.T, srv *httptest.Server, path, data string) string {
	t.Helper()
	resp, raw := doRequest(t, srv, http.MethodPost, "/latest/"+path, map[string]string{"data": data})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var out commitResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Len(t, out.CommitID, 40)
	return out.CommitID
}

func TestPutLatestThenGetLatest(t *testing.T) {
	srv := testServer(t)
	id := putLatest(t, srv, "docs/doc1", "test data 1")

	resp, raw := doRequest(t, srv, http.MethodGet, "/latest/docs/doc1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entry entryResponse
	require.NoError(t, json.Unmarshal(raw, &entry))
	require.NotNil(t, entry.Data.File)
	require.Equal(t, "test data 1", entry.Data.File.Data)
	require.Equal(t, id, entry.CommitID)
}

func TestGetByCommitID(t *testing.T) {
	srv := testServer(t)
	id := putLatest(t, srv, "docs/doc1", "one")
	putLatest(t, srv, "docs/doc1", "two")

	resp, raw := doRequest(t, srv, http.MethodGet, fmt.Sprintf("/commits/%s/docs/doc1", id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entry entryResponse
	require.NoError(t, json.Unmarshal(raw, &entry))
	require.NotNil(t, entry.Data.File)
	require.Equal(t, "one", entry.Data.File.Data)
}

func TestGetDirectoryListing(t *testing.T) {
	srv := testServer(t)
	putLatest(t, srv, "docs/a", "1")
	putLatest(t, srv, "docs/b", "2")

	resp, raw := doRequest(t, srv, http.MethodGet, "/latest/docs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entry entryResponse
	require.NoError(t, json.Unmarshal(raw, &entry))
	require.NotNil(t, entry.Data.Dir)
	require.Len(t, entry.Data.Dir.Entries, 2)
}

func TestGetMissingPathIs404(t *testing.T) {
	srv := testServer(t)
	putLatest(t, srv, "exists", "x")

	resp, _ := doRequest(t, srv, http.MethodGet, "/latest/does-not-exist", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetUnresolvableCommitIs404(t *testing.T) {
	srv := testServer(t)
	putLatest(t, srv, "p", "x")

	resp, _ := doRequest(t, srv, http.MethodGet, "/commits/zzzz/p", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStaleParentConflictIs409(t *testing.T) {
	srv := testServer(t)
	base := putLatest(t, srv, "p", "x")

	resp, raw := doRequest(t, srv, http.MethodPost, "/commits/"+base+"/p", map[string]string{"data": "y"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	resp, raw = doRequest(t, srv, http.MethodPost, "/commits/"+base+"/p", map[string]string{"data": "z"})
	require.Equal(t, http.StatusConflict, resp.StatusCode, string(raw))

	var errBody struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(raw, &errBody))
	require.NotEmpty(t, errBody.Error)
}

func TestOverwriteBypassesConflict(t *testing.T) {
	srv := testServer(t)
	base := putLatest(t, srv, "p", "x")
	doRequest(t, srv, http.MethodPost, "/commits/"+base+"/p", map[string]string{"data": "y"})

	resp, raw := doRequest(t, srv, http.MethodPost, "/commits/"+base+"/p", map[string]interface{}{
		"data":      "z",
		"overwrite": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	_, raw = doRequest(t, srv, http.MethodGet, "/latest/p", nil)
	var entry entryResponse
	require.NoError(t, json.Unmarshal(raw, &entry))
	require.Equal(t, "z", entry.Data.File.Data)
}

func TestDeleteLatestToleratesEmptyBody(t *testing.T) {
	srv := testServer(t)
	putLatest(t, srv, "docs/doc1", "x")

	resp, raw := doRequest(t, srv, http.MethodDelete, "/latest/docs/doc1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var out commitResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Len(t, out.CommitID, 40)

	resp, _ = doRequest(t, srv, http.MethodGet, "/latest/docs/doc1", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHistoryPaginates(t *testing.T) {
	srv := testServer(t)
	putLatest(t, srv, "p", "1")
	putLatest(t, srv, "p", "2")
	putLatest(t, srv, "q", "3")

	resp, raw := doRequest(t, srv, http.MethodGet, "/history?first=2&after=0", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page struct {
		Entries []struct {
			CommitID string `json:"commit_id"`
		} `json:"entries"`
		HasNext bool `json:"has_next"`
	}
	require.NoError(t, json.Unmarshal(raw, &page))
	require.Len(t, page.Entries, 2)
	require.True(t, page.HasNext)

	resp, raw = doRequest(t, srv, http.MethodGet, "/history?first=2&after=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &page))
	require.Len(t, page.Entries, 1)
	require.False(t, page.HasNext)
}

func TestHistoryWithPathFilter(t *testing.T) {
	srv := testServer(t)
	putLatest(t, srv, "tracked", "1")
	putLatest(t, srv, "other", "noise")
	putLatest(t, srv, "tracked", "2")

	resp, raw := doRequest(t, srv, http.MethodGet, "/history?first=10&after=0&path=tracked", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page struct {
		Entries []struct {
			CommitID string `json:"commit_id"`
			Message  string `json:"message"`
		} `json:"entries"`
		HasNext bool `json:"has_next"`
	}
	require.NoError(t, json.Unmarshal(raw, &page))
	require.Len(t, page.Entries, 2)
	require.False(t, page.HasNext)
}

func TestHistoryRejectsMissingFirst(t *testing.T) {
	srv := testServer(t)
	resp, _ := doRequest(t, srv, http.MethodGet, "/history", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
