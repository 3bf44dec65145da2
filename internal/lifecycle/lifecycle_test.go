package lifecycle

import (
	"path/filepath"
	"testing"

	git "github.com/libgit2/git2go/v34"
	"github.com/stretchr/testify/require"

	"github.com/forgebase/gitkv"
)

func TestInitSeedsAnEmptyInitialCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repo.git")
	require.NoError(t, EnsureRepository(Options{
		Path:   path,
		Init:   true,
		Bare:   true,
		Branch: "master",
	}))

	repo, err := git.OpenRepository(path)
	require.NoError(t, err)
	defer repo.Free()
	ref, err := repo.References.Lookup("refs/heads/master")
	require.NoError(t, err)
	defer ref.Free()
	commit, err := repo.LookupCommit(ref.Target())
	require.NoError(t, err)
	defer commit.Free()
	require.EqualValues(t, 0, commit.ParentCount())

	// A freshly initialized repository reads as an empty root
	// directory at the initial commit.
	store, err := gitkv.Open(gitkv.Config{RepoPath: path, PrimaryBranch: "master"})
	require.NoError(t, err)
	entry, err := store.ReadLatest("/")
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, gitkv.DirData{Entries: []gitkv.DirEntry{}}, entry.Data)
	require.Equal(t, commit.Id().String(), entry.CommitID)
}

func TestInitDefaultsBranchToMaster(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repo.git")
	require.NoError(t, EnsureRepository(Options{Path: path, Init: true, Bare: true}))

	repo, err := git.OpenRepository(path)
	require.NoError(t, err)
	defer repo.Free()
	ref, err := repo.References.Lookup("refs/heads/master")
	require.NoError(t, err)
	ref.Free()
}

func TestEnsureRepositoryLeavesExistingPathAlone(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EnsureRepository(Options{Path: dir}))
}

func TestEnsureRepositoryRequiresCloneOrInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing")
	err := EnsureRepository(Options{Path: path})
	require.Error(t, err)
}
