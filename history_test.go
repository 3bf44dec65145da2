package gitkv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHistoryWalksNewestFirst(t *testing.T) {
	store := tmpStore(t)
	first, err := store.PutLatest("p", []byte("1"), WriteOptions{})
	require.NoError(t, err)
	second, err := store.PutLatest("p", []byte("2"), WriteOptions{})
	require.NoError(t, err)

	it, err := store.History()
	require.NoError(t, err)
	entries, hasNext, err := Collect(it, 0, 10)
	require.NoError(t, err)
	require.False(t, hasNext)
	require.Len(t, entries, 2)
	require.Equal(t, second, entries[0].CommitID)
	require.Equal(t, first, entries[1].CommitID)
}

func TestHistoryPaginationSentinel(t *testing.T) {
	store := tmpStore(t)
	for i := 0; i < 5; i++ {
		_, err := store.PutLatest("p", []byte{byte(i)}, WriteOptions{})
		require.NoError(t, err)
	}

	it, err := store.History()
	require.NoError(t, err)
	entries, hasNext, err := Collect(it, 0, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.True(t, hasNext)
}

func TestHistoryPaginationExactBoundary(t *testing.T) {
	store := tmpStore(t)
	for i := 0; i < 4; i++ {
		_, err := store.PutLatest("p", []byte{byte(i)}, WriteOptions{})
		require.NoError(t, err)
	}

	// One entry beyond the page exists, so has_next is set even
	// though the following page holds a single entry.
	it, err := store.History()
	require.NoError(t, err)
	entries, hasNext, err := Collect(it, 0, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.True(t, hasNext)

	it, err = store.History()
	require.NoError(t, err)
	entries, hasNext, err = Collect(it, 3, 3)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.False(t, hasNext)
}

func TestHistoryStatsCountChanges(t *testing.T) {
	store := tmpStore(t)
	_, err := store.PutLatest("a", []byte("line one\n"), WriteOptions{})
	require.NoError(t, err)
	_, err = store.PutLatest("b", []byte("x\ny\n"), WriteOptions{})
	require.NoError(t, err)

	it, err := store.History()
	require.NoError(t, err)
	entries, _, err := Collect(it, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.Equal(t, 1, entries[0].Stats.FilesChanged)
	require.Equal(t, 2, entries[0].Stats.Insertions)
	require.Equal(t, 0, entries[0].Stats.Deletions)
	// Root commit diffs against the empty tree.
	require.Equal(t, 1, entries[1].Stats.FilesChanged)
	require.Equal(t, 1, entries[1].Stats.Insertions)
}

// renameFile performs a rename by reading the old path, writing it at
// the new path, and deleting the old path in a single tree edit set,
// using the engine's low-level synthesizeTree so the resulting commit
// carries a real git rename delta (small content, matching git's
// default similarity threshold).
func renameFile(t *testing.T, store *Store, parentCommitID, from, to string) string {
	t.Helper()
	repo, err := store.openRepo()
	require.NoError(t, err)
	defer repo.Free()

	parent, err := store.findCommit(repo, parentCommitID)
	require.NoError(t, err)
	defer parent.Free()

	tree, err := parent.Tree()
	require.NoError(t, err)
	defer tree.Free()

	entry, err := tree.EntryByPath(from)
	require.NoError(t, err)
	blob, err := repo.LookupBlob(entry.Id)
	require.NoError(t, err)
	content := append([]byte(nil), blob.Contents()...)
	blob.Free()

	newTreeID, err := store.synthesizeTree(repo, tree, []TreeEdit{
		{Path: from, Delete: true},
		{Path: to, Put: content},
	})
	require.NoError(t, err)

	commit, err := store.makeCommit(repo, newTreeID, parent, "rename "+from+" to "+to, store.defSig)
	require.NoError(t, err)
	defer commit.Free()

	require.NoError(t, store.updateRef(repo, commit, parent.Id()))
	return commit.Id().String()
}

func TestFileHistoryFollowsRenames(t *testing.T) {
	store := tmpStore(t)

	c1, err := store.PutLatest("a/x", []byte("hello world, this is version one of the file"), WriteOptions{})
	require.NoError(t, err)
	c2, err := store.PutLatest("a/x", []byte("hello world, this is version two of the file"), WriteOptions{})
	require.NoError(t, err)

	c3 := renameFile(t, store, c2, "a/x", "b/x")

	c4, err := store.Put(c3, "b/x", []byte("hello world, this is version four of the file"), WriteOptions{})
	require.NoError(t, err)

	it, err := store.FileHistory("b/x")
	require.NoError(t, err)
	entries, hasNext, err := Collect(it, 0, 10)
	require.NoError(t, err)
	require.False(t, hasNext)
	require.Len(t, entries, 4)

	ids := []string{entries[0].CommitID, entries[1].CommitID, entries[2].CommitID, entries[3].CommitID}
	require.Equal(t, []string{c4, c3, c2, c1}, ids)
}

func TestFileHistorySkipsUnrelatedCommits(t *testing.T) {
	store := tmpStore(t)
	c1, err := store.PutLatest("tracked", []byte("one"), WriteOptions{})
	require.NoError(t, err)
	_, err = store.PutLatest("other", []byte("noise"), WriteOptions{})
	require.NoError(t, err)
	c3, err := store.PutLatest("tracked", []byte("two"), WriteOptions{})
	require.NoError(t, err)

	it, err := store.FileHistory("tracked")
	require.NoError(t, err)
	entries, _, err := Collect(it, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, c3, entries[0].CommitID)
	require.Equal(t, c1, entries[1].CommitID)
}
