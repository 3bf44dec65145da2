package gitkv

import (
	"fmt"

	git "github.com/libgit2/git2go/v34"
)

// FileHistoryIterator produces the subsequence of the primary branch's
// history in which a given path was materially changed, following
// renames across commits. Adapted from the libgit2sharp FileHistory
// algorithm (LibGit2Sharp/Core/FileHistory.cs).
type FileHistoryIterator struct {
	store        *Store
	repo         *git.Repository
	next         *git.Commit
	path         string
	commits2path map[string]string
	err          error
}

// FileHistory returns an iterator over the commits on the primary
// branch that materially changed path, newest first. The caller must
// call Close when done.
func (s *Store) FileHistory(path string) (*FileHistoryIterator, error) {
	repo, err := s.openRepo()
	if err != nil {
		return nil, err
	}
	head, err := s.resolveRef(repo)
	if err != nil {
		repo.Free()
		return nil, err
	}
	return &FileHistoryIterator{
		store:        s,
		repo:         repo,
		next:         head,
		path:         cleanPath(path),
		commits2path: make(map[string]string),
	}, nil
}

// Close releases the iterator's repository handle. Safe to call more
// than once.
func (it *FileHistoryIterator) Close() {
	if it.next != nil {
		it.next.Free()
		it.next = nil
	}
	if it.repo != nil {
		it.repo.Free()
		it.repo = nil
	}
}

// Err returns the error, if any, that stopped the walk.
func (it *FileHistoryIterator) Err() error { return it.err }

// Next advances the iterator, skipping commits that did not materially
// change the tracked path, and reports whether an entry is available.
func (it *FileHistoryIterator) Next() (*HistoryEntry, bool) {
	for {
		if it.err != nil || it.next == nil {
			return nil, false
		}
		commit := it.next
		entry, advance, emit, err := it.step(commit)
		if err != nil {
			it.err = err
			commit.Free()
			it.next = nil
			return nil, false
		}
		it.next = advance
		commit.Free()
		if emit {
			return entry, true
		}
	}
}

// step examines commit (the iterator's current head) and returns:
// the HistoryEntry to emit (if emit is true), the commit to continue
// walking from (the commit's first parent, or nil at the root), and
// whether to emit commit at all.
func (it *FileHistoryIterator) step(commit *git.Commit) (entry *HistoryEntry, advance *git.Commit, emit bool, err error) {
	id := commit.Id().String()

	currentPath, ok := it.commits2path[id]
	if !ok {
		currentPath = it.path
	}

	currentTree, err := commit.Tree()
	if err != nil {
		return nil, nil, false, errObjectStore(err)
	}
	defer currentTree.Free()

	currentTreeEntry := lookupPathEntry(currentTree, currentPath)
	if currentTreeEntry == nil {
		return nil, it.firstParent(commit), false, nil
	}

	if commit.ParentCount() == 0 {
		e, err := historyEntryFor(it.repo, commit)
		if err != nil {
			return nil, nil, false, err
		}
		return e, nil, true, nil
	}

	if err := it.determineParentPaths(commit, currentPath); err != nil {
		return nil, nil, false, err
	}

	// Merges are not credited with path-changes by this walker: a
	// commit with more than one parent only ever advances the walk,
	// it is never itself emitted, matching the libgit2sharp behavior.
	parent := commit.Parent(0)
	if parent == nil {
		return nil, nil, false, errObjectStore(fmt.Errorf("commit %s: first parent not found", commit.Id()))
	}

	parentPath, ok := it.commits2path[parent.Id().String()]
	if !ok {
		parentPath = it.path
	}

	if commit.ParentCount() > 1 {
		return nil, parent, false, nil
	}

	parentTree, err := parent.Tree()
	if err != nil {
		parent.Free()
		return nil, nil, false, errObjectStore(err)
	}
	parentTreeEntry := lookupPathEntry(parentTree, parentPath)
	changed := parentTreeEntry == nil ||
		!parentTreeEntry.Id.Equal(currentTreeEntry.Id) ||
		parentPath != currentPath
	parentTree.Free()

	if !changed {
		return nil, parent, false, nil
	}

	e, err := historyEntryFor(it.repo, commit)
	if err != nil {
		parent.Free()
		return nil, nil, false, err
	}
	return e, parent, true, nil
}

func (it *FileHistoryIterator) firstParent(commit *git.Commit) *git.Commit {
	if commit.ParentCount() == 0 {
		return nil
	}
	return commit.Parent(0)
}

// determineParentPaths fills in it.commits2path for every parent of
// commit not already recorded, computing each one's path for the file
// tracked at currentPath in commit.
func (it *FileHistoryIterator) determineParentPaths(commit *git.Commit, currentPath string) error {
	n := commit.ParentCount()
	for i := uint(0); i < n; i++ {
		parent := commit.Parent(i)
		if parent == nil {
			return errObjectStore(fmt.Errorf("commit %s: parent %d not found", commit.Id(), i))
		}
		id := parent.Id().String()
		if _, seen := it.commits2path[id]; seen {
			parent.Free()
			continue
		}
		pp, err := computeParentPath(it.repo, commit, parent, currentPath)
		parent.Free()
		if err != nil {
			return err
		}
		it.commits2path[id] = pp
	}
	return nil
}

// computeParentPath diffs commit's tree against parent's tree and
// looks at the delta whose new path is currentPath. If that delta has
// status Renamed, its old path is the parent-path; otherwise
// currentPath carries over unchanged. The diff is not narrowed by a
// pathspec: a pathspec of currentPath would drop the deletion of the
// old path, and rename detection could never pair the two.
func computeParentPath(repo *git.Repository, commit, parent *git.Commit, currentPath string) (string, error) {
	commitTree, err := commit.Tree()
	if err != nil {
		return "", errObjectStore(err)
	}
	defer commitTree.Free()
	parentTree, err := parent.Tree()
	if err != nil {
		return "", errObjectStore(err)
	}
	defer parentTree.Free()

	opts, err := git.DefaultDiffOptions()
	if err != nil {
		return "", errObjectStore(err)
	}
	diff, err := repo.DiffTreeToTree(parentTree, commitTree, &opts)
	if err != nil {
		return "", errObjectStore(err)
	}
	defer diff.Free()

	if err := diff.FindSimilar(&git.DiffFindOptions{Flags: git.DiffFindRenames}); err != nil {
		return "", errObjectStore(err)
	}

	n, err := diff.NumDeltas()
	if err != nil {
		return "", errObjectStore(err)
	}
	for i := 0; i < n; i++ {
		delta, err := diff.GetDelta(i)
		if err != nil {
			return "", errObjectStore(err)
		}
		if delta.NewFile.Path != currentPath {
			continue
		}
		if delta.Status == git.DeltaRenamed {
			return delta.OldFile.Path, nil
		}
		return currentPath, nil
	}
	return currentPath, nil
}

// lookupPathEntry resolves path against tree, returning nil (not an
// error) if any component is absent.
func lookupPathEntry(tree *git.Tree, path string) *git.TreeEntry {
	if path == "" {
		return &git.TreeEntry{Id: tree.Id(), Type: git.ObjectTree}
	}
	entry, err := tree.EntryByPath(path)
	if err != nil {
		return nil
	}
	return entry
}
