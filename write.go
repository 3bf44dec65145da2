package gitkv

import (
	"sync"

	git "github.com/libgit2/git2go/v34"
)

// writeLock serializes every mutating operation across every Store in
// the process. The engine favors this single coarse lock over
// libgit2's native merge-and-retry path: a write here is a single
// tree edit plus a fast-forward ref update, so there is nothing to
// gain from optimistic concurrency and a lot to lose in complexity.
var writeLock sync.Mutex

// WriteOptions customizes a Put or Delete call.
type WriteOptions struct {
	// Overwrite bypasses the conflict check: the write always
	// succeeds, using the current branch tip as its parent
	// regardless of what commitID the caller supplied.
	Overwrite bool
	// CommitMsg overrides the default "Updated <path>" / "Deleted
	// <path>" commit message.
	CommitMsg string
	// Signature overrides the Store's configured default signature
	// for this commit only.
	Signature *Signature
}

// Put writes data at path, using parentRev as the revision the caller
// last observed (a 40-hex commit id, a branch name, or a tag: any
// revspec the repository can resolve). If overwrite is false and the
// branch tip has advanced past that revision with an intervening
// change to path, Put fails with KindConflictOnWrite. It returns the
// id of the new commit.
func (s *Store) Put(parentRev, path string, data []byte, opts WriteOptions) (string, error) {
	return s.write(parentRev, path, opts, TreeEdit{Path: path, Put: data}, "Updated "+path)
}

// PutLatest is Put against the current branch tip: it always succeeds
// (there is no parent revision to have diverged from) unless the
// underlying object store fails.
func (s *Store) PutLatest(path string, data []byte, opts WriteOptions) (string, error) {
	opts.Overwrite = true
	return s.write("", path, opts, TreeEdit{Path: path, Put: data}, "Updated "+path)
}

// Delete removes path, subject to the same conflict semantics as Put.
func (s *Store) Delete(parentRev, path string, opts WriteOptions) (string, error) {
	return s.write(parentRev, path, opts, TreeEdit{Path: path, Delete: true}, "Deleted "+path)
}

// DeleteLatest is Delete against the current branch tip.
func (s *Store) DeleteLatest(path string, opts WriteOptions) (string, error) {
	opts.Overwrite = true
	return s.write("", path, opts, TreeEdit{Path: path, Delete: true}, "Deleted "+path)
}

func (s *Store) write(parentRev, path string, opts WriteOptions, edit TreeEdit, defaultMsg string) (string, error) {
	writeLock.Lock()
	defer writeLock.Unlock()

	repo, err := s.openRepo()
	if err != nil {
		return "", err
	}
	defer repo.Free()

	head, err := s.resolveRef(repo)
	if err != nil {
		return "", err
	}
	if head != nil {
		defer head.Free()
	}

	var parent *git.Commit
	if parentRev != "" {
		parent, err = s.resolveRevspec(repo, parentRev)
		if err != nil {
			return "", err
		}
		defer parent.Free()
	}

	if !opts.Overwrite && parent != nil && head != nil && !parent.Id().Equal(head.Id()) {
		conflict, err := s.diffTouchesPath(repo, parent, head, path)
		if err != nil {
			return "", err
		}
		if conflict {
			return "", errConflict(path, parent.Id().String())
		}
	}

	base := head
	if base == nil {
		base = parent
	}

	var baseTree *git.Tree
	if base != nil {
		baseTree, err = base.Tree()
		if err != nil {
			return "", errObjectStore(err)
		}
		defer baseTree.Free()
	}

	newTreeID, err := s.synthesizeTree(repo, baseTree, []TreeEdit{edit})
	if err != nil {
		return "", err
	}

	msg := opts.CommitMsg
	if msg == "" {
		msg = defaultMsg
	}
	sig := s.resolveSignature(opts.Signature)

	var expectedOld *git.Oid
	if head != nil {
		expectedOld = head.Id()
	}

	newCommit, err := s.makeCommit(repo, newTreeID, base, msg, sig)
	if err != nil {
		return "", err
	}
	defer newCommit.Free()

	if err := s.updateRef(repo, newCommit, expectedOld); err != nil {
		return "", err
	}

	return newCommit.Id().String(), nil
}

// diffTouchesPath reports whether the tree-to-tree diff between
// parent and head, restricted to path, has at least one delta.
func (s *Store) diffTouchesPath(repo *git.Repository, parent, head *git.Commit, path string) (bool, error) {
	parentTree, err := parent.Tree()
	if err != nil {
		return false, errObjectStore(err)
	}
	defer parentTree.Free()
	headTree, err := head.Tree()
	if err != nil {
		return false, errObjectStore(err)
	}
	defer headTree.Free()

	clean := cleanPath(path)
	opts, err := git.DefaultDiffOptions()
	if err != nil {
		return false, errObjectStore(err)
	}
	if clean != "" {
		opts.Pathspec = []string{clean}
	}

	diff, err := repo.DiffTreeToTree(parentTree, headTree, &opts)
	if err != nil {
		return false, errObjectStore(err)
	}
	defer diff.Free()

	count, err := diff.NumDeltas()
	if err != nil {
		return false, errObjectStore(err)
	}
	return count > 0, nil
}
