package gitkv

import (
	"fmt"
	"strings"

	git "github.com/libgit2/git2go/v34"
)

// resolveRef looks up the current target of refs/heads/<branch> and
// returns the commit it points at. A missing ref is not an error
// condition the caller can recover a commit from: it returns a nil
// *git.Commit and a nil error, and callers treat that as "no commits
// yet".
func (s *Store) resolveRef(repo *git.Repository) (*git.Commit, error) {
	ref, err := repo.References.Lookup(s.refName())
	if err != nil {
		if git.IsErrorCode(err, git.ErrorCodeNotFound) {
			return nil, nil
		}
		return nil, errObjectStore(err)
	}
	defer ref.Free()
	commit, err := repo.LookupCommit(ref.Target())
	if err != nil {
		return nil, errObjectStore(err)
	}
	return commit, nil
}

// findCommit looks up a commit by its exact object id string.
func (s *Store) findCommit(repo *git.Repository, id string) (*git.Commit, error) {
	oid, err := git.NewOid(id)
	if err != nil {
		return nil, errInvalidRev(id, err)
	}
	commit, err := repo.LookupCommit(oid)
	if err != nil {
		return nil, errInvalidRev(id, err)
	}
	return commit, nil
}

// resolveRevspec resolves an arbitrary git revspec (branch name, full
// or abbreviated object id, "HEAD", "HEAD~2", a tag, ...) to the
// commit it denotes, peeling annotated tags down to the commit they
// ultimately reference.
func (s *Store) resolveRevspec(repo *git.Repository, rev string) (*git.Commit, error) {
	obj, err := repo.RevparseSingle(rev)
	if err != nil {
		return nil, errInvalidRev(rev, err)
	}
	defer obj.Free()
	peeled, err := obj.Peel(git.ObjectCommit)
	if err != nil {
		return nil, errInvalidRev(rev, err)
	}
	commit, err := peeled.AsCommit()
	if err != nil {
		return nil, errInvalidRev(rev, err)
	}
	return commit, nil
}

// readBlob returns the raw content of the blob with the given id.
func (s *Store) readBlob(repo *git.Repository, id *git.Oid) ([]byte, error) {
	blob, err := repo.LookupBlob(id)
	if err != nil {
		return nil, errObjectStore(err)
	}
	defer blob.Free()
	content := blob.Contents()
	out := make([]byte, len(content))
	copy(out, content)
	return out, nil
}

// writeBlob writes content as a new blob and returns its id. It does
// not touch any ref or tree; the caller is responsible for threading
// the returned id into a TreeEdit.
func (s *Store) writeBlob(repo *git.Repository, content []byte) (*git.Oid, error) {
	id, err := repo.CreateBlobFromBuffer(content)
	if err != nil {
		return nil, errObjectStore(err)
	}
	return id, nil
}

// readTreeAt resolves path against the tree of commit and returns the
// git.TreeEntry found there, or a synthetic tree entry for the root
// path. A missing component yields (nil, nil).
func (s *Store) readTreeAt(repo *git.Repository, commit *git.Commit, p string) (*git.TreeEntry, error) {
	tree, err := commit.Tree()
	if err != nil {
		return nil, errObjectStore(err)
	}
	defer tree.Free()
	clean := cleanPath(p)
	if clean == "" {
		return &git.TreeEntry{Id: tree.Id(), Filemode: git.FilemodeTree, Type: git.ObjectTree}, nil
	}
	entry, err := tree.EntryByPath(clean)
	if err != nil {
		return nil, nil
	}
	return entry, nil
}

// TreeEdit describes one change to apply when synthesizing a new tree:
// either writing bytes at Path (creating intermediary directories as
// needed) or deleting whatever is at Path (pruning any directory left
// empty by the deletion, recursively up to the root).
type TreeEdit struct {
	Path   string
	Put    []byte
	Delete bool
}

// synthesizeTree applies edits to base (which may be nil, meaning the
// empty tree) and returns the id of the resulting tree. base itself is
// never modified; trees are immutable in git and every edit produces a
// new tree object.
func (s *Store) synthesizeTree(repo *git.Repository, base *git.Tree, edits []TreeEdit) (*git.Oid, error) {
	tree := base
	for _, edit := range edits {
		var err error
		if edit.Delete {
			tree, err = s.treeDel(repo, tree, edit.Path)
		} else {
			var blobID *git.Oid
			blobID, err = s.writeBlob(repo, edit.Put)
			if err != nil {
				return nil, err
			}
			tree, err = s.treePut(repo, tree, edit.Path, blobID)
		}
		if err != nil {
			return nil, err
		}
	}
	if tree == nil {
		id, err := emptyTree(repo)
		if err != nil {
			return nil, errObjectStore(err)
		}
		return id, nil
	}
	return tree.Id(), nil
}

// treePut creates a new tree with the blob at valueID inserted at key,
// creating intermediary subtrees as needed and overwriting whatever
// was previously at key or any intermediary path.
func (s *Store) treePut(repo *git.Repository, tree *git.Tree, key string, valueID *git.Oid) (*git.Tree, error) {
	key = cleanPath(key)
	if key == "" {
		return nil, errObjectStore(fmt.Errorf("cannot write a blob at the root path"))
	}
	first := firstComponent(key)
	rest := leafRemainder(key)

	var builder *git.TreeBuilder
	var err error
	if tree == nil {
		builder, err = repo.TreeBuilder()
	} else {
		builder, err = repo.TreeBuilderFromTree(tree)
	}
	if err != nil {
		return nil, errObjectStore(err)
	}
	defer builder.Free()

	if rest == "" {
		if err := builder.Insert(first, valueID, git.FilemodeBlob); err != nil {
			return nil, errObjectStore(err)
		}
		return s.writeBuilder(repo, builder)
	}

	var subTree *git.Tree
	if tree != nil {
		subTree, _ = s.treeScope(repo, tree, first)
	}
	newSub, err := s.treePut(repo, subTree, rest, valueID)
	if newSub != nil {
		defer newSub.Free()
	}
	if err != nil {
		return nil, err
	}
	if err := builder.Insert(first, newSub.Id(), git.FilemodeTree); err != nil {
		return nil, errObjectStore(err)
	}
	return s.writeBuilder(repo, builder)
}

// treeDel removes key from tree, pruning any directory left empty by
// the removal all the way up to (but not including) the root. Deleting
// a key that does not exist is a no-op: the original tree is returned
// unchanged.
func (s *Store) treeDel(repo *git.Repository, tree *git.Tree, key string) (*git.Tree, error) {
	if tree == nil {
		return nil, nil
	}
	key = cleanPath(key)
	if key == "" {
		return tree, nil
	}
	first := firstComponent(key)
	rest := leafRemainder(key)

	if rest == "" {
		if _, err := tree.EntryByPath(first); err != nil {
			return tree, nil
		}
		builder, err := repo.TreeBuilderFromTree(tree)
		if err != nil {
			return nil, errObjectStore(err)
		}
		defer builder.Free()
		if err := builder.Remove(first); err != nil {
			return nil, errObjectStore(err)
		}
		return s.writeBuilder(repo, builder)
	}

	subTree, err := s.treeScope(repo, tree, first)
	if err != nil {
		// first does not exist: nothing to delete.
		return tree, nil
	}
	defer subTree.Free()
	newSub, err := s.treeDel(repo, subTree, rest)
	if err != nil {
		return nil, err
	}
	builder, err := repo.TreeBuilderFromTree(tree)
	if err != nil {
		return nil, errObjectStore(err)
	}
	defer builder.Free()
	if newSub == nil || newSub.EntryCount() == 0 {
		if err := builder.Remove(first); err != nil {
			return nil, errObjectStore(err)
		}
	} else {
		if err := builder.Insert(first, newSub.Id(), git.FilemodeTree); err != nil {
			return nil, errObjectStore(err)
		}
	}
	return s.writeBuilder(repo, builder)
}

func (s *Store) writeBuilder(repo *git.Repository, builder *git.TreeBuilder) (*git.Tree, error) {
	id, err := builder.Write()
	if err != nil {
		return nil, errObjectStore(err)
	}
	tree, err := repo.LookupTree(id)
	if err != nil {
		return nil, errObjectStore(err)
	}
	return tree, nil
}

// treeScope looks up the subtree at name within tree.
func (s *Store) treeScope(repo *git.Repository, tree *git.Tree, name string) (*git.Tree, error) {
	name = cleanPath(name)
	if name == "" {
		return repo.LookupTree(tree.Id())
	}
	entry, err := tree.EntryByPath(name)
	if err != nil {
		return nil, errObjectStore(err)
	}
	return repo.LookupTree(entry.Id)
}

// firstComponent returns the first "/"-separated component of a
// cleaned path.
func firstComponent(p string) string {
	if i := strings.Index(p, "/"); i >= 0 {
		return p[:i]
	}
	return p
}

// leafRemainder returns everything in a cleaned path after its first
// component (the part treePut/treeDel recurse into).
func leafRemainder(p string) string {
	if i := strings.Index(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return ""
}

// makeCommit creates a commit with the given tree and parent (parent
// may be nil for the first commit in the repository) and returns it.
// It does not update any ref; callers combine it with updateRef under
// the write lock so the two steps appear atomic to readers.
func (s *Store) makeCommit(repo *git.Repository, treeID *git.Oid, parent *git.Commit, msg string, sig Signature) (*git.Commit, error) {
	tree, err := repo.LookupTree(treeID)
	if err != nil {
		return nil, errObjectStore(err)
	}
	defer tree.Free()

	var parents []*git.Commit
	if parent != nil {
		parents = append(parents, parent)
	}
	gitSig := sig.toGit()
	id, err := repo.CreateCommit("", gitSig, gitSig, msg, tree, parents...)
	if err != nil {
		return nil, errObjectStore(err)
	}
	commit, err := repo.LookupCommit(id)
	if err != nil {
		return nil, errObjectStore(err)
	}
	return commit, nil
}

// updateRef points refs/heads/<branch> at newCommit. expectedOld is
// the commit id the caller observed as the current tip (nil if the
// caller observed no ref at all); if the ref has since moved, updateRef
// fails with KindConflictOnWrite rather than clobbering the
// intervening write. Callers run this under the package write lock, so
// in practice the check never races against another updateRef call,
// but it still guards against the ref having been modified outside
// this package.
func (s *Store) updateRef(repo *git.Repository, newCommit *git.Commit, expectedOld *git.Oid) error {
	name := s.refName()
	existing, err := repo.References.Lookup(name)
	if err != nil {
		if !git.IsErrorCode(err, git.ErrorCodeNotFound) {
			return errObjectStore(err)
		}
		if expectedOld != nil {
			return errConflict(name, expectedOld.String())
		}
		_, err := repo.References.Create(name, newCommit.Id(), true, "")
		if err != nil {
			return errObjectStore(err)
		}
		return nil
	}
	defer existing.Free()
	if expectedOld == nil || !existing.Target().Equal(expectedOld) {
		return errConflict(name, existing.Target().String())
	}
	_, err = repo.References.Create(name, newCommit.Id(), true, "")
	if err != nil {
		return errObjectStore(err)
	}
	return nil
}

// emptyTree creates an empty git tree and returns its id (always the
// same id for a given repository's hash algorithm).
func emptyTree(repo *git.Repository) (*git.Oid, error) {
	builder, err := repo.TreeBuilder()
	if err != nil {
		return nil, err
	}
	defer builder.Free()
	return builder.Write()
}
