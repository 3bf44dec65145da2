package gitkv

import (
	"fmt"

	git "github.com/libgit2/git2go/v34"
)

// HistoryStats is the diff summary attached to each HistoryEntry: a
// tree-to-tree diff between the commit and its first parent (or
// against the empty tree, for the root commit).
type HistoryStats struct {
	FilesChanged int `json:"files_changed"`
	Insertions   int `json:"insertions"`
	Deletions    int `json:"deletions"`
}

// HistoryEntry describes one commit on the primary branch's history.
// The json tags are the wire shape the HTTP collaborator serves; an
// empty Message is omitted rather than serialized as "".
type HistoryEntry struct {
	TimestampSeconds int64        `json:"timestamp_seconds"`
	CommitID         string       `json:"commit_id"`
	Message          string       `json:"message,omitempty"`
	Author           string       `json:"author"`
	Stats            HistoryStats `json:"stats"`
}

// HistoryIterator produces a lazy, first-parent-only walk of the
// primary branch starting at its current tip. It is restartable only
// by obtaining a fresh iterator from Store.History; unlike a full
// topological revwalk, it never visits a side-branch commit reachable
// only through a non-first parent.
type HistoryIterator struct {
	store *Store
	repo  *git.Repository
	next  *git.Commit
	err   error
}

// History returns an iterator over the primary branch's commits,
// newest first. Call Next until it returns false, then Err to check
// for a failure (io.EOF is not used; a clean exhaustion leaves Err
// nil). The caller must call Close when done to release the
// repository handle.
func (s *Store) History() (*HistoryIterator, error) {
	repo, err := s.openRepo()
	if err != nil {
		return nil, err
	}
	head, err := s.resolveRef(repo)
	if err != nil {
		repo.Free()
		return nil, err
	}
	return &HistoryIterator{store: s, repo: repo, next: head}, nil
}

// Close releases the iterator's repository handle. Safe to call more
// than once.
func (it *HistoryIterator) Close() {
	if it.next != nil {
		it.next.Free()
		it.next = nil
	}
	if it.repo != nil {
		it.repo.Free()
		it.repo = nil
	}
}

// Next advances the iterator and reports whether an entry is
// available. On false, check Err to distinguish clean exhaustion from
// failure.
func (it *HistoryIterator) Next() (*HistoryEntry, bool) {
	if it.err != nil || it.next == nil {
		return nil, false
	}
	commit := it.next
	entry, err := historyEntryFor(it.repo, commit)
	if err != nil {
		it.err = err
		commit.Free()
		it.next = nil
		return nil, false
	}

	if commit.ParentCount() == 0 {
		commit.Free()
		it.next = nil
		return entry, true
	}
	parent := commit.Parent(0)
	if parent == nil {
		it.err = errObjectStore(fmt.Errorf("commit %s: first parent not found", commit.Id()))
	}
	commit.Free()
	it.next = parent
	if parent == nil {
		return nil, false
	}
	return entry, true
}

// Err returns the error, if any, that stopped the walk.
func (it *HistoryIterator) Err() error { return it.err }

func historyEntryFor(repo *git.Repository, commit *git.Commit) (*HistoryEntry, error) {
	tree, err := commit.Tree()
	if err != nil {
		return nil, errObjectStore(err)
	}
	defer tree.Free()

	var parentTree *git.Tree
	if commit.ParentCount() > 0 {
		parent := commit.Parent(0)
		if parent == nil {
			return nil, errObjectStore(fmt.Errorf("commit %s: first parent not found", commit.Id()))
		}
		defer parent.Free()
		parentTree, err = parent.Tree()
		if err != nil {
			return nil, errObjectStore(err)
		}
		defer parentTree.Free()
	}

	opts, err := git.DefaultDiffOptions()
	if err != nil {
		return nil, errObjectStore(err)
	}
	diff, err := repo.DiffTreeToTree(parentTree, tree, &opts)
	if err != nil {
		return nil, errObjectStore(err)
	}
	defer diff.Free()
	stats, err := diff.Stats()
	if err != nil {
		return nil, errObjectStore(err)
	}
	defer stats.Free()

	author := fromGitSignature(commit.Author())

	return &HistoryEntry{
		TimestampSeconds: commit.Author().When.Unix(),
		CommitID:         commit.Id().String(),
		Message:          commit.Message(),
		Author:           author.Rendered(),
		Stats: HistoryStats{
			FilesChanged: stats.FilesChanged(),
			Insertions:   stats.Insertions(),
			Deletions:    stats.Deletions(),
		},
	}, nil
}

// HistoryStream is the common face of HistoryIterator and
// FileHistoryIterator, for callers that paginate either one the same
// way.
type HistoryStream interface {
	Next() (*HistoryEntry, bool)
	Err() error
	Close()
}

// Collect drains a stream applying the pagination convention of the
// HTTP surface: skip the first skip entries, read up to take+1 more so
// the caller can tell whether a further page exists, then truncate to
// take. It closes the stream before returning.
func Collect(it HistoryStream, skip, take int) (entries []HistoryEntry, hasNext bool, err error) {
	defer it.Close()
	skipped := 0
	for len(entries) < take+1 {
		e, ok := it.Next()
		if !ok {
			break
		}
		if skipped < skip {
			skipped++
			continue
		}
		entries = append(entries, *e)
	}
	if it.Err() != nil {
		return nil, false, it.Err()
	}
	if len(entries) > take {
		entries = entries[:take]
		hasNext = true
	}
	return entries, hasNext, nil
}
