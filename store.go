// Package gitkv implements a content-addressed, version-controlled
// key/value store whose persistence layer is a git repository (bare
// or working). Every write produces a new commit on a single primary
// branch; every read is satisfied against either that branch's
// current tip or a specific historical commit.
//
// The package is the engine only: it has no HTTP, CLI, SSH, or
// logging surface of its own (those live under internal/ and cmd/ in
// this repository, as external collaborators). It never logs; every
// failure is returned as a typed *Error.
package gitkv

import (
	"fmt"

	git "github.com/libgit2/git2go/v34"
)

// Config is the process-lifetime-immutable configuration of a Store:
// the repository's filesystem path and the name of its primary
// branch, plus an optional default signature applied to writes that
// don't supply one of their own.
type Config struct {
	RepoPath          string
	PrimaryBranch     string
	DefaultSignature  Signature
}

// Store is a handle to the configuration of a git-backed key/value
// store. It does not hold a long-lived repository handle: every
// operation opens the repository fresh so concurrent on-disk state is
// observed consistently.
type Store struct {
	repoPath string
	branch   string
	defSig   Signature
}

// Open validates cfg and returns a Store bound to it. It does not
// touch the filesystem; repository existence is checked lazily by the
// first operation (a missing or non-repository path surfaces as a
// KindObjectStore error from that operation, not from Open).
func Open(cfg Config) (*Store, error) {
	if cfg.RepoPath == "" {
		return nil, fmt.Errorf("gitkv: RepoPath must not be empty")
	}
	branch := cfg.PrimaryBranch
	if branch == "" {
		branch = "master"
	}
	return &Store{
		repoPath: cfg.RepoPath,
		branch:   branch,
		defSig:   cfg.DefaultSignature,
	}, nil
}

// Branch returns the configured primary branch name.
func (s *Store) Branch() string { return s.branch }

// RepoPath returns the configured repository filesystem path.
func (s *Store) RepoPath() string { return s.repoPath }

func (s *Store) refName() string { return "refs/heads/" + s.branch }

// openRepo opens the backing repository fresh. Callers must Free() it
// (and anything looked up from it) when done.
func (s *Store) openRepo() (*git.Repository, error) {
	repo, err := git.OpenRepository(s.repoPath)
	if err != nil {
		return nil, errObjectStore(err)
	}
	return repo, nil
}

// resolveSignature returns sig if it carries both a name and email,
// else the Store's configured default. If neither is usable, the
// caller's eventual CreateCommit call fails and that failure surfaces
// as the object-store error. The engine does not invent an identity.
func (s *Store) resolveSignature(sig *Signature) Signature {
	if sig != nil && sig.valid() {
		return *sig
	}
	return s.defSig
}
