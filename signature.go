package gitkv

import (
	"time"

	git "github.com/libgit2/git2go/v34"
)

// Signature is the author/committer identity attached to a write. A
// caller that supplies none gets the Store's configured default; if
// no default is configured either, the write fails with the
// underlying object-store error rather than committing under an
// invented identity.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

func (s Signature) toGit() *git.Signature {
	when := s.When
	if when.IsZero() {
		when = time.Now()
	}
	return &git.Signature{Name: s.Name, Email: s.Email, When: when}
}

func fromGitSignature(s *git.Signature) Signature {
	return Signature{Name: s.Name, Email: s.Email, When: s.When}
}

// Rendered returns the "Name <email>" form used in HistoryEntry.Author.
func (s Signature) Rendered() string {
	return s.Name + " <" + s.Email + ">"
}

func (s Signature) valid() bool {
	return s.Name != "" && s.Email != ""
}
