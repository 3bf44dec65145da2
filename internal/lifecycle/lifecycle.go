// Package lifecycle owns the backing repository's existence: cloning
// it from a remote over SSH, initializing a fresh one with an empty
// initial commit, or leaving what's already on disk alone.
package lifecycle

import (
	"fmt"
	"os"
	"path/filepath"

	git "github.com/libgit2/git2go/v34"
)

// Options controls how EnsureRepository brings a repository into
// existence before the engine opens it.
type Options struct {
	Path     string
	CloneURL string // if set, clone from this SSH url when Path does not exist
	Init     bool   // if set (and CloneURL is not), init a fresh repository at Path
	Bare     bool   // the cloned or initialized repository is bare
	Branch   string // primary branch name, used to seed the initial commit
}

// EnsureRepository makes sure a repository exists at opts.Path,
// cloning or initializing it first if requested. If the path already
// exists, it is left untouched and assumed to already be a valid
// repository. Clone takes precedence over Init, matching this
// project's CLI.
func EnsureRepository(opts Options) error {
	if _, err := os.Stat(opts.Path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("lifecycle: stat %s: %w", opts.Path, err)
	}

	if opts.CloneURL != "" {
		return cloneSSH(opts.CloneURL, opts.Path, opts.Bare)
	}
	if opts.Init {
		return initRepository(opts.Path, opts.Bare, opts.Branch)
	}
	return fmt.Errorf("lifecycle: %s does not exist and neither a clone url nor init was requested", opts.Path)
}

// cloneSSH clones url into path, authenticating with the current
// user's ~/.ssh/id_rsa and the username carried by the url. When that
// key file does not exist, it falls back to the local ssh-agent.
func cloneSSH(url, path string, bare bool) error {
	callbacks := &git.RemoteCallbacks{
		CredentialsCallback: func(url, username string, allowed git.CredentialType) (*git.Credential, error) {
			if home, err := os.UserHomeDir(); err == nil {
				keyPath := filepath.Join(home, ".ssh", "id_rsa")
				if _, err := os.Stat(keyPath); err == nil {
					return git.NewCredentialSSHKey(username, "", keyPath, "")
				}
			}
			return git.NewCredentialSSHKeyFromAgent(username)
		},
		CertificateCheckCallback: func(cert *git.Certificate, valid bool, hostname string) error {
			return nil
		},
	}
	opts := &git.CloneOptions{
		Bare: bare,
		FetchOptions: git.FetchOptions{
			RemoteCallbacks: *callbacks,
		},
	}
	repo, err := git.Clone(url, path, opts)
	if err != nil {
		return fmt.Errorf("lifecycle: clone %s: %w", url, err)
	}
	repo.Free()
	return nil
}

// initRepository creates a fresh repository at path and seeds it with
// an empty initial commit on refs/heads/<branch>, so that a first
// PutLatest call always has a real parent commit to advance from.
func initRepository(path string, bare bool, branch string) error {
	if branch == "" {
		branch = "master"
	}
	repo, err := git.InitRepository(path, bare)
	if err != nil {
		return fmt.Errorf("lifecycle: init %s: %w", path, err)
	}
	defer repo.Free()

	builder, err := repo.TreeBuilder()
	if err != nil {
		return fmt.Errorf("lifecycle: tree builder: %w", err)
	}
	defer builder.Free()
	treeID, err := builder.Write()
	if err != nil {
		return fmt.Errorf("lifecycle: write empty tree: %w", err)
	}
	tree, err := repo.LookupTree(treeID)
	if err != nil {
		return fmt.Errorf("lifecycle: lookup empty tree: %w", err)
	}
	defer tree.Free()

	sig, err := repo.DefaultSignature()
	if err != nil {
		sig = &git.Signature{Name: "gitkv", Email: "gitkv@localhost"}
	}
	if _, err := repo.CreateCommit("refs/heads/"+branch, sig, sig, "Initial commit", tree); err != nil {
		return fmt.Errorf("lifecycle: initial commit: %w", err)
	}
	return nil
}
