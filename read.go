package gitkv

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	git "github.com/libgit2/git2go/v34"
)

// DirEntry is one immediate child of a directory payload. Name is the
// UTF-8 decoding of the tree entry's name when it is valid UTF-8 (the
// common case); NameBytes always carries the raw bytes, since a tree
// entry name is not guaranteed to be valid UTF-8 even though file
// content is.
type DirEntry struct {
	Name      string
	NameBytes []byte
	IsDir     bool
}

// GitData is the payload half of a GitEntry: either a directory
// listing or a file's decoded content.
type GitData interface {
	isGitData()
}

// DirData is the GitData variant produced when the resolved path names
// a tree.
type DirData struct {
	Entries []DirEntry
}

func (DirData) isGitData() {}

// FileData is the GitData variant produced when the resolved path
// names a blob.
type FileData struct {
	Data string
}

func (FileData) isGitData() {}

// GitEntry is the result of a successful read: a payload paired with
// the id of the commit it was read at.
type GitEntry struct {
	Data     GitData
	CommitID string
}

// MarshalJSON renders the external wire shape documented for the HTTP
// collaborator: {data: {Dir:{entries:[...]}} | {File:{data:"..."}}, commit_id}.
func (e GitEntry) MarshalJSON() ([]byte, error) {
	type wireDirEntry struct {
		IsDir bool   `json:"is_dir"`
		Name  string `json:"name"`
	}
	type wireDir struct {
		Entries []wireDirEntry `json:"entries"`
	}
	type wireFile struct {
		Data string `json:"data"`
	}
	type wireData struct {
		Dir  *wireDir  `json:"Dir,omitempty"`
		File *wireFile `json:"File,omitempty"`
	}
	out := struct {
		Data     wireData `json:"data"`
		CommitID string   `json:"commit_id"`
	}{CommitID: e.CommitID}

	switch d := e.Data.(type) {
	case DirData:
		entries := make([]wireDirEntry, len(d.Entries))
		for i, de := range d.Entries {
			entries[i] = wireDirEntry{IsDir: de.IsDir, Name: de.Name}
		}
		out.Data.Dir = &wireDir{Entries: entries}
	case FileData:
		out.Data.File = &wireFile{Data: d.Data}
	}
	return json.Marshal(out)
}

// Read resolves commitID, then path within that commit's tree, and
// returns the entry found there. A missing intermediate or leaf is not
// an error: it returns (nil, nil).
func (s *Store) Read(commitID, p string) (*GitEntry, error) {
	repo, err := s.openRepo()
	if err != nil {
		return nil, err
	}
	defer repo.Free()

	commit, err := s.findCommit(repo, commitID)
	if err != nil {
		return nil, err
	}
	defer commit.Free()

	return s.readAt(repo, commit, p)
}

// ReadLatest reads path against the current tip of the primary branch.
// If the branch has no commits yet, it returns (nil, nil).
func (s *Store) ReadLatest(p string) (*GitEntry, error) {
	repo, err := s.openRepo()
	if err != nil {
		return nil, err
	}
	defer repo.Free()

	commit, err := s.resolveRef(repo)
	if err != nil {
		return nil, err
	}
	if commit == nil {
		return nil, nil
	}
	defer commit.Free()

	return s.readAt(repo, commit, p)
}

func (s *Store) readAt(repo *git.Repository, commit *git.Commit, p string) (*GitEntry, error) {
	commitID := commit.Id().String()

	if isRootPath(p) {
		tree, err := commit.Tree()
		if err != nil {
			return nil, errObjectStore(err)
		}
		defer tree.Free()
		return &GitEntry{Data: dirDataFromTree(tree), CommitID: commitID}, nil
	}

	entry, err := s.readTreeAt(repo, commit, p)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	switch entry.Type {
	case git.ObjectBlob:
		content, err := s.readBlob(repo, entry.Id)
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(content) {
			return nil, errNonUTF8Blob(commitID, p)
		}
		return &GitEntry{Data: FileData{Data: string(content)}, CommitID: commitID}, nil
	case git.ObjectTree:
		tree, err := repo.LookupTree(entry.Id)
		if err != nil {
			return nil, errObjectStore(err)
		}
		defer tree.Free()
		return &GitEntry{Data: dirDataFromTree(tree), CommitID: commitID}, nil
	default:
		// A pre-existing or cloned repository can legally hold entry
		// kinds this store never writes, e.g. a gitlink for a
		// submodule.
		return nil, errObjectStore(fmt.Errorf("unsupported tree entry type %v at %q in commit %s", entry.Type, p, commitID))
	}
}

func dirDataFromTree(tree *git.Tree) DirData {
	count := int(tree.EntryCount())
	entries := make([]DirEntry, 0, count)
	for i := 0; i < count; i++ {
		e := tree.EntryByIndex(uint64(i))
		nameBytes := []byte(e.Name)
		name := e.Name
		if !utf8.ValidString(name) {
			name = ""
		}
		entries = append(entries, DirEntry{
			Name:      name,
			NameBytes: nameBytes,
			IsDir:     e.Type == git.ObjectTree,
		})
	}
	return DirData{Entries: entries}
}
