// Package archive preserves prior versions of destination files. Before a
// file is overwritten by a new transfer, the existing copy is moved into a
// history directory under a timestamped name and recorded in a version
// index, enabling later listing and restore.
//
// Layout under the destination root:
//
//	.ifetch-history/versions.yaml          version index
//	.ifetch-history/<rel-path>.v<N>_<ts>   archived copies, never mutated
package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// HistoryDirName is the history directory created under the destination root.
const HistoryDirName = ".ifetch-history"

const indexFileName = "versions.yaml"

// timestamp layout used in archived file names.
const stampLayout = "20060102T150405"

// ErrNoVersion is returned when a requested version does not exist.
var ErrNoVersion = errors.New("archive: no such version")

// Version is one archived copy of a destination file.
type Version struct {
	Version    int       `yaml:"version"`
	Checksum   string    `yaml:"checksum"`
	Archived   string    `yaml:"archived"` // path relative to the history root
	ArchivedAt time.Time `yaml:"archived_at"`
}

// Archiver moves stale destination files into the history directory.
// It is used by one coordinator at a time; methods are not safe for
// concurrent use on the same relative path.
type Archiver struct {
	root    string // destination root
	history string // history directory
	index   map[string][]Version
}

// New opens (or creates) the history directory under root and loads the
// version index.
func New(root string) (*Archiver, error) {
	history := filepath.Join(root, HistoryDirName)
	if err := os.MkdirAll(history, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create history dir: %w", err)
	}

	a := &Archiver{
		root:    root,
		history: history,
		index:   make(map[string][]Version),
	}
	if err := a.loadIndex(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Archiver) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(a.history, indexFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("archive: read index: %w", err)
	}
	if err := yaml.Unmarshal(data, &a.index); err != nil {
		return fmt.Errorf("archive: parse index: %w", err)
	}
	return nil
}

func (a *Archiver) saveIndex() error {
	data, err := yaml.Marshal(a.index)
	if err != nil {
		return fmt.Errorf("archive: marshal index: %w", err)
	}
	path := filepath.Join(a.history, indexFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("archive: write index: %w", err)
	}
	return nil
}

// Archive moves the file at rel (relative to the destination root) into the
// history directory and records it in the index. It is a no-op when no file
// exists at the destination. The move happens before any chunk of the new
// version touches the destination path, so an interrupted transfer never
// loses the prior good copy.
func (a *Archiver) Archive(rel string) error {
	src := filepath.Join(a.root, rel)
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("archive: stat %s: %w", rel, err)
	}

	checksum, err := fileChecksum(src)
	if err != nil {
		return fmt.Errorf("archive: checksum %s: %w", rel, err)
	}

	versions := a.index[rel]
	next := 1
	if len(versions) > 0 {
		next = versions[len(versions)-1].Version + 1
	}

	stamp := time.Now().UTC().Format(stampLayout)
	archivedRel := fmt.Sprintf("%s.v%d_%s", rel, next, stamp)
	dst := filepath.Join(a.history, archivedRel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("archive: create dir for %s: %w", rel, err)
	}

	if err := moveFile(src, dst); err != nil {
		return fmt.Errorf("archive: move %s: %w", rel, err)
	}

	a.index[rel] = append(versions, Version{
		Version:    next,
		Checksum:   checksum,
		Archived:   archivedRel,
		ArchivedAt: time.Now().UTC(),
	})
	return a.saveIndex()
}

// Versions lists the archived versions for a relative path, oldest first.
func (a *Archiver) Versions(rel string) []Version {
	versions := a.index[rel]
	out := make([]Version, len(versions))
	copy(out, versions)
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

// LatestChecksum returns the checksum of the most recently archived version
// of rel, or "" when none exists.
func (a *Archiver) LatestChecksum(rel string) string {
	versions := a.index[rel]
	if len(versions) == 0 {
		return ""
	}
	return versions[len(versions)-1].Checksum
}

// Restore copies an archived version back to the destination path. The
// archived copy itself stays in history. version <= 0 selects the newest.
func (a *Archiver) Restore(rel string, version int) error {
	versions := a.Versions(rel)
	if len(versions) == 0 {
		return fmt.Errorf("%w: %s", ErrNoVersion, rel)
	}

	var found *Version
	if version <= 0 {
		found = &versions[len(versions)-1]
	} else {
		for i := range versions {
			if versions[i].Version == version {
				found = &versions[i]
				break
			}
		}
	}
	if found == nil {
		return fmt.Errorf("%w: %s v%d", ErrNoVersion, rel, version)
	}

	src := filepath.Join(a.history, found.Archived)
	dst := filepath.Join(a.root, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("archive: create dir for %s: %w", rel, err)
	}
	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("archive: restore %s v%d: %w", rel, found.Version, err)
	}
	return nil
}

// moveFile renames src to dst, falling back to copy+remove across devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// fileChecksum computes the SHA-256 of a file's contents.
func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
