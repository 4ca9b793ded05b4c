package index

import (
	"encoding/hex"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/quillsync/quill/internal/syncerr"
)

// Indexer walks a sync root and produces snapshots.
type Indexer struct {
	deviceID string
	root     string
}

// NewIndexer creates an indexer for the given device and root directory.
func NewIndexer(deviceID, root string) *Indexer {
	return &Indexer{deviceID: deviceID, root: root}
}

// Root returns the sync root directory.
func (ix *Indexer) Root() string { return ix.root }

// DeviceID returns the owning device identifier.
func (ix *Indexer) DeviceID() string { return ix.deviceID }

// Index walks the root and returns a complete snapshot. Individual files that
// cannot be read are skipped (a transient permission error on one file must
// not blank the snapshot); a failure to walk the tree itself is an IO error.
func (ix *Indexer) Index() (*Snapshot, error) {
	snap := NewSnapshot(ix.deviceID, ix.root)

	err := filepath.WalkDir(ix.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == ix.root {
				return walkErr
			}
			// Unreadable entry mid-walk: skip, keep going.
			slog.Debug("index skip", "path", path, "error", walkErr)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(ix.root, path)
		if relErr != nil {
			return syncerr.Wrap(syncerr.KindPathResolution, relErr, "relativize %s", path)
		}
		if rel == "." {
			return nil
		}

		if Hidden(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() || !Eligible(path) {
			return nil
		}

		rec, recErr := ix.record(path, rel)
		if recErr != nil {
			// Best effort: one unreadable file does not abort the pass.
			slog.Debug("index skip", "path", rel, "error", recErr)
			return nil
		}
		snap.Files[filepath.ToSlash(rel)] = rec
		return nil
	})
	if err != nil {
		if syncerr.KindOf(err) == syncerr.KindPathResolution {
			return nil, err
		}
		return nil, syncerr.Wrap(syncerr.KindIO, err, "walk %s", ix.root)
	}

	return snap, nil
}

// record reads and hashes one file, producing its FileRecord.
func (ix *Indexer) record(path, rel string) (FileRecord, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return FileRecord{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return FileRecord{}, err
	}

	sum := blake3.Sum256(content)
	mod := info.ModTime()

	return FileRecord{
		Path:     filepath.ToSlash(rel),
		Digest:   hex.EncodeToString(sum[:]),
		Size:     info.Size(),
		Modified: mod,
		Created:  createdTime(info),
		Version:  uint64(mod.Unix()),
		DeviceID: ix.deviceID,
	}, nil
}

// HashFile returns the hex BLAKE3 digest of the file at path.
func HashFile(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", syncerr.Wrap(syncerr.KindIO, err, "read %s", path)
	}
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:]), nil
}

// HashBytes returns the hex BLAKE3 digest of b.
func HashBytes(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ReadFile reads the file at the given root-relative path.
func (ix *Indexer) ReadFile(relPath string) ([]byte, error) {
	abs, err := ix.Resolve(relPath)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindIO, err, "read %s", relPath)
	}
	return content, nil
}

// WriteFile writes content to the given root-relative path, creating parent
// directories as needed.
func (ix *Indexer) WriteFile(relPath string, content []byte) error {
	abs, err := ix.Resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return syncerr.Wrap(syncerr.KindIO, err, "mkdir for %s", relPath)
	}
	if err := os.WriteFile(abs, content, 0o644); err != nil {
		return syncerr.Wrap(syncerr.KindIO, err, "write %s", relPath)
	}
	return nil
}

// Rewrite replaces the file at the given root-relative path, clearing the
// read-only mode a committed sync leaves behind. The result stays writable:
// rewritten content is a local modification that the next sync propagates.
func (ix *Indexer) Rewrite(relPath string, content []byte) error {
	abs, err := ix.Resolve(relPath)
	if err != nil {
		return err
	}
	_ = os.Chmod(abs, 0o644)
	return ix.WriteFile(relPath, content)
}

// Remove deletes the file at the given root-relative path. A file that is
// already gone is not an error: deletes are idempotent.
func (ix *Indexer) Remove(relPath string) error {
	abs, err := ix.Resolve(relPath)
	if err != nil {
		return err
	}
	// Synchronized files are committed read-only; clear that before removing.
	_ = os.Chmod(abs, 0o644)
	println("DBG ix.Remove", abs)
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return syncerr.Wrap(syncerr.KindIO, err, "remove %s", relPath)
	}
	return nil
}

// Resolve joins a relative path onto the root, rejecting paths that escape it.
func (ix *Indexer) Resolve(relPath string) (string, error) {
	abs := filepath.Join(ix.root, filepath.FromSlash(relPath))
	rel, err := filepath.Rel(ix.root, abs)
	if err != nil || rel == ".." || len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator) {
		return "", syncerr.New(syncerr.KindPathResolution, "path %q escapes sync root", relPath)
	}
	return abs, nil
}
