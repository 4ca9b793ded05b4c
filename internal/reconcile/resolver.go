// Package reconcile decides how divergent snapshots converge: which side of a
// conflicting file wins, which operations each side must apply, and how the
// tracked note format merges structurally.
package reconcile

import (
	"sort"

	"github.com/quillsync/quill/internal/index"
)

// Resolve picks the winning record for a path that exists on both sides with
// differing digests. The strictly later modified timestamp wins; an exact
// timestamp tie resolves to the local record. The tie-break is deterministic
// by contract, not an accident.
func Resolve(local, remote index.FileRecord) index.FileRecord {
	if remote.Modified.After(local.Modified) {
		return remote
	}
	return local
}

// Reconcile compares the local and remote snapshots and returns the operation
// lists each side must apply to converge. ancestor is the last snapshot both
// sides agreed on; it disambiguates "new file" from "deleted file" for paths
// present on only one side. A nil ancestor carries no deletion evidence, so
// one-sided paths are always treated as additions.
func Reconcile(local, remote, ancestor *index.Snapshot) (localOps, remoteOps []index.Op) {
	for path, lrec := range local.Files {
		rrec, onRemote := remote.Files[path]
		if !onRemote {
			if inAncestor(ancestor, path) {
				// Remote deleted it; propagate the deletion.
				localOps = append(localOps, index.DeleteOp(path))
			} else {
				remoteOps = append(remoteOps, index.AddOp(lrec))
			}
			continue
		}
		if lrec.Digest == rrec.Digest {
			continue
		}
		winner := Resolve(lrec, rrec)
		if winner.Digest == lrec.Digest {
			remoteOps = append(remoteOps, index.UpdateOp(lrec))
		} else {
			localOps = append(localOps, index.UpdateOp(rrec))
		}
	}

	for path, rrec := range remote.Files {
		if _, onLocal := local.Files[path]; onLocal {
			continue
		}
		if inAncestor(ancestor, path) {
			// Local deleted it; propagate the deletion.
			remoteOps = append(remoteOps, index.DeleteOp(path))
		} else {
			localOps = append(localOps, index.AddOp(rrec))
		}
	}

	return localOps, remoteOps
}

// Conflicts returns the note paths that hold different content on both sides
// where the last agreed snapshot proves neither side simply carried the old
// version forward. These are the paths whose Update is applied through the
// structural merge rather than a plain overwrite. With no ancestor every
// divergent note counts as a conflict.
func Conflicts(local, remote, ancestor *index.Snapshot) []string {
	var paths []string
	for path, lrec := range local.Files {
		rrec, onRemote := remote.Files[path]
		if !onRemote || lrec.Digest == rrec.Digest || !index.IsNote(path) {
			continue
		}
		if anc, ok := ancestorRecord(ancestor, path); ok {
			if anc.Digest == lrec.Digest || anc.Digest == rrec.Digest {
				// Only one side changed; the winner overwrites cleanly.
				continue
			}
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func ancestorRecord(ancestor *index.Snapshot, path string) (index.FileRecord, bool) {
	if ancestor == nil {
		return index.FileRecord{}, false
	}
	rec, ok := ancestor.Files[path]
	return rec, ok
}

func inAncestor(ancestor *index.Snapshot, path string) bool {
	if ancestor == nil {
		return false
	}
	_, ok := ancestor.Files[path]
	return ok
}
