package reconcile

import (
	"strings"
)

// preambleMarker delimits the optional leading key-value block in the tracked
// note format, opening and closing on its own line.
const preambleMarker = "---"

// conflictLineThreshold is the line-count delta beyond which a side is
// considered to have diverged too far from the ancestor for an automatic
// pick. When both sides exceed it, the merge emits conflict markers instead
// of silently choosing one. The heuristic is deliberately coarse (line-count
// delta, not a real diff); downstream behavior depends on exactly this
// approximation.
const conflictLineThreshold = 3

// Conflict markers, git-style.
const (
	conflictLocalMarker  = "<<<<<<< local"
	conflictSepMarker    = "======="
	conflictRemoteMarker = ">>>>>>> remote"
)

// MergeResult is the outcome of a structural merge.
type MergeResult struct {
	// Content is the merged document.
	Content string
	// Conflicted reports whether Content contains conflict markers.
	Conflicted bool
}

// Merge performs the structural three-way merge for the tracked note format.
// The document splits into an optional preamble block and a body; preambles
// merge by preferring the remote block when non-empty, bodies merge against
// the ancestor body with the coarse line-count heuristic.
func Merge(local, remote, ancestor string) MergeResult {
	localPre, localBody := SplitPreamble(local)
	remotePre, remoteBody := SplitPreamble(remote)
	_, ancestorBody := SplitPreamble(ancestor)

	pre := localPre
	if strings.TrimSpace(remotePre) != "" {
		pre = remotePre
	}

	body, conflicted := mergeBodies(localBody, remoteBody, ancestorBody)

	var b strings.Builder
	if strings.TrimSpace(pre) != "" {
		b.WriteString(preambleMarker)
		b.WriteString("\n")
		b.WriteString(pre)
		if !strings.HasSuffix(pre, "\n") {
			b.WriteString("\n")
		}
		b.WriteString(preambleMarker)
		b.WriteString("\n\n")
	}
	b.WriteString(body)

	return MergeResult{Content: b.String(), Conflicted: conflicted}
}

// SplitPreamble separates a document into its preamble block (without the
// markers) and body. A document without a preamble returns an empty preamble
// and the full content as body.
func SplitPreamble(content string) (preamble, body string) {
	rest, found := strings.CutPrefix(content, preambleMarker+"\n")
	if !found {
		if content == preambleMarker {
			return "", ""
		}
		return "", content
	}

	// Closing marker on its own line.
	if inner, after, ok := strings.Cut(rest, "\n"+preambleMarker+"\n"); ok {
		return inner + "\n", strings.TrimLeft(after, "\n")
	}
	if inner, ok := strings.CutSuffix(rest, "\n"+preambleMarker); ok {
		return inner + "\n", ""
	}
	// Unclosed marker: treat the whole document as body.
	return "", content
}

// mergeBodies merges the body text against the common ancestor using the
// line-count delta heuristic.
func mergeBodies(local, remote, ancestor string) (string, bool) {
	if local == remote {
		return local, false
	}

	localDelta := lineDelta(local, ancestor)
	remoteDelta := lineDelta(remote, ancestor)

	// Both sides moved far from the ancestor: surface the conflict rather
	// than silently picking one.
	if localDelta > conflictLineThreshold && remoteDelta > conflictLineThreshold {
		var b strings.Builder
		b.WriteString(conflictLocalMarker + "\n")
		b.WriteString(local)
		if !strings.HasSuffix(local, "\n") {
			b.WriteString("\n")
		}
		b.WriteString(conflictSepMarker + "\n")
		b.WriteString(remote)
		if !strings.HasSuffix(remote, "\n") {
			b.WriteString("\n")
		}
		b.WriteString(conflictRemoteMarker + "\n")
		return b.String(), true
	}

	localChanged := local != ancestor
	remoteChanged := remote != ancestor

	switch {
	case localChanged && !remoteChanged:
		return local, false
	case remoteChanged && !localChanged:
		return remote, false
	case localDelta == 0 && remoteDelta == 0:
		// Neither side changed materially (same shape as the ancestor) yet
		// the texts differ: keep both, local first.
		return local + "\n\n" + remote, false
	case remoteDelta >= localDelta:
		return remote, false
	default:
		return local, false
	}
}

// lineDelta is the absolute difference in line count between a side and the
// ancestor.
func lineDelta(side, ancestor string) int {
	d := countLines(side) - countLines(ancestor)
	if d < 0 {
		return -d
	}
	return d
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
