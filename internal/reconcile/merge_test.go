package reconcile_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillsync/quill/internal/reconcile"
)

func TestSplitPreamble(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		content      string
		wantPreamble string
		wantBody     string
	}{
		{
			name:         "with preamble",
			content:      "---\ntitle: X\n---\nbody line\n",
			wantPreamble: "title: X\n",
			wantBody:     "body line\n",
		},
		{
			name:         "no preamble",
			content:      "just a body\n",
			wantPreamble: "",
			wantBody:     "just a body\n",
		},
		{
			name:         "unclosed marker",
			content:      "---\ntitle: X\nno closing",
			wantPreamble: "",
			wantBody:     "---\ntitle: X\nno closing",
		},
		{
			name:         "empty document",
			content:      "",
			wantPreamble: "",
			wantBody:     "",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pre, body := reconcile.SplitPreamble(tt.content)
			assert.Equal(t, tt.wantPreamble, pre)
			assert.Equal(t, tt.wantBody, body)
		})
	}
}

func TestMergePrefersRemotePreamble(t *testing.T) {
	t.Parallel()

	// Local has no preamble, remote declares a title, bodies match the
	// ancestor exactly.
	body := "shared body\n"
	local := body
	remote := "---\ntitle: X\n---\n\n" + body
	ancestor := body

	res := reconcile.Merge(local, remote, ancestor)

	require.False(t, res.Conflicted)
	assert.True(t, strings.HasPrefix(res.Content, "---\ntitle: X\n---\n"))
	assert.True(t, strings.HasSuffix(res.Content, body))
	assert.NotContains(t, res.Content, "<<<<<<<")
}

func TestMergeKeepsLocalPreambleWhenRemoteEmpty(t *testing.T) {
	t.Parallel()

	local := "---\ntags: a\n---\n\nbody\n"
	remote := "body\n"
	res := reconcile.Merge(local, remote, "body\n")

	assert.Contains(t, res.Content, "tags: a")
}

func TestMergePrefersChangedSide(t *testing.T) {
	t.Parallel()

	ancestor := "line one\nline two\n"
	local := "line one\nline two\nline three\n" // changed
	remote := ancestor                          // untouched

	res := reconcile.Merge(local, remote, ancestor)
	require.False(t, res.Conflicted)
	assert.Equal(t, local, res.Content)

	res = reconcile.Merge(remote, local, ancestor)
	require.False(t, res.Conflicted)
	assert.Equal(t, local, res.Content)
}

func TestMergeConflictMarkersWhenBothDiverge(t *testing.T) {
	t.Parallel()

	ancestor := "base\n"
	local := strings.Repeat("local line\n", 6)
	remote := strings.Repeat("remote line\n", 6)

	res := reconcile.Merge(local, remote, ancestor)

	require.True(t, res.Conflicted)
	assert.Contains(t, res.Content, "<<<<<<< local")
	assert.Contains(t, res.Content, "=======")
	assert.Contains(t, res.Content, ">>>>>>> remote")
	assert.Contains(t, res.Content, "local line")
	assert.Contains(t, res.Content, "remote line")
}

func TestMergeIdenticalBodiesUnchanged(t *testing.T) {
	t.Parallel()

	body := "same everywhere\n"
	res := reconcile.Merge(body, body, body)
	require.False(t, res.Conflicted)
	assert.Equal(t, body, res.Content)
}

func TestMergeConcatenatesWhenNeitherChangedMaterially(t *testing.T) {
	t.Parallel()

	// Same line count as the ancestor on both sides, but different text:
	// no material change either way, so both versions are kept.
	ancestor := "original\n"
	local := "local word\n"
	remote := "remote word\n"

	res := reconcile.Merge(local, remote, ancestor)
	require.False(t, res.Conflicted)
	assert.Contains(t, res.Content, "local word")
	assert.Contains(t, res.Content, "remote word")
	assert.Less(t,
		strings.Index(res.Content, "local word"),
		strings.Index(res.Content, "remote word"),
		"local version comes first")
}
