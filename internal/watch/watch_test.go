package watch

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rjeczalik/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEvent struct {
	path string
	ev   notify.Event
}

func (f fakeEvent) Event() notify.Event { return f.ev }
func (f fakeEvent) Path() string        { return f.path }
func (f fakeEvent) Sys() interface{}    { return nil }

func collect(t *testing.T, w *Watcher, wait time.Duration) []Event {
	t.Helper()
	deadline := time.After(wait)
	var got []Event
	for {
		select {
		case ev := <-w.out:
			got = append(got, ev)
		case <-deadline:
			return got
		}
	}
}

func TestBurstCollapsesToOneEvent(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w := New(root, nil)
	abs := filepath.Join(root, "note.md")

	// An editor save burst: create, then several writes.
	w.observe(fakeEvent{path: abs, ev: notify.Create})
	for i := 0; i < 5; i++ {
		w.observe(fakeEvent{path: abs, ev: notify.Write})
	}

	got := collect(t, w, DebounceWindow+200*time.Millisecond)
	require.Len(t, got, 1)
	assert.Equal(t, "note.md", got[0].Path)
	assert.Equal(t, Created, got[0].Kind)
}

func TestRemoveOverridesEarlierWrite(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w := New(root, nil)
	abs := filepath.Join(root, "note.md")

	w.observe(fakeEvent{path: abs, ev: notify.Write})
	w.observe(fakeEvent{path: abs, ev: notify.Remove})

	got := collect(t, w, DebounceWindow+200*time.Millisecond)
	require.Len(t, got, 1)
	assert.Equal(t, Removed, got[0].Kind)
}

func TestDistinctPathsReportSeparately(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w := New(root, nil)

	w.observe(fakeEvent{path: filepath.Join(root, "a.md"), ev: notify.Write})
	w.observe(fakeEvent{path: filepath.Join(root, "b.md"), ev: notify.Write})

	got := collect(t, w, DebounceWindow+200*time.Millisecond)
	assert.Len(t, got, 2)
}

func TestIrrelevantPathsIgnored(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w := New(root, nil)

	w.observe(fakeEvent{path: filepath.Join(root, "doc.md.tmp"), ev: notify.Write})
	w.observe(fakeEvent{path: filepath.Join(root, ".git", "index"), ev: notify.Write})
	w.observe(fakeEvent{path: filepath.Join(root, "binary.bin"), ev: notify.Write})
	w.observe(fakeEvent{path: "/outside/root/note.md", ev: notify.Write})

	got := collect(t, w, DebounceWindow+200*time.Millisecond)
	assert.Empty(t, got)
}

func TestRelevant(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rel  string
		want bool
	}{
		{"notes/a.md", true},
		{"main.go", true},
		{"notes/a.md.tmp", false},
		{"binary.bin", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Relevant(tc.rel), tc.rel)
	}
}
