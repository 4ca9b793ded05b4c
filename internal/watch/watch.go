// Package watch surfaces filesystem changes under a sync root as debounced
// sync triggers. Editors write files in bursts (truncate, write, rename, set
// attributes); the debounce collapses each burst into one event per path.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rjeczalik/notify"

	"github.com/quillsync/quill/internal/index"
)

// DebounceWindow is how long a path must stay quiet before its change is
// reported.
const DebounceWindow = 500 * time.Millisecond

// Kind classifies a filesystem change.
type Kind int

const (
	Created Kind = iota + 1
	Modified
	Removed
	Renamed
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	case Renamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Event is one debounced change to a tracked file, with its root-relative
// path.
type Event struct {
	Path string
	Kind Kind
}

// Watcher reports debounced changes to tracked files under one root.
type Watcher struct {
	root string
	raw  chan notify.EventInfo
	out  chan Event
	log  *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingEvent
}

type pendingEvent struct {
	timer *time.Timer
	kind  Kind
}

// New creates a watcher for root. Events are delivered on Events() after
// Start.
func New(root string, log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		root:    root,
		raw:     make(chan notify.EventInfo, 64),
		out:     make(chan Event, 64),
		log:     log,
		pending: make(map[string]*pendingEvent),
	}
}

// Events is the debounced change stream. It closes when the watcher stops.
func (w *Watcher) Events() <-chan Event { return w.out }

// Start begins watching recursively and blocks until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if err := notify.Watch(filepath.Join(w.root, "..."), w.raw,
		notify.Create|notify.Write|notify.Remove|notify.Rename); err != nil {
		return err
	}
	defer notify.Stop(w.raw)
	w.log.Info("watching", "root", w.root)

	for {
		select {
		case <-ctx.Done():
			w.drain()
			close(w.out)
			return nil
		case ei := <-w.raw:
			w.observe(ei)
		}
	}
}

// observe folds a raw notification into the pending set, starting or
// resetting its debounce timer.
func (w *Watcher) observe(ei notify.EventInfo) {
	rel, err := filepath.Rel(w.root, ei.Path())
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	rel = filepath.ToSlash(rel)
	if index.Hidden(rel) || !Relevant(rel) {
		return
	}
	kind := kindOf(ei.Event())

	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pending[rel]; ok {
		// A remove after a create/write within the window is still a
		// remove; otherwise keep the first classification.
		if kind == Removed {
			p.kind = Removed
		}
		p.timer.Reset(DebounceWindow)
		return
	}
	p := &pendingEvent{kind: kind}
	p.timer = time.AfterFunc(DebounceWindow, func() {
		w.fire(rel)
	})
	w.pending[rel] = p
}

func (w *Watcher) fire(rel string) {
	w.mu.Lock()
	p, ok := w.pending[rel]
	delete(w.pending, rel)
	w.mu.Unlock()
	if !ok {
		return
	}

	ev := Event{Path: rel, Kind: p.kind}
	select {
	case w.out <- ev:
		w.log.Debug("change", "path", rel, "kind", p.kind)
	default:
		w.log.Warn("change dropped, consumer behind", "path", rel)
	}
}

func (w *Watcher) drain() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range w.pending {
		p.timer.Stop()
	}
	w.pending = make(map[string]*pendingEvent)
}

// Relevant reports whether a change to the given root-relative path should
// trigger a sync. Staging files never do: they are the transfer engine's own
// writes.
func Relevant(rel string) bool {
	if strings.HasSuffix(rel, ".tmp") {
		return false
	}
	return index.Eligible(rel)
}

func kindOf(e notify.Event) Kind {
	switch {
	case e&notify.Create != 0:
		return Created
	case e&notify.Remove != 0:
		return Removed
	case e&notify.Rename != 0:
		return Renamed
	default:
		return Modified
	}
}
