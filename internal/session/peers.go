package session

import (
	"sort"
	"sync"
	"time"

	"github.com/quillsync/quill/internal/index"
)

// Peer is one known remote device.
type Peer struct {
	DeviceID   string
	DeviceName string
	Addr       string
	LastSeen   time.Time

	// ancestor is the last snapshot this side and the peer converged on.
	// It is the evidence that lets reconciliation tell a deletion apart
	// from a new file.
	ancestor *index.Snapshot
}

// PeerRegistry tracks known peers by device id.
type PeerRegistry struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

// NewPeerRegistry creates an empty registry.
func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{peers: make(map[string]*Peer)}
}

// Upsert records a sighting of a peer, creating it on first contact.
func (pr *PeerRegistry) Upsert(deviceID, name, addr string) *Peer {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	p, ok := pr.peers[deviceID]
	if !ok {
		p = &Peer{DeviceID: deviceID}
		pr.peers[deviceID] = p
	}
	p.DeviceName = name
	p.Addr = addr
	p.LastSeen = time.Now()
	return p
}

// Get returns the peer with the given device id, if known.
func (pr *PeerRegistry) Get(deviceID string) (*Peer, bool) {
	pr.mu.RLock()
	defer pr.mu.RUnlock()
	p, ok := pr.peers[deviceID]
	return p, ok
}

// List returns all known peers, ordered by device id.
func (pr *PeerRegistry) List() []*Peer {
	pr.mu.RLock()
	defer pr.mu.RUnlock()
	out := make([]*Peer, 0, len(pr.peers))
	for _, p := range pr.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Ancestor returns the last converged snapshot for a peer, or nil before the
// first completed sync.
func (pr *PeerRegistry) Ancestor(deviceID string) *index.Snapshot {
	pr.mu.RLock()
	defer pr.mu.RUnlock()
	if p, ok := pr.peers[deviceID]; ok {
		return p.ancestor
	}
	return nil
}

// SetAncestor records the snapshot a completed sync converged on.
func (pr *PeerRegistry) SetAncestor(deviceID string, snap *index.Snapshot) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if p, ok := pr.peers[deviceID]; ok {
		p.ancestor = snap
	}
}
