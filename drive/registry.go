package drive

import (
	"fmt"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/7hebel/drivecord-server/platform"
)

// Registry holds one drive instance per chat server. Initialization is
// memoized: the first requester performs the load while concurrent
// requesters for the same server share the result, guarding against
// torn bucket scans. A drive that panicked stays poisoned until it is
// evicted.
type Registry struct {
	p  platform.Platform
	sf singleflight.Group

	mu       sync.Mutex
	ready    map[uint64]*Drive
	poisoned map[uint64]string
}

// NewRegistry creates an empty drive registry over a platform.
func NewRegistry(p platform.Platform) *Registry {
	return &Registry{
		p:        p,
		ready:    make(map[uint64]*Drive),
		poisoned: make(map[uint64]string),
	}
}

// Get returns the drive of a server, loading it on first access.
// Concurrent callers for the same server await a single load.
func (r *Registry) Get(serverID uint64) (*Drive, error) {
	r.mu.Lock()
	if reason, bad := r.poisoned[serverID]; bad {
		r.mu.Unlock()
		return nil, fmt.Errorf("drive %d is poisoned: %s", serverID, reason)
	}
	if d, ok := r.ready[serverID]; ok {
		r.mu.Unlock()
		return d, nil
	}
	r.mu.Unlock()

	v, err, _ := r.sf.Do(strconv.FormatUint(serverID, 10), func() (interface{}, error) {
		d, err := Load(r.p, serverID)
		if err != nil {
			return nil, err
		}
		d.onPanic = func(reason string) { r.Poison(serverID, reason) }

		r.mu.Lock()
		r.ready[serverID] = d
		r.mu.Unlock()
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Drive), nil
}

// Lookup returns an already-loaded drive without triggering a load.
func (r *Registry) Lookup(serverID uint64) (*Drive, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.ready[serverID]
	return d, ok
}

// Poison marks a server's drive as failed. Further Get calls report the
// reason until the entry is evicted.
func (r *Registry) Poison(serverID uint64, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ready, serverID)
	r.poisoned[serverID] = reason
}

// Evict forgets a server entirely, ready or poisoned. Used when the
// client is removed from the server.
func (r *Registry) Evict(serverID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ready, serverID)
	delete(r.poisoned, serverID)
}
