package messaging

import (
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Handle is a live, in-process connection for one tenant. Handles are never
// persisted and never leave the process.
type Handle struct {
	TenantID    int64
	Transport   Transport
	PhoneNumber string
	OpenedAt    time.Time
}

// Registry is the process-wide arbiter of "is there a live connection for
// tenant X". At most one handle exists per tenant; concurrent connect
// attempts for the same tenant are collapsed through a singleflight group.
type Registry struct {
	mu    sync.RWMutex
	conns map[int64]*Handle
	group singleflight.Group
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[int64]*Handle)}
}

func (r *Registry) Get(tenantID int64) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.conns[tenantID]
	return h, ok
}

func (r *Registry) Set(tenantID int64, h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[tenantID] = h
}

func (r *Registry) Remove(tenantID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, tenantID)
}

// Len returns the number of live handles across all tenants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Range calls fn for every live handle until fn returns false.
func (r *Registry) Range(fn func(tenantID int64, h *Handle) bool) {
	r.mu.RLock()
	snapshot := make(map[int64]*Handle, len(r.conns))
	for id, h := range r.conns {
		snapshot[id] = h
	}
	r.mu.RUnlock()
	for id, h := range snapshot {
		if !fn(id, h) {
			return
		}
	}
}

// DoConnect serializes connection establishment per tenant: concurrent
// callers share a single in-flight fn execution and its result.
func (r *Registry) DoConnect(tenantID int64, fn func() (interface{}, error)) (interface{}, error) {
	v, err, _ := r.group.Do(strconv.FormatInt(tenantID, 10), fn)
	return v, err
}
