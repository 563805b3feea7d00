package messaging

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestRegistryGetSetRemove(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get(1); ok {
		t.Fatal("empty registry returned a handle")
	}
	h := &Handle{TenantID: 1}
	r.Set(1, h)
	got, ok := r.Get(1)
	if !ok || got != h {
		t.Fatal("stored handle not returned")
	}
	if r.Len() != 1 {
		t.Fatalf("len = %d", r.Len())
	}
	r.Remove(1)
	if _, ok := r.Get(1); ok {
		t.Fatal("removed handle still present")
	}
}

func TestRegistryAtMostOneConnect(t *testing.T) {
	r := NewRegistry()
	var established int32

	const callers = 16
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := r.DoConnect(1, func() (interface{}, error) {
				if _, ok := r.Get(1); ok {
					return nil, nil
				}
				atomic.AddInt32(&established, 1)
				r.Set(1, &Handle{TenantID: 1})
				return nil, nil
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if established != 1 {
		t.Fatalf("%d connections established, want exactly 1", established)
	}
	if r.Len() != 1 {
		t.Fatalf("registry holds %d handles", r.Len())
	}
}

func TestRegistryConnectsIndependentAcrossTenants(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for id := int64(1); id <= 8; id++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, _ = r.DoConnect(id, func() (interface{}, error) {
				r.Set(id, &Handle{TenantID: id})
				return nil, nil
			})
		}(id)
	}
	wg.Wait()
	if r.Len() != 8 {
		t.Fatalf("len = %d, want 8", r.Len())
	}
}

func TestRegistryRange(t *testing.T) {
	r := NewRegistry()
	r.Set(1, &Handle{TenantID: 1})
	r.Set(2, &Handle{TenantID: 2})
	seen := 0
	r.Range(func(tenantID int64, h *Handle) bool {
		seen++
		return true
	})
	if seen != 2 {
		t.Fatalf("ranged over %d handles", seen)
	}
}
