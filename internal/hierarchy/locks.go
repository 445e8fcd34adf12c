package hierarchy

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/chantier-hq/chantier/internal/shared"
)

// regionSlots bounds how many site-scoped operations may run concurrently
// within one region. A region-scoped operation acquires every slot, so it
// excludes all site-scoped operations of that region.
const regionSlots = 64

type lockTable struct {
	mu      sync.Mutex
	regions map[string]*semaphore.Weighted
	sites   map[string]*semaphore.Weighted
}

func newLockTable() *lockTable {
	return &lockTable{
		regions: make(map[string]*semaphore.Weighted),
		sites:   make(map[string]*semaphore.Weighted),
	}
}

func (t *lockTable) region(id string) *semaphore.Weighted {
	t.mu.Lock()
	defer t.mu.Unlock()
	sem, ok := t.regions[id]
	if !ok {
		sem = semaphore.NewWeighted(regionSlots)
		t.regions[id] = sem
	}
	return sem
}

func (t *lockTable) site(id string) *semaphore.Weighted {
	t.mu.Lock()
	defer t.mu.Unlock()
	sem, ok := t.sites[id]
	if !ok {
		sem = semaphore.NewWeighted(1)
		t.sites[id] = sem
	}
	return sem
}

// acquisition records held semaphores so a partial acquire can be unwound.
type acquisition struct {
	sems    []*semaphore.Weighted
	weights []int64
}

func (a *acquisition) hold(sem *semaphore.Weighted, weight int64) {
	a.sems = append(a.sems, sem)
	a.weights = append(a.weights, weight)
}

func (a *acquisition) release() {
	for i := len(a.sems) - 1; i >= 0; i-- {
		a.sems[i].Release(a.weights[i])
	}
	a.sems = nil
	a.weights = nil
}

// acquire obtains the given weight on sem within the bounded wait of ctx,
// mapping a timeout to ErrBusy.
func acquire(ctx context.Context, a *acquisition, sem *semaphore.Weighted, weight int64) error {
	if err := sem.Acquire(ctx, weight); err != nil {
		a.release()
		return shared.ErrBusy
	}
	a.hold(sem, weight)
	return nil
}
