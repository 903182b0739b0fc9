// Package reservation implements the reservation index (C4): O(1) lookup
// by MAC, DUID, Option82 fingerprint, and Option1837 fingerprint, built
// once per generation and published atomically so readers never block on
// a rebuild. The swap mechanism is grounded on the original Rust
// implementation's Arc<ArcSwap<ReservationDb>>, translated to Go's
// atomic.Pointer.
package reservation

import (
	"fmt"
	"sync/atomic"

	"github.com/shadowisp/dhcpreserved/internal/model"
)

// Index is an immutable snapshot of the reservation set, indexed four
// ways. Once built it is never mutated — reload/replace build a new Index
// and swap it in.
type Index struct {
	byMAC        map[string]*model.Reservation
	byDUID       map[string]*model.Reservation
	byOption82   map[string]*model.Reservation
	byOption1837 map[string]*model.Reservation
	count        int
}

// Build validates and indexes a reservation list. The last reservation to
// claim a given key wins — duplicate-reservation detection is explicitly
// out of scope; this mirrors the original ReservationDb's insert
// semantics, which simply overwrites on collision.
func Build(reservations []*model.Reservation) (*Index, error) {
	idx := &Index{
		byMAC:        make(map[string]*model.Reservation, len(reservations)),
		byDUID:       make(map[string]*model.Reservation, len(reservations)),
		byOption82:   make(map[string]*model.Reservation, len(reservations)),
		byOption1837: make(map[string]*model.Reservation, len(reservations)),
	}
	for i, r := range reservations {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("reservation index: entry %d: %w", i, err)
		}
		if r.MAC != nil {
			idx.byMAC[r.MAC.String()] = r
		}
		if r.DUID != nil {
			idx.byDUID[r.DUID.Key()] = r
		}
		if r.Option82 != nil {
			idx.byOption82[model.Option82Key(*r.Option82)] = r
		}
		if r.Option1837 != nil {
			idx.byOption1837[model.Option1837Key(*r.Option1837)] = r
		}
		idx.count = i + 1
	}
	return idx, nil
}

func (idx *Index) ByMAC(mac string) (*model.Reservation, bool) {
	r, ok := idx.byMAC[mac]
	return r, ok
}

func (idx *Index) ByDUID(d model.Duid) (*model.Reservation, bool) {
	r, ok := idx.byDUID[d.Key()]
	return r, ok
}

func (idx *Index) ByOption82(o model.Option82Fields) (*model.Reservation, bool) {
	r, ok := idx.byOption82[model.Option82Key(o)]
	return r, ok
}

func (idx *Index) ByOption1837(o model.Option1837Fields) (*model.Reservation, bool) {
	r, ok := idx.byOption1837[model.Option1837Key(o)]
	return r, ok
}

// Count returns the number of reservations this snapshot was built from.
func (idx *Index) Count() int { return idx.count }

// Manager owns the hot-swappable current Index. Reads never block on a
// rebuild; a new generation replaces the previous one with a single
// atomic pointer store.
type Manager struct {
	current atomic.Pointer[Index]
}

// NewManager returns a Manager with an empty initial Index, so a reader
// started before the first Load never observes a nil pointer.
func NewManager() *Manager {
	m := &Manager{}
	empty, _ := Build(nil)
	m.current.Store(empty)
	return m
}

// Load returns the currently published snapshot.
func (m *Manager) Load() *Index {
	return m.current.Load()
}

// Replace builds a new Index from reservations and atomically publishes
// it, returning the new generation's reservation count. Readers already
// holding a pointer to the prior snapshot keep using it until they call
// Load again — no reader ever blocks on this call.
func (m *Manager) Replace(reservations []*model.Reservation) (int, error) {
	idx, err := Build(reservations)
	if err != nil {
		return 0, err
	}
	m.current.Store(idx)
	return idx.Count(), nil
}
