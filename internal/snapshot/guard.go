package snapshot

import "sync"

// Ticket identifies one in-flight read of a logical query.
type Ticket struct {
	key string
	gen uint64
}

// Guard discards responses of reads that were superseded by a newer read of
// the same query. Begin a ticket before issuing the read and Commit the
// result with it.
type Guard struct {
	mu   sync.Mutex
	gens map[string]uint64
}

func NewGuard() *Guard {
	return &Guard{gens: make(map[string]uint64)}
}

// Begin supersedes every earlier ticket of key.
func (g *Guard) Begin(key string) Ticket {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.gens[key]++
	return Ticket{key: key, gen: g.gens[key]}
}

// Current reports whether t is still the latest ticket of its query.
func (g *Guard) Current(t Ticket) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gens[t.key] == t.gen
}

// Commit runs apply only if t is still current, and keeps newer tickets from
// committing until apply returns. It reports whether apply ran.
func (g *Guard) Commit(t Ticket, apply func() error) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.gens[t.key] != t.gen {
		return false, nil
	}
	return true, apply()
}
