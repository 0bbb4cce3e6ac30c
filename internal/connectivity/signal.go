// Package connectivity tracks whether the ecofleet API is reachable.
package connectivity

import (
	"sync"

	"github.com/ecofleet-io/ecofleet/internal/pkg/metrics"
	"github.com/ecofleet-io/ecofleet/pkg/log"
)

// Signal holds the current online state and fans transitions out to
// subscribers.
type Signal struct {
	mu     sync.Mutex
	online bool
	subs   map[int]chan bool
	next   int
}

// NewSignal returns a signal in the given initial state.
func NewSignal(online bool) *Signal {
	s := &Signal{online: online, subs: make(map[int]chan bool)}
	metrics.Online.Set(gauge(online))
	return s
}

// Online reports the current state.
func (s *Signal) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Set records the current state and reports whether it changed. Subscribers
// are only notified of changes.
func (s *Signal) Set(online bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.online == online {
		return false
	}
	s.online = online
	metrics.Online.Set(gauge(online))
	log.Info("Connectivity changed", "online", online)

	for _, ch := range s.subs {
		select {
		case ch <- online:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- online
		}
	}
	return true
}

// Subscribe returns a channel receiving the new state after each transition.
// A slow reader only sees the latest state. cancel closes the channel.
func (s *Signal) Subscribe() (<-chan bool, func()) {
	ch := make(chan bool, 1)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	cancel := sync.OnceFunc(func() {
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	})
	return ch, cancel
}

func gauge(online bool) float64 {
	if online {
		return 1
	}
	return 0
}
