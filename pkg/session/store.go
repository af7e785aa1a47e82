package session

import "sync"

// subscriberBuffer is how many snapshots a subscriber may fall behind before
// older ones are dropped in favor of newer.
const subscriberBuffer = 8

// Store holds the canonical session state and fans full snapshots out to
// subscribers on every replacement. Observers never receive deltas; a slow
// observer loses intermediate snapshots, not the latest one.
type Store struct {
	mu    sync.RWMutex
	state State
	subs  map[int]chan State
	next  int
}

// NewStore constructs a Store holding an empty snapshot.
func NewStore() *Store {
	return &Store{
		state: Snapshot(nil),
		subs:  make(map[int]chan State),
	}
}

// Replace overwrites the canonical state and notifies every subscriber with
// the new snapshot. Each externally observable mutation must funnel into
// exactly one Replace call.
func (s *Store) Replace(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	for _, ch := range s.subs {
		select {
		case ch <- state:
		default:
			// Full buffer: evict the oldest pending snapshot so the
			// subscriber always converges on the latest state.
			select {
			case <-ch:
			default:
			}
			ch <- state
		}
	}
}

// Current returns the latest snapshot.
func (s *Store) Current() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe registers an observer. The channel immediately carries the
// current snapshot, then one entry per Replace. The returned cancel function
// unregisters the observer and closes the channel.
func (s *Store) Subscribe() (<-chan State, func()) {
	s.mu.Lock()
	id := s.next
	s.next++
	ch := make(chan State, subscriberBuffer)
	ch <- s.state
	s.subs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}
