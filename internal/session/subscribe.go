package session

import "github.com/netprobe-io/netprobe/internal/domain"

// subscriber buffer; a consumer that stalls for longer than this simply
// misses events, it never stalls the aggregation path
const subscriberBuffer = 64

// Subscribe returns a live stream of probe results and a cancel function.
// The stream is best-effort: delivery to subscribers is non-blocking and
// events are dropped when a subscriber's buffer is full. The channel is
// closed when the subscription is cancelled or the session stops.
func (s *Session) Subscribe() (<-chan domain.ProbeResult, func()) {
	ch := make(chan domain.ProbeResult, subscriberBuffer)

	s.subMu.Lock()
	s.subSeq++
	id := s.subSeq
	if s.subs == nil {
		// session already stopped; hand back a closed channel
		s.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[id] = ch
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
		s.subMu.Unlock()
	}
	return ch, cancel
}

func (s *Session) publish(r domain.ProbeResult) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- r:
		default:
		}
	}
}

func (s *Session) closeSubscribers() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.subs = nil
}
