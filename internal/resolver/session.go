package resolver

import (
	"context"
	"sync"

	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/logger"
)

// Session serialises the queries of one search box. Every query gets a
// sequence number; issuing a new query cancels the previous one, and a
// response is only published if no newer query was issued while it ran.
type Session struct {
	resolver *Resolver

	mu      sync.Mutex
	latest  uint64
	cancel  context.CancelFunc
	current *Response
}

func NewSession(r *Resolver) *Session {
	return &Session{resolver: r}
}

// Search runs raw as the newest query of the session. A response overtaken by
// a newer query is discarded and ErrSuperseded is returned instead.
func (s *Session) Search(ctx context.Context, raw string) (*Response, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.latest++
	seq := s.latest
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.mu.Unlock()

	resp, err := s.resolver.Search(logger.WithQuerySeq(ctx, seq), raw)

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.latest {
		if m := s.resolver.metrics; m != nil {
			m.SearchSuperseded.Inc()
		}
		return nil, apperrors.ErrSuperseded
	}
	s.cancel = nil
	if err != nil {
		return nil, err
	}
	resp.Seq = seq
	s.current = resp
	return resp, nil
}

// Current returns the newest published response, or nil before the first.
func (s *Session) Current() *Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Latest returns the sequence number of the most recently issued query.
func (s *Session) Latest() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}
