package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/resilience"
)

// maxObjectSize bounds a single shard download.
const maxObjectSize = 64 << 20

// errRejected marks 4xx answers other than 404: the host is up but refuses
// the request.
var errRejected = errors.New("request rejected")

// HTTPStore fetches objects from a published documentation site. It is
// read-only.
type HTTPStore struct {
	baseURL string
	client  *http.Client
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// NewHTTPStore returns a store reading below baseURL. Transient failures are
// retried; with a non-nil breaker, repeated host failures make later Gets fail
// fast with resilience.ErrCircuitOpen.
func NewHTTPStore(baseURL string, client *http.Client, retry resilience.RetryConfig, breaker *resilience.CircuitBreaker) *HTTPStore {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		retry:   retry,
		breaker: breaker,
	}
}

// IsHostFailure reports whether err means the host itself is unhealthy, as
// opposed to a missing or refused object.
func IsHostFailure(err error) bool {
	return !errors.Is(err, apperrors.ErrNotFound) && !errors.Is(err, errRejected)
}

func (s *HTTPStore) Get(ctx context.Context, name string) ([]byte, error) {
	if s.breaker == nil {
		return s.fetch(ctx, name)
	}
	var body []byte
	err := s.breaker.Execute(func() error {
		var err error
		body, err = s.fetch(ctx, name)
		return err
	})
	return body, err
}

func (s *HTTPStore) fetch(ctx context.Context, name string) ([]byte, error) {
	target := s.baseURL + "/" + url.PathEscape(name)
	var body []byte
	err := resilience.Retry(ctx, "http-get "+name, s.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return resilience.Permanent(fmt.Errorf("building request: %w", err))
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("GET %s: %w", target, err)
		}
		defer resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return resilience.Permanent(fmt.Errorf("GET %s: %w", target, apperrors.ErrNotFound))
		case resp.StatusCode >= 500:
			return fmt.Errorf("GET %s: status %d", target, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return resilience.Permanent(fmt.Errorf("GET %s: status %d: %w", target, resp.StatusCode, errRejected))
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxObjectSize+1))
		if err != nil {
			return fmt.Errorf("reading %s: %w", target, err)
		}
		if len(data) > maxObjectSize {
			return resilience.Permanent(fmt.Errorf("GET %s: object exceeds %d bytes", target, maxObjectSize))
		}
		body = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (s *HTTPStore) Put(ctx context.Context, name string, data []byte) error {
	return fmt.Errorf("http store: put %s: %w", name, apperrors.ErrUnsupported)
}

func (s *HTTPStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
