package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"cookieconsent/internal/webhook/metrics"
)

type DispatcherSuite struct {
	suite.Suite
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

func (s *DispatcherSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.metrics = metrics.NewWithRegistry(prometheus.NewRegistry())
}

func (s *DispatcherSuite) newDispatcher(opts ...Option) *Dispatcher {
	return New(append([]Option{WithLogger(s.logger), WithMetrics(s.metrics)}, opts...)...)
}

type capture struct {
	mu      sync.Mutex
	bodies  []map[string]any
	headers []http.Header
}

func (c *capture) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.headers = append(c.headers, r.Header.Clone())
		c.mu.Unlock()
		w.WriteHeader(status)
	}
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func (s *DispatcherSuite) TestDeliversJSONPayload() {
	rec := &capture{}
	srv := httptest.NewServer(rec.handler(http.StatusOK))
	defer srv.Close()

	d := s.newDispatcher(WithWorkers(2))
	d.Start()

	ok := d.Enqueue(Delivery{
		URL:       srv.URL,
		Event:     "created",
		Payload:   map[string]any{"consent_id": "c-1", "action": "created"},
		RequestID: "req-1",
	})
	s.Require().True(ok)
	s.Require().NoError(d.Shutdown(context.Background()))

	s.Require().Equal(1, rec.count())
	s.Equal("c-1", rec.bodies[0]["consent_id"])
	s.Equal("application/json", rec.headers[0].Get("Content-Type"))
	s.Equal("created", rec.headers[0].Get("X-Consent-Event"))
	s.Equal("req-1", rec.headers[0].Get("X-Request-ID"))
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Delivered))
}

func (s *DispatcherSuite) TestNon2xxIsCountedNotRetried() {
	rec := &capture{}
	srv := httptest.NewServer(rec.handler(http.StatusInternalServerError))
	defer srv.Close()

	d := s.newDispatcher()
	d.Start()
	s.Require().True(d.Enqueue(Delivery{URL: srv.URL, Event: "updated", Payload: map[string]any{}}))
	s.Require().NoError(d.Shutdown(context.Background()))

	s.Equal(1, rec.count())
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Failed.WithLabelValues("status")))
	s.Equal(0.0, promtest.ToFloat64(s.metrics.Delivered))
}

func (s *DispatcherSuite) TestTimeoutIsBounded() {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	d := s.newDispatcher(WithTimeout(50 * time.Millisecond))
	d.Start()
	s.Require().True(d.Enqueue(Delivery{URL: srv.URL, Payload: map[string]any{}}))

	start := time.Now()
	s.Require().NoError(d.Shutdown(context.Background()))
	s.Less(time.Since(start), 2*time.Second)
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Failed.WithLabelValues("timeout")))
}

func (s *DispatcherSuite) TestFullQueueDropsWithoutBlocking() {
	d := s.newDispatcher(WithQueueSize(1))

	s.True(d.Enqueue(Delivery{URL: "http://127.0.0.1:1/hook", Payload: 1}))
	start := time.Now()
	s.False(d.Enqueue(Delivery{URL: "http://127.0.0.1:1/hook", Payload: 2}))
	s.Less(time.Since(start), 100*time.Millisecond)
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Dropped.WithLabelValues("queue_full")))
}

func (s *DispatcherSuite) TestRejectsInvalidURLs() {
	d := s.newDispatcher()
	for _, raw := range []string{"", "ftp://example.com/x", "/relative", "http://"} {
		s.False(d.Enqueue(Delivery{URL: raw}), raw)
	}
	s.Equal(4.0, promtest.ToFloat64(s.metrics.Dropped.WithLabelValues("invalid_url")))
}

func (s *DispatcherSuite) TestEnqueueAfterShutdownDrops() {
	d := s.newDispatcher()
	d.Start()
	s.Require().NoError(d.Shutdown(context.Background()))
	s.False(d.Enqueue(Delivery{URL: "https://example.com/hook"}))
	s.NoError(d.Shutdown(context.Background()), "second shutdown is a no-op")
}

func (s *DispatcherSuite) TestShutdownDeadlineAbandonsPending() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	d := s.newDispatcher(WithWorkers(1), WithTimeout(time.Minute))
	d.Start()
	for i := 0; i < 3; i++ {
		s.Require().True(d.Enqueue(Delivery{URL: srv.URL, Payload: i}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := d.Shutdown(ctx)
	s.ErrorIs(err, context.DeadlineExceeded)
}

func TestValidURL(t *testing.T) {
	assert.True(t, ValidURL("https://hooks.example.com/consent"))
	assert.True(t, ValidURL("http://localhost:9000/x"))
	assert.False(t, ValidURL("mailto:ops@example.com"))
	assert.False(t, ValidURL("::::"))
}

func TestFailureReason(t *testing.T) {
	require.Equal(t, "timeout", failureReason(context.DeadlineExceeded))
	require.Equal(t, "transport", failureReason(io.ErrUnexpectedEOF))
}
