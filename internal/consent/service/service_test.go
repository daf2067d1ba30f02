package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"cookieconsent/internal/consent/metrics"
	"cookieconsent/internal/consent/models"
	consentstore "cookieconsent/internal/consent/store/consent"
	historystore "cookieconsent/internal/consent/store/history"
	scriptmodels "cookieconsent/internal/scriptconfig/models"
	"cookieconsent/internal/webhook"
	id "cookieconsent/pkg/domain"
	dErrors "cookieconsent/pkg/domain-errors"
	"cookieconsent/pkg/platform/sentinel"
	"cookieconsent/pkg/requestcontext"
)

type recordingNotifier struct {
	mu         sync.Mutex
	deliveries []webhook.Delivery
}

func (n *recordingNotifier) Enqueue(d webhook.Delivery) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliveries = append(n.deliveries, d)
	return true
}

func (n *recordingNotifier) all() []webhook.Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]webhook.Delivery(nil), n.deliveries...)
}

type recordingPublisher struct {
	mu      sync.Mutex
	entries []*models.HistoryEntry
}

func (p *recordingPublisher) Publish(_ context.Context, e *models.HistoryEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, e)
}

type stubScripts struct {
	configs map[string]*scriptmodels.ScriptConfig
	err     error
}

func (s *stubScripts) Resolve(_ context.Context, tenantID id.TenantID, scriptID string) (*scriptmodels.ScriptConfig, error) {
	if s.err != nil {
		return nil, s.err
	}
	cfg, ok := s.configs[scriptID]
	if !ok || cfg.TenantID != tenantID {
		return nil, dErrors.New(dErrors.CodeNotFound, "script config not found")
	}
	return cfg, nil
}

// failingHistory accepts nothing, to exercise storage failure mapping.
type failingHistory struct {
	*historystore.InMemory
}

func (failingHistory) Append(context.Context, *models.HistoryEntry) error {
	return errors.New("disk full")
}

type ServiceSuite struct {
	suite.Suite
	now       time.Time
	ctx       context.Context
	tenant    *id.TenantIdentity
	consents  *consentstore.InMemory
	history   *historystore.InMemory
	notifier  *recordingNotifier
	publisher *recordingPublisher
	scripts   *stubScripts
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	service   *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.ctx = requestcontext.WithRequestID(s.ctx, "req-1")
	s.tenant = &id.TenantIdentity{ID: id.TenantID(uuid.New()), Name: "Acme", Active: true}
	s.consents = consentstore.NewInMemory()
	s.history = historystore.NewInMemory()
	s.notifier = &recordingNotifier{}
	s.publisher = &recordingPublisher{}
	s.scripts = &stubScripts{configs: map[string]*scriptmodels.ScriptConfig{
		"with-hook": {ScriptID: "with-hook", TenantID: s.tenant.ID, WebhookURL: "https://hooks.example.com/consent", IsActive: true},
		"no-hook":   {ScriptID: "no-hook", TenantID: s.tenant.ID, IsActive: true},
	}}
	s.registry = prometheus.NewRegistry()
	s.metrics = metrics.NewWithRegistry(s.registry)
	s.service = s.newService(s.history)
}

func (s *ServiceSuite) newService(history HistoryStore) *Service {
	return New(s.consents, history,
		WithScriptResolver(s.scripts),
		WithNotifier(s.notifier),
		WithEventPublisher(s.publisher),
		WithMetrics(s.metrics),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func (s *ServiceSuite) at(t time.Time) context.Context {
	return requestcontext.WithTime(s.ctx, t)
}

func (s *ServiceSuite) create(sessionID, scriptID string) *models.ConsentReceipt {
	receipt, err := s.service.Create(s.ctx, s.tenant, &models.CreateConsentRequest{
		SessionID:  sessionID,
		ScriptID:   scriptID,
		Categories: models.Categories{"analytics": true},
	})
	s.Require().NoError(err)
	return receipt
}

func (s *ServiceSuite) TestCreate() {
	s.Run("records consent with expiry and history", func() {
		receipt, err := s.service.Create(s.ctx, s.tenant, &models.CreateConsentRequest{
			SessionID:  " s-1 ",
			Categories: models.Categories{"analytics": true, "marketing": false},
			IPAddress:  "203.0.113.7",
			UserAgent:  "Mozilla/5.0 (X11; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0",
		})
		s.Require().NoError(err)
		s.Equal(models.StatusActive, receipt.Status)
		s.Equal(s.now, receipt.Timestamp)
		s.Require().NotNil(receipt.ExpiresAt)
		s.Equal(s.now.Add(DefaultConsentTTL), *receipt.ExpiresAt)

		consentID, err := id.ParseConsentID(receipt.ConsentID)
		s.Require().NoError(err)
		stored, err := s.consents.FindByID(s.ctx, s.tenant.ID, consentID)
		s.Require().NoError(err)
		s.Equal("s-1", stored.SessionID)
		s.Equal("203.0.113.7", stored.IPAddress)

		entries, err := s.history.ListByConsent(s.ctx, s.tenant.ID, consentID)
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal(models.ActionCreated, entries[0].Action)
		s.Nil(entries[0].PreviousCategories)
		s.Equal(models.Categories{"analytics": true, "marketing": false}, entries[0].NewCategories)
		s.Equal(true, entries[0].NewCategories["analytics"])
		s.Contains(entries[0].Metadata["browser"], "Firefox")
		s.Nil(entries[0].Metadata["referer"])
	})

	s.Run("custom action is stored in history only", func() {
		receipt, err := s.service.Create(s.ctx, s.tenant, &models.CreateConsentRequest{
			SessionID:  "s-custom",
			ScriptID:   "with-hook",
			Action:     "accept_all",
			Categories: models.Categories{"analytics": true},
		})
		s.Require().NoError(err)
		consentID, _ := id.ParseConsentID(receipt.ConsentID)
		entries, _ := s.history.ListByConsent(s.ctx, s.tenant.ID, consentID)
		s.Require().Len(entries, 1)
		s.Equal("accept_all", entries[0].Action)

		deliveries := s.notifier.all()
		s.Require().NotEmpty(deliveries)
		s.Equal(models.ActionCreated, deliveries[len(deliveries)-1].Event)
	})

	s.Run("observed client ip is used when none supplied", func() {
		ctx := requestcontext.WithClientMetadata(s.ctx, "198.51.100.4", "curl/8.0")
		receipt, err := s.service.Create(ctx, s.tenant, &models.CreateConsentRequest{SessionID: "s-ip", Categories: models.Categories{}})
		s.Require().NoError(err)
		consentID, _ := id.ParseConsentID(receipt.ConsentID)
		stored, _ := s.consents.FindByID(s.ctx, s.tenant.ID, consentID)
		s.Equal("198.51.100.4", stored.IPAddress)
		s.Empty(stored.UserAgent)
	})

	s.Run("unparseable observed ip is dropped", func() {
		ctx := requestcontext.WithClientMetadata(s.ctx, "unknown", "")
		receipt, err := s.service.Create(ctx, s.tenant, &models.CreateConsentRequest{SessionID: "s-noip", Categories: models.Categories{}})
		s.Require().NoError(err)
		consentID, _ := id.ParseConsentID(receipt.ConsentID)
		stored, _ := s.consents.FindByID(s.ctx, s.tenant.ID, consentID)
		s.Empty(stored.IPAddress)
	})

	s.Run("missing session is invalid input", func() {
		_, err := s.service.Create(s.ctx, s.tenant, &models.CreateConsentRequest{})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("nil request is a bad request", func() {
		_, err := s.service.Create(s.ctx, s.tenant, nil)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("unauthenticated caller is rejected", func() {
		_, err := s.service.Create(s.ctx, nil, &models.CreateConsentRequest{SessionID: "x"})
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

		expired := s.now.Add(-time.Minute)
		_, err = s.service.Create(s.ctx, &id.TenantIdentity{ID: s.tenant.ID, Active: true, ExpiresAt: &expired}, &models.CreateConsentRequest{SessionID: "x"})
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *ServiceSuite) TestCreateNotifies() {
	s.Run("webhook receives created event", func() {
		receipt := s.create("s-hook", "with-hook")
		deliveries := s.notifier.all()
		s.Require().Len(deliveries, 1)
		d := deliveries[0]
		s.Equal("https://hooks.example.com/consent", d.URL)
		s.Equal(models.ActionCreated, d.Event)
		s.Equal("req-1", d.RequestID)
		event, ok := d.Payload.(models.ConsentEvent)
		s.Require().True(ok)
		s.Equal(receipt.ConsentID, event.ConsentID)
		s.Equal("s-hook", event.SessionID)
	})

	s.Run("no webhook configured means no delivery", func() {
		s.create("s-nohook", "no-hook")
		s.create("s-unknown", "missing-script")
		s.Len(s.notifier.all(), 1)
	})

	s.Run("script lookup failure does not fail the write", func() {
		s.scripts.err = errors.New("redis down")
		defer func() { s.scripts.err = nil }()
		s.create("s-degraded", "with-hook")
		s.Len(s.notifier.all(), 1)
	})

	s.Run("every committed change is published", func() {
		s.Len(s.publisher.entries, 4)
	})
}

func (s *ServiceSuite) TestCreateWithFailingWebhook() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	release := make(chan struct{})
	attempted := make(chan struct{}, 1)
	hanging := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case attempted <- struct{}{}:
		default:
		}
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	unreachable := httptest.NewServer(http.NotFoundHandler())
	unreachable.Close()

	dispatcher := webhook.New(
		webhook.WithWorkers(1),
		webhook.WithQueueSize(4),
		webhook.WithTimeout(5*time.Second),
		webhook.WithLogger(logger),
	)
	dispatcher.Start()
	defer func() {
		close(release)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = dispatcher.Shutdown(ctx)
		hanging.Close()
	}()

	s.scripts.configs["hanging"] = &scriptmodels.ScriptConfig{ScriptID: "hanging", TenantID: s.tenant.ID, WebhookURL: hanging.URL, IsActive: true}
	s.scripts.configs["unreachable"] = &scriptmodels.ScriptConfig{ScriptID: "unreachable", TenantID: s.tenant.ID, WebhookURL: unreachable.URL, IsActive: true}
	svc := New(s.consents, s.history,
		WithScriptResolver(s.scripts),
		WithNotifier(dispatcher),
		WithLogger(logger),
	)

	for _, scriptID := range []string{"hanging", "unreachable"} {
		s.Run(scriptID+" endpoint leaves the receipt untouched", func() {
			started := time.Now()
			receipt, err := svc.Create(s.ctx, s.tenant, &models.CreateConsentRequest{
				SessionID:  "s-" + scriptID,
				ScriptID:   scriptID,
				Categories: models.Categories{"analytics": true},
			})
			elapsed := time.Since(started)

			s.Require().NoError(err)
			s.Less(elapsed, time.Second)
			s.NotEmpty(receipt.ConsentID)
			s.Equal(models.StatusActive, receipt.Status)
			s.Equal(s.now, receipt.Timestamp)
			s.Require().NotNil(receipt.ExpiresAt)
			s.Equal(s.now.Add(DefaultConsentTTL), *receipt.ExpiresAt)

			status, err := svc.Check(s.ctx, s.tenant, "s-"+scriptID, "")
			s.Require().NoError(err)
			s.Equal(receipt.ConsentID, status.ConsentID)
		})
	}

	select {
	case <-attempted:
	case <-time.After(2 * time.Second):
		s.Fail("hanging webhook was never attempted")
	}
}

func (s *ServiceSuite) TestCheck() {
	s.Run("unknown session has no consent", func() {
		status, err := s.service.Check(s.ctx, s.tenant, "nobody", "")
		s.Require().NoError(err)
		s.False(status.HasConsent)
		s.Empty(status.ConsentID)
		s.Nil(status.LastUpdated)
	})

	s.Run("active consent is reported", func() {
		receipt := s.create("s-check", "")
		status, err := s.service.Check(s.ctx, s.tenant, "s-check", "")
		s.Require().NoError(err)
		s.True(status.HasConsent)
		s.Equal(receipt.ConsentID, status.ConsentID)
		s.Equal(true, status.Categories["analytics"])
		s.Require().NotNil(status.LastUpdated)
		s.Equal(s.now, *status.LastUpdated)
	})

	s.Run("newest consent wins", func() {
		s.create("s-multi", "")
		later := s.at(s.now.Add(time.Minute))
		receipt, err := s.service.Create(later, s.tenant, &models.CreateConsentRequest{
			SessionID:  "s-multi",
			Categories: models.Categories{"analytics": false},
		})
		s.Require().NoError(err)
		status, err := s.service.Check(later, s.tenant, "s-multi", "")
		s.Require().NoError(err)
		s.Equal(receipt.ConsentID, status.ConsentID)
		s.Equal(false, status.Categories["analytics"])
	})

	s.Run("script filter narrows the lookup", func() {
		s.create("s-scripted", "no-hook")
		status, err := s.service.Check(s.ctx, s.tenant, "s-scripted", "other-script")
		s.Require().NoError(err)
		s.False(status.HasConsent)
		status, err = s.service.Check(s.ctx, s.tenant, "s-scripted", "no-hook")
		s.Require().NoError(err)
		s.True(status.HasConsent)
	})

	s.Run("expired consent is not effective", func() {
		s.create("s-expiring", "")
		status, err := s.service.Check(s.at(s.now.Add(DefaultConsentTTL)), s.tenant, "s-expiring", "")
		s.Require().NoError(err)
		s.False(status.HasConsent)
	})

	s.Run("another tenant cannot see the consent", func() {
		s.create("s-private", "")
		other := &id.TenantIdentity{ID: id.TenantID(uuid.New()), Active: true}
		status, err := s.service.Check(s.ctx, other, "s-private", "")
		s.Require().NoError(err)
		s.False(status.HasConsent)
	})

	s.Run("repeated checks are identical", func() {
		s.create("s-repeat", "")
		first, err := s.service.Check(s.ctx, s.tenant, "s-repeat", "")
		s.Require().NoError(err)
		second, err := s.service.Check(s.ctx, s.tenant, "s-repeat", "")
		s.Require().NoError(err)

		a, err := json.Marshal(first)
		s.Require().NoError(err)
		b, err := json.Marshal(second)
		s.Require().NoError(err)
		s.JSONEq(string(a), string(b))
		s.Equal(a, b)
	})

	s.Run("empty categories are still returned", func() {
		_, err := s.service.Create(s.ctx, s.tenant, &models.CreateConsentRequest{SessionID: "s-empty", Categories: models.Categories{}})
		s.Require().NoError(err)
		status, err := s.service.Check(s.ctx, s.tenant, "s-empty", "")
		s.Require().NoError(err)

		body, err := json.Marshal(status)
		s.Require().NoError(err)
		s.Contains(string(body), `"categories":{}`)

		none, err := s.service.Check(s.ctx, s.tenant, "nobody", "")
		s.Require().NoError(err)
		body, err = json.Marshal(none)
		s.Require().NoError(err)
		s.JSONEq(`{"has_consent":false,"categories":null}`, string(body))
	})

	s.Run("session is required", func() {
		_, err := s.service.Check(s.ctx, s.tenant, "  ", "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("check results are counted", func() {
		s.GreaterOrEqual(promtest.ToFloat64(s.metrics.CheckResults.WithLabelValues("true")), 1.0)
		s.GreaterOrEqual(promtest.ToFloat64(s.metrics.CheckResults.WithLabelValues("false")), 1.0)
	})
}

func (s *ServiceSuite) TestUpdate() {
	s.Run("replaces categories and records previous ones", func() {
		receipt := s.create("s-upd", "with-hook")
		later := s.at(s.now.Add(time.Hour))

		updated, err := s.service.Update(later, s.tenant, receipt.ConsentID, &models.UpdateConsentRequest{
			Categories: models.Categories{"analytics": false},
		})
		s.Require().NoError(err)
		s.Equal(receipt.ConsentID, updated.ConsentID)
		s.Equal(s.now.Add(time.Hour), updated.Timestamp)
		s.Equal(*receipt.ExpiresAt, *updated.ExpiresAt)

		consentID, _ := id.ParseConsentID(receipt.ConsentID)
		stored, _ := s.consents.FindByID(s.ctx, s.tenant.ID, consentID)
		s.Equal(s.now, stored.CreatedAt)
		s.Equal("s-upd", stored.SessionID)
		s.Equal(false, stored.Categories["analytics"])

		entries, _ := s.history.ListByConsent(s.ctx, s.tenant.ID, consentID)
		s.Require().Len(entries, 2)
		s.Equal(models.ActionUpdated, entries[1].Action)
		s.Equal(true, entries[1].PreviousCategories["analytics"])
		s.Equal(false, entries[1].NewCategories["analytics"])

		deliveries := s.notifier.all()
		s.Require().Len(deliveries, 2)
		s.Equal(models.ActionUpdated, deliveries[1].Event)
	})

	s.Run("ip and user agent are kept unless supplied", func() {
		receipt, err := s.service.Create(s.ctx, s.tenant, &models.CreateConsentRequest{
			SessionID: "s-keep", IPAddress: "192.0.2.1", UserAgent: "ua-1", Categories: models.Categories{},
		})
		s.Require().NoError(err)
		_, err = s.service.Update(s.ctx, s.tenant, receipt.ConsentID, &models.UpdateConsentRequest{Categories: models.Categories{}})
		s.Require().NoError(err)
		consentID, _ := id.ParseConsentID(receipt.ConsentID)
		stored, _ := s.consents.FindByID(s.ctx, s.tenant.ID, consentID)
		s.Equal("192.0.2.1", stored.IPAddress)
		s.Equal("ua-1", stored.UserAgent)

		_, err = s.service.Update(s.ctx, s.tenant, receipt.ConsentID, &models.UpdateConsentRequest{Categories: models.Categories{}, IPAddress: "192.0.2.2"})
		s.Require().NoError(err)
		stored, _ = s.consents.FindByID(s.ctx, s.tenant.ID, consentID)
		s.Equal("192.0.2.2", stored.IPAddress)
		s.Equal("ua-1", stored.UserAgent)
	})

	s.Run("unknown or foreign consent is not found", func() {
		_, err := s.service.Update(s.ctx, s.tenant, uuid.NewString(), &models.UpdateConsentRequest{Categories: models.Categories{}})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		receipt := s.create("s-foreign", "")
		other := &id.TenantIdentity{ID: id.TenantID(uuid.New()), Active: true}
		_, err = s.service.Update(s.ctx, other, receipt.ConsentID, &models.UpdateConsentRequest{Categories: models.Categories{}})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("malformed id is invalid input", func() {
		_, err := s.service.Update(s.ctx, s.tenant, "not-a-uuid", &models.UpdateConsentRequest{Categories: models.Categories{}})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("concurrent updates each leave a history entry", func() {
		receipt := s.create("s-race", "")
		const writers = 20
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.service.Update(s.ctx, s.tenant, receipt.ConsentID, &models.UpdateConsentRequest{
					Categories: models.Categories{"writer": float64(i)},
				})
				s.NoError(err)
			}(i)
		}
		wg.Wait()

		consentID, _ := id.ParseConsentID(receipt.ConsentID)
		entries, err := s.history.ListByConsent(s.ctx, s.tenant.ID, consentID)
		s.Require().NoError(err)
		s.Len(entries, writers+1)
	})
}

func (s *ServiceSuite) TestRevoke() {
	s.Run("revoked consent stops being effective", func() {
		receipt := s.create("s-rev", "with-hook")
		later := s.at(s.now.Add(time.Minute))

		revoked, err := s.service.Revoke(later, s.tenant, receipt.ConsentID, nil)
		s.Require().NoError(err)
		s.Equal(models.StatusRevoked, revoked.Status)
		s.Equal(s.now.Add(time.Minute), revoked.Timestamp)

		status, err := s.service.Check(later, s.tenant, "s-rev", "")
		s.Require().NoError(err)
		s.False(status.HasConsent)

		consentID, _ := id.ParseConsentID(receipt.ConsentID)
		stored, _ := s.consents.FindByID(s.ctx, s.tenant.ID, consentID)
		s.Require().NotNil(stored.RevokedAt)
		s.Equal(true, stored.Categories["analytics"])

		entries, _ := s.history.ListByConsent(s.ctx, s.tenant.ID, consentID)
		s.Require().Len(entries, 2)
		s.Equal(models.ActionRevoked, entries[1].Action)
		s.Equal(entries[1].PreviousCategories, entries[1].NewCategories)

		deliveries := s.notifier.all()
		s.Equal(models.ActionRevoked, deliveries[len(deliveries)-1].Event)
		event := deliveries[len(deliveries)-1].Payload.(models.ConsentEvent)
		s.Equal(models.StatusRevoked, event.Status)
	})

	s.Run("older active consent resurfaces after revoking the newest", func() {
		older := s.create("s-layers", "")
		newer, err := s.service.Create(s.at(s.now.Add(time.Second)), s.tenant, &models.CreateConsentRequest{SessionID: "s-layers", Categories: models.Categories{}})
		s.Require().NoError(err)
		_, err = s.service.Revoke(s.ctx, s.tenant, newer.ConsentID, &models.RevokeConsentRequest{})
		s.Require().NoError(err)
		status, err := s.service.Check(s.ctx, s.tenant, "s-layers", "")
		s.Require().NoError(err)
		s.True(status.HasConsent)
		s.Equal(older.ConsentID, status.ConsentID)
	})

	s.Run("unknown consent is not found", func() {
		_, err := s.service.Revoke(s.ctx, s.tenant, uuid.NewString(), nil)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestHistory() {
	s.Run("consent history is ordered oldest first", func() {
		receipt := s.create("s-hist", "")
		_, err := s.service.Update(s.at(s.now.Add(time.Minute)), s.tenant, receipt.ConsentID, &models.UpdateConsentRequest{Categories: models.Categories{}})
		s.Require().NoError(err)
		_, err = s.service.Revoke(s.at(s.now.Add(2*time.Minute)), s.tenant, receipt.ConsentID, nil)
		s.Require().NoError(err)

		entries, err := s.service.ListHistory(s.ctx, s.tenant, receipt.ConsentID)
		s.Require().NoError(err)
		s.Require().Len(entries, 3)
		s.Equal(models.ActionCreated, entries[0].Action)
		s.Equal(models.ActionUpdated, entries[1].Action)
		s.Equal(models.ActionRevoked, entries[2].Action)
	})

	s.Run("foreign consent history is not found", func() {
		receipt := s.create("s-hist-private", "")
		other := &id.TenantIdentity{ID: id.TenantID(uuid.New()), Active: true}
		_, err := s.service.ListHistory(s.ctx, other, receipt.ConsentID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("session history spans consents", func() {
		s.create("s-span", "")
		s.create("s-span", "")
		entries, err := s.service.ListSessionHistory(s.ctx, s.tenant, "s-span")
		s.Require().NoError(err)
		s.Len(entries, 2)
		s.NotEqual(entries[0].ConsentID, entries[1].ConsentID)
	})

	s.Run("unknown session has empty history", func() {
		entries, err := s.service.ListSessionHistory(s.ctx, s.tenant, "ghost")
		s.Require().NoError(err)
		s.Empty(entries)
	})
}

func (s *ServiceSuite) TestStorageFailures() {
	s.Run("failed history append surfaces as dependency unavailable", func() {
		svc := s.newService(failingHistory{historystore.NewInMemory()})
		_, err := svc.Create(s.ctx, s.tenant, &models.CreateConsentRequest{SessionID: "s-fail", ScriptID: "with-hook", Categories: models.Categories{}})
		s.True(dErrors.HasCode(err, dErrors.CodeDependencyUnavailable))
		s.Empty(s.notifier.all())
		s.Empty(s.publisher.entries)
	})

	s.Run("failed create leaves no consent behind", func() {
		svc := s.newService(failingHistory{historystore.NewInMemory()})
		_, err := svc.Create(s.ctx, s.tenant, &models.CreateConsentRequest{SessionID: "s-partial", Categories: models.Categories{"analytics": true}})
		s.Require().Error(err)

		status, err := s.service.Check(s.ctx, s.tenant, "s-partial", "")
		s.Require().NoError(err)
		s.False(status.HasConsent)
	})

	s.Run("failed update restores the previous consent", func() {
		receipt := s.create("s-restore", "")
		svc := s.newService(failingHistory{historystore.NewInMemory()})

		_, err := svc.Update(s.at(s.now.Add(time.Minute)), s.tenant, receipt.ConsentID, &models.UpdateConsentRequest{Categories: models.Categories{"analytics": false}})
		s.Require().Error(err)
		_, err = svc.Revoke(s.at(s.now.Add(2*time.Minute)), s.tenant, receipt.ConsentID, nil)
		s.Require().Error(err)

		status, err := s.service.Check(s.ctx, s.tenant, "s-restore", "")
		s.Require().NoError(err)
		s.True(status.HasConsent)
		s.Equal(true, status.Categories["analytics"])
		entries, err := s.service.ListHistory(s.ctx, s.tenant, receipt.ConsentID)
		s.Require().NoError(err)
		s.Len(entries, 1)
	})

	s.Run("cancelled context is dependency unavailable", func() {
		ctx, cancel := context.WithCancel(s.ctx)
		cancel()
		_, err := s.service.Create(ctx, s.tenant, &models.CreateConsentRequest{SessionID: "s-cancel", Categories: models.Categories{}})
		s.True(dErrors.HasCode(err, dErrors.CodeDependencyUnavailable))
	})

	s.Run("expired deadline times out", func() {
		ctx, cancel := context.WithDeadline(s.ctx, time.Now().Add(-time.Second))
		defer cancel()
		_, err := s.service.Create(ctx, s.tenant, &models.CreateConsentRequest{SessionID: "s-deadline", Categories: models.Categories{}})
		s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
	})

	s.Run("sentinel not found maps to not found", func() {
		err := storageError(sentinel.ErrNotFound, "x")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("failures are counted by outcome", func() {
		s.GreaterOrEqual(promtest.ToFloat64(s.metrics.Operations.WithLabelValues("create", string(dErrors.CodeTimeout))), 1.0)
		s.GreaterOrEqual(promtest.ToFloat64(s.metrics.Operations.WithLabelValues("create", string(dErrors.CodeDependencyUnavailable))), 2.0)
	})
}
