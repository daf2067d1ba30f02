package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsent_IsEffectivelyActive(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Second)

	tests := []struct {
		name    string
		consent *Consent
		want    bool
	}{
		{"active without expiry", &Consent{Status: StatusActive}, true},
		{"active before expiry", &Consent{Status: StatusActive, ExpiresAt: &future}, true},
		{"active at expiry instant", &Consent{Status: StatusActive, ExpiresAt: &now}, false},
		{"active after expiry", &Consent{Status: StatusActive, ExpiresAt: &past}, false},
		{"revoked timestamp set", &Consent{Status: StatusActive, ExpiresAt: &future, RevokedAt: &past}, false},
		{"revoked status", &Consent{Status: StatusRevoked, ExpiresAt: &future}, false},
		{"tenant defined status", &Consent{Status: "pending", ExpiresAt: &future}, false},
		{"nil consent", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.consent.IsEffectivelyActive(now))
		})
	}
}

func TestConsent_CloneIsDeep(t *testing.T) {
	expires := time.Now().Add(time.Hour)
	original := &Consent{
		Categories: Categories{
			"analytics": true,
			"marketing": map[string]any{"email": true, "sms": false},
			"vendors":   []any{"a", "b"},
		},
		ExpiresAt: &expires,
	}

	clone := original.Clone()
	clone.Categories["analytics"] = false
	clone.Categories["marketing"].(map[string]any)["email"] = false
	clone.Categories["vendors"].([]any)[0] = "z"
	*clone.ExpiresAt = expires.Add(time.Hour)

	assert.Equal(t, true, original.Categories["analytics"])
	assert.Equal(t, true, original.Categories["marketing"].(map[string]any)["email"])
	assert.Equal(t, "a", original.Categories["vendors"].([]any)[0])
	assert.Equal(t, expires, *original.ExpiresAt)
}

func TestCategories_SQLRoundTrip(t *testing.T) {
	t.Run("nil stores NULL", func(t *testing.T) {
		v, err := Categories(nil).Value()
		require.NoError(t, err)
		assert.Nil(t, v)

		var c Categories
		require.NoError(t, c.Scan(nil))
		assert.Nil(t, c)
	})

	t.Run("jsonb bytes", func(t *testing.T) {
		v, err := Categories{"analytics": true}.Value()
		require.NoError(t, err)

		var c Categories
		require.NoError(t, c.Scan(v))
		assert.Equal(t, Categories{"analytics": true}, c)
	})

	t.Run("rejects unsupported source", func(t *testing.T) {
		var c Categories
		assert.Error(t, c.Scan(42))
	})
}

func TestNewConsentEvent(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &Consent{
		SessionID:  "sess-1",
		Categories: Categories{"analytics": true},
		Status:     StatusActive,
		CreatedAt:  created,
		UpdatedAt:  created,
	}

	ev := NewConsentEvent(c, ActionCreated)
	c.Categories["analytics"] = false

	assert.Equal(t, "created", ev.Action)
	assert.Equal(t, true, ev.Categories["analytics"])
	assert.Nil(t, ev.ExpiresAt)
	require.NotNil(t, ev.CreatedAt)
	assert.Equal(t, created, *ev.CreatedAt)
}
