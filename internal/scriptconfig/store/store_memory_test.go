package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cookieconsent/internal/scriptconfig/models"
	id "cookieconsent/pkg/domain"
	"cookieconsent/pkg/platform/sentinel"
)

func TestInMemory_SaveAndFind(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	cfg := &models.ScriptConfig{
		ScriptID:   "abc123",
		TenantID:   id.TenantID(uuid.New()),
		Domain:     "shop.example.com",
		WebhookURL: "https://hooks.example.com/consent",
		IsActive:   true,
	}
	require.NoError(t, s.Save(ctx, cfg))

	found, err := s.FindByScriptID(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, cfg.WebhookURL, found.WebhookURL)

	found.Domain = "mutated"
	again, err := s.FindByScriptID(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "shop.example.com", again.Domain)

	_, err = s.FindByScriptID(ctx, "missing")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
