package models

import (
	"time"

	id "cookieconsent/pkg/domain"
	platformstrings "cookieconsent/pkg/platform/strings"
)

// ScriptConfig is a tenant's per-website widget configuration. The consent
// core only reads it, mainly to find the webhook URL.
type ScriptConfig struct {
	ScriptID           string         `json:"script_id"`
	TenantID           id.TenantID    `json:"tenant_id"`
	Domain             string         `json:"domain"`
	Categories         map[string]any `json:"categories"`
	BannerConfig       map[string]any `json:"banner_config"`
	DefaultLanguage    string         `json:"default_language"`
	SupportedLanguages []string       `json:"supported_languages"`
	CookiePolicyURL    string         `json:"cookie_policy_url,omitempty"`
	WebhookURL         string         `json:"webhook_url,omitempty"`
	ExternalToolURL    string         `json:"external_tool_url,omitempty"`
	IsActive           bool           `json:"is_active"`
	IsPublished        bool           `json:"is_published"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Public reports whether the widget may fetch this configuration.
func (c *ScriptConfig) Public() bool {
	return c != nil && c.IsActive && c.IsPublished
}

// PublicConfig is the unauthenticated view served to the widget.
type PublicConfig struct {
	ScriptID           string         `json:"script_id"`
	Domain             string         `json:"domain"`
	Categories         map[string]any `json:"categories"`
	BannerConfig       map[string]any `json:"banner_config"`
	DefaultLanguage    string         `json:"default_language"`
	SupportedLanguages []string       `json:"supported_languages"`
	CookiePolicyURL    *string        `json:"cookie_policy_url"`
	WebhookURL         *string        `json:"webhook_url"`
	ExternalToolURL    *string        `json:"external_tool_url"`
}

// ToPublic projects the configuration onto its widget-facing fields.
func (c *ScriptConfig) ToPublic() *PublicConfig {
	return &PublicConfig{
		ScriptID:           c.ScriptID,
		Domain:             c.Domain,
		Categories:         c.Categories,
		BannerConfig:       c.BannerConfig,
		DefaultLanguage:    c.DefaultLanguage,
		SupportedLanguages: platformstrings.LanguageTags(c.SupportedLanguages),
		CookiePolicyURL:    optional(c.CookiePolicyURL),
		WebhookURL:         optional(c.WebhookURL),
		ExternalToolURL:    optional(c.ExternalToolURL),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
