package models

import (
	"net"
	"strings"

	dErrors "cookieconsent/pkg/domain-errors"
)

// Column-backed size limits.
const (
	MaxSessionIDLength = 255
	MaxUserIDLength    = 255
	MaxScriptIDLength  = 100
	MaxActionLength    = 50
	MaxIPAddressLength = 45
	MaxUserAgentLength = 1024
	MaxCategories      = 64
)

// CreateConsentRequest is a new consent submission from the widget.
type CreateConsentRequest struct {
	SessionID  string     `json:"session_id"`
	UserID     string     `json:"user_id,omitempty"`
	Categories Categories `json:"consent_categories"`
	Action     string     `json:"action,omitempty"`
	IPAddress  string     `json:"ip_address,omitempty"`
	UserAgent  string     `json:"user_agent,omitempty"`
	ScriptID   string     `json:"script_id,omitempty"`
}

// Normalize trims caller-supplied strings.
func (r *CreateConsentRequest) Normalize() {
	r.SessionID = strings.TrimSpace(r.SessionID)
	r.UserID = strings.TrimSpace(r.UserID)
	r.Action = strings.TrimSpace(r.Action)
	r.IPAddress = strings.TrimSpace(r.IPAddress)
	r.UserAgent = strings.TrimSpace(r.UserAgent)
	r.ScriptID = strings.TrimSpace(r.ScriptID)
}

// Validate checks required fields and size limits.
func (r *CreateConsentRequest) Validate() error {
	if r.SessionID == "" {
		return dErrors.NewField(dErrors.CodeInvalidInput, "session_id", "session_id is required")
	}
	if len(r.SessionID) > MaxSessionIDLength {
		return dErrors.NewField(dErrors.CodeInvalidInput, "session_id", "session_id is too long")
	}
	if len(r.UserID) > MaxUserIDLength {
		return dErrors.NewField(dErrors.CodeInvalidInput, "user_id", "user_id is too long")
	}
	if len(r.ScriptID) > MaxScriptIDLength {
		return dErrors.NewField(dErrors.CodeInvalidInput, "script_id", "script_id is too long")
	}
	if err := validateCategories(r.Categories); err != nil {
		return err
	}
	return validateMutation(r.Action, r.IPAddress, r.UserAgent)
}

// UpdateConsentRequest replaces the categories of an existing consent.
type UpdateConsentRequest struct {
	Categories Categories `json:"consent_categories"`
	Action     string     `json:"action,omitempty"`
	IPAddress  string     `json:"ip_address,omitempty"`
	UserAgent  string     `json:"user_agent,omitempty"`
}

// Normalize trims caller-supplied strings.
func (r *UpdateConsentRequest) Normalize() {
	r.Action = strings.TrimSpace(r.Action)
	r.IPAddress = strings.TrimSpace(r.IPAddress)
	r.UserAgent = strings.TrimSpace(r.UserAgent)
}

// Validate checks required fields and size limits.
func (r *UpdateConsentRequest) Validate() error {
	if err := validateCategories(r.Categories); err != nil {
		return err
	}
	return validateMutation(r.Action, r.IPAddress, r.UserAgent)
}

// RevokeConsentRequest withdraws a consent. The body is optional.
type RevokeConsentRequest struct {
	Action    string `json:"action,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Normalize trims caller-supplied strings.
func (r *RevokeConsentRequest) Normalize() {
	r.Action = strings.TrimSpace(r.Action)
	r.IPAddress = strings.TrimSpace(r.IPAddress)
	r.UserAgent = strings.TrimSpace(r.UserAgent)
}

// Validate checks size limits.
func (r *RevokeConsentRequest) Validate() error {
	return validateMutation(r.Action, r.IPAddress, r.UserAgent)
}

func validateCategories(c Categories) error {
	if c == nil {
		return dErrors.NewField(dErrors.CodeInvalidInput, "consent_categories", "consent_categories is required")
	}
	if len(c) > MaxCategories {
		return dErrors.NewField(dErrors.CodeInvalidInput, "consent_categories", "too many consent categories")
	}
	for name := range c {
		if strings.TrimSpace(name) == "" {
			return dErrors.NewField(dErrors.CodeInvalidInput, "consent_categories", "category names must not be empty")
		}
	}
	return nil
}

func validateMutation(action, ip, userAgent string) error {
	if len(action) > MaxActionLength {
		return dErrors.NewField(dErrors.CodeInvalidInput, "action", "action is too long")
	}
	if ip != "" && (len(ip) > MaxIPAddressLength || net.ParseIP(ip) == nil) {
		return dErrors.NewField(dErrors.CodeInvalidInput, "ip_address", "ip_address is not a valid IP address")
	}
	if len(userAgent) > MaxUserAgentLength {
		return dErrors.NewField(dErrors.CodeInvalidInput, "user_agent", "user_agent is too long")
	}
	return nil
}
