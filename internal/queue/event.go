// Package queue defines message payloads exchanged over the message broker
// and the background consumer that drains them.
package queue

// Email template identifiers. The payload carries a template name plus
// variables; rendering and delivery belong to the downstream mail worker,
// not to the auth core.
const (
	TemplateVerifyEmail     = "verify_email"
	TemplateAdminWelcome    = "admin_welcome"
	TemplatePasswordChanged = "password_changed"
	TemplateMFAEnabled      = "mfa_enabled"
)

// EmailRequestedEvent is published whenever the auth core wants an email
// sent. Delivery is fire-and-forget: a lost event never fails the
// operation that requested it.
type EmailRequestedEvent struct {
	To          string            `json:"to"`
	Template    string            `json:"template"`
	Data        map[string]string `json:"data,omitempty"`
	RequestedAt string            `json:"requested_at"`
}
