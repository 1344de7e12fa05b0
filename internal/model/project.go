package model

import (
	"fmt"
	"net/url"
	"strconv"
)

// Channel kinds a notification can deliver through.
const (
	ChannelWebhook = "webhook"
	ChannelEmail   = "email"
)

// Project groups subscriptions and notification configs under an organization.
type Project struct {
	Organization  string               `json:"organization"`
	Name          string               `json:"name"`
	Subscriptions []string             `json:"subscriptions"`
	Notifications []NotificationConfig `json:"notifications"`
}

// Validate checks the project and everything it owns. Malformed subscription
// tokens and notification configs are rejected here, before a run starts.
func (p *Project) Validate() error {
	if p.Organization == "" || p.Name == "" {
		return fmt.Errorf("project %q/%q must have an organization and a name", p.Organization, p.Name)
	}
	seen := make(map[string]struct{}, len(p.Subscriptions))
	for _, token := range p.Subscriptions {
		if _, _, err := ParseToken(token); err != nil {
			return fmt.Errorf("project %s/%s: %w", p.Organization, p.Name, err)
		}
		if _, dup := seen[token]; dup {
			return fmt.Errorf("project %s/%s: duplicate subscription %q", p.Organization, p.Name, token)
		}
		seen[token] = struct{}{}
	}
	names := make(map[string]struct{}, len(p.Notifications))
	for i := range p.Notifications {
		n := &p.Notifications[i]
		if err := n.Validate(); err != nil {
			return fmt.Errorf("project %s/%s: %w", p.Organization, p.Name, err)
		}
		if _, dup := names[n.Name]; dup {
			return fmt.Errorf("project %s/%s: duplicate notification %q", p.Organization, p.Name, n.Name)
		}
		names[n.Name] = struct{}{}
	}
	return nil
}

// WebhookExtras holds webhook channel settings. Headers are merged into the
// outbound request and must be plain string pairs.
type WebhookExtras struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

// EmailExtras holds email channel settings.
type EmailExtras struct {
	To string `json:"email"`
}

// NotificationConfig is one named delivery target of a project.
// The score threshold arrives as a configured string (e.g. "7.0") and is
// parsed once at load time.
type NotificationConfig struct {
	Name       string        `json:"name"`
	Type       string        `json:"type"`
	Enabled    bool          `json:"is_enabled"`
	EventTypes []EventType   `json:"types"`
	Score      string        `json:"cvss31_score,omitempty"`
	Webhook    WebhookExtras `json:"webhook,omitempty"`
	Email      EmailExtras   `json:"email,omitempty"`

	scoreThreshold *float64
}

// Validate normalizes the config and rejects malformed ones at load time.
func (n *NotificationConfig) Validate() error {
	if n.Name == "" {
		return fmt.Errorf("notification must have a name")
	}
	switch n.Type {
	case ChannelWebhook:
		u, err := url.Parse(n.Webhook.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("notification %q has an invalid webhook url %q", n.Name, n.Webhook.URL)
		}
	case ChannelEmail:
		if n.Email.To == "" {
			return fmt.Errorf("notification %q has no recipient address", n.Name)
		}
	default:
		return fmt.Errorf("notification %q has unsupported type %q", n.Name, n.Type)
	}
	for _, t := range n.EventTypes {
		if !t.Valid() {
			return fmt.Errorf("notification %q filters on unknown event type %q", n.Name, t)
		}
	}
	n.scoreThreshold = nil
	if n.Score != "" {
		v, err := strconv.ParseFloat(n.Score, 64)
		if err != nil || v < 0 || v > 10 {
			return fmt.Errorf("notification %q has invalid score threshold %q", n.Name, n.Score)
		}
		// "0" means no filtering at all, matching how thresholds are configured.
		if v > 0 {
			n.scoreThreshold = &v
		}
	}
	return nil
}

// ScoreThreshold returns the parsed minimum score, or nil when the
// notification has no score filter. Validate must have been called.
func (n *NotificationConfig) ScoreThreshold() *float64 {
	return n.scoreThreshold
}

// WantsEvent applies the event-type filter: an empty configured set keeps
// every type.
func (n *NotificationConfig) WantsEvent(t EventType) bool {
	if len(n.EventTypes) == 0 {
		return true
	}
	for _, want := range n.EventTypes {
		if want == t {
			return true
		}
	}
	return false
}
