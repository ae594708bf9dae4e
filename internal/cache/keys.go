package cache

import (
	"strings"
	"time"

	"github.com/CedrosPay/ledger/internal/config"
)

// Namespace is a key prefix with its own TTL.
type Namespace string

const (
	NamespaceUser           Namespace = "user"
	NamespaceSession        Namespace = "session"
	NamespacePaymentHistory Namespace = "payment_history"
	NamespaceWebhookEvent   Namespace = "webhook_event"
)

// Namespaces lists every namespace that may be flushed.
var Namespaces = []Namespace{
	NamespaceUser,
	NamespaceSession,
	NamespacePaymentHistory,
	NamespaceWebhookEvent,
}

// ParseNamespace resolves a namespace name.
func ParseNamespace(name string) (Namespace, bool) {
	for _, ns := range Namespaces {
		if string(ns) == name {
			return ns, true
		}
	}
	return "", false
}

// Key joins parts under the namespace, e.g. "payment_history:user-1".
func (n Namespace) Key(parts ...string) string {
	if len(parts) == 0 {
		return string(n)
	}
	return string(n) + ":" + strings.Join(parts, ":")
}

// Prefix is the pattern prefix that matches every key in the namespace.
func (n Namespace) Prefix() string {
	return string(n) + ":"
}

// TTLs maps each namespace to its expiry.
type TTLs struct {
	User           time.Duration
	Session        time.Duration
	PaymentHistory time.Duration
	WebhookEvent   time.Duration
	WebhookClaim   time.Duration
}

// DefaultTTLs are used for any zero field.
var DefaultTTLs = TTLs{
	User:           time.Hour,
	Session:        24 * time.Hour,
	PaymentHistory: 2 * time.Hour,
	WebhookEvent:   24 * time.Hour,
	WebhookClaim:   5 * time.Minute,
}

// TTLsFromConfig builds TTLs from cache config, falling back to DefaultTTLs.
func TTLsFromConfig(cfg config.CacheConfig) TTLs {
	ttls := TTLs{
		User:           cfg.UserTTL.Duration,
		Session:        cfg.SessionTTL.Duration,
		PaymentHistory: cfg.PaymentHistoryTTL.Duration,
		WebhookEvent:   cfg.WebhookEventTTL.Duration,
		WebhookClaim:   cfg.WebhookClaimTTL.Duration,
	}
	return ttls.withDefaults()
}

func (t TTLs) withDefaults() TTLs {
	if t.User <= 0 {
		t.User = DefaultTTLs.User
	}
	if t.Session <= 0 {
		t.Session = DefaultTTLs.Session
	}
	if t.PaymentHistory <= 0 {
		t.PaymentHistory = DefaultTTLs.PaymentHistory
	}
	if t.WebhookEvent <= 0 {
		t.WebhookEvent = DefaultTTLs.WebhookEvent
	}
	if t.WebhookClaim <= 0 {
		t.WebhookClaim = DefaultTTLs.WebhookClaim
	}
	return t
}

// For returns the TTL of a namespace.
func (t TTLs) For(ns Namespace) time.Duration {
	switch ns {
	case NamespaceUser:
		return t.User
	case NamespaceSession:
		return t.Session
	case NamespacePaymentHistory:
		return t.PaymentHistory
	case NamespaceWebhookEvent:
		return t.WebhookEvent
	default:
		return time.Hour
	}
}
