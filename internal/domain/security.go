package domain

import "context"

// Audit results.
const (
	AuditAllowed = "allowed"
	AuditDenied  = "denied"
	AuditError   = "error"
)

// AuditEntry is one operator-level record of a command invocation attempt.
type AuditEntry struct {
	InvocationID string
	Service      Service
	GuildID      string
	ChannelID    string
	UserID       string
	Command      string
	Result       string // allowed | denied | error
	Details      string
}

// AuditLogger persists audit entries.
type AuditLogger interface {
	LogAudit(ctx context.Context, entry AuditEntry) error
}

// Authorizer decides whether an identity may run staff commands.
type Authorizer interface {
	CanInvoke(ctx context.Context, who Identity) bool
}
