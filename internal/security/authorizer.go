// Package security decides who may run staff commands.
package security

import (
	"context"
	"log/slog"
	"slices"

	"ltlive/internal/domain"
	"ltlive/internal/metrics"
)

// RoleLookup returns the role IDs a guild member holds.
type RoleLookup interface {
	MemberRoles(ctx context.Context, guildID, userID string) ([]string, error)
}

// RoleAuthorizerConfig configures a RoleAuthorizer.
type RoleAuthorizerConfig struct {
	Roles   RoleLookup
	GuildID string
	// RoleIDs are the operator roles. Holding any one of them is enough.
	RoleIDs []string
	Audit   domain.AuditLogger // optional
	Logger  *slog.Logger
}

// RoleAuthorizer grants command access to members of the home guild who
// hold at least one operator role. Every lookup failure denies.
type RoleAuthorizer struct {
	roles   RoleLookup
	guildID string
	roleIDs []string
	audit   domain.AuditLogger
	logger  *slog.Logger
}

var _ domain.Authorizer = (*RoleAuthorizer)(nil)

func NewRoleAuthorizer(cfg RoleAuthorizerConfig) *RoleAuthorizer {
	return &RoleAuthorizer{
		roles:   cfg.Roles,
		guildID: cfg.GuildID,
		roleIDs: slices.Clone(cfg.RoleIDs),
		audit:   cfg.Audit,
		logger:  cfg.Logger,
	}
}

// CanInvoke reports whether who may run staff commands.
func (a *RoleAuthorizer) CanInvoke(ctx context.Context, who domain.Identity) bool {
	ok, result, details := a.decide(ctx, who)
	if !ok {
		metrics.CommandsDenied.Inc()
	}
	a.record(ctx, who, result, details)
	return ok
}

func (a *RoleAuthorizer) decide(ctx context.Context, who domain.Identity) (bool, string, string) {
	if who.Service != domain.ServiceDiscord {
		return false, domain.AuditDenied, "commands are only accepted from discord"
	}
	if len(a.roleIDs) == 0 || a.guildID == "" {
		return false, domain.AuditDenied, "no operator roles configured"
	}
	if a.roles == nil {
		return false, domain.AuditError, "role lookup unavailable"
	}

	held, err := a.roles.MemberRoles(ctx, a.guildID, who.UserID)
	if err != nil {
		a.logger.Warn("role lookup failed, denying command",
			"user_id", who.UserID,
			"guild_id", a.guildID,
			"err", err,
		)
		return false, domain.AuditError, "role lookup failed: " + err.Error()
	}

	for _, r := range held {
		if slices.Contains(a.roleIDs, r) {
			return true, domain.AuditAllowed, "role " + r
		}
	}
	return false, domain.AuditDenied, "no operator role"
}

func (a *RoleAuthorizer) record(ctx context.Context, who domain.Identity, result, details string) {
	if a.audit == nil {
		return
	}
	inv := InvocationFrom(ctx)
	entry := domain.AuditEntry{
		InvocationID: inv.ID,
		Service:      who.Service,
		GuildID:      who.GuildID,
		ChannelID:    inv.ChannelID,
		UserID:       who.UserID,
		Command:      inv.Command,
		Result:       result,
		Details:      details,
	}
	if err := a.audit.LogAudit(ctx, entry); err != nil {
		a.logger.Error("audit write failed", "invocation_id", inv.ID, "err", err)
	}
}
