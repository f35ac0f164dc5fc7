package access

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"carbon-scribe/vericarbon-engine/internal/audit"
	"carbon-scribe/vericarbon-engine/internal/domain"
)

// Registry is the authoritative role index. It keeps one member set per role
// so counts and membership are direct lookups.
type Registry struct {
	mu        sync.RWMutex
	roles     map[domain.Account]RoleSet
	members   map[Role]map[domain.Account]struct{}
	renounced map[domain.Account]struct{}

	publisher audit.Publisher
	logger    *zap.Logger
}

// NewRegistry creates a registry whose only admin is admin.
func NewRegistry(admin domain.Account, publisher audit.Publisher, logger *zap.Logger) (*Registry, error) {
	if admin.IsZero() {
		return nil, fmt.Errorf("bootstrap admin: %w", domain.ErrInvalidAccount)
	}
	if publisher == nil {
		publisher = audit.Discard
	}

	r := &Registry{
		roles: make(map[domain.Account]RoleSet),
		members: map[Role]map[domain.Account]struct{}{
			RoleAdmin:    {},
			RoleIssuer:   {},
			RoleVerifier: {},
		},
		renounced: make(map[domain.Account]struct{}),
		publisher: publisher,
		logger:    logger,
	}
	r.add(RoleAdmin, admin)

	return r, nil
}

// GrantRole gives role to account. Only the admin may call it; admin itself is
// never grantable. Granting a held role is a no-op.
func (r *Registry) GrantRole(ctx context.Context, caller domain.Account, role Role, account domain.Account) error {
	if role.flag() == 0 {
		return fmt.Errorf("grant: unknown role %q", role)
	}
	if account.IsZero() {
		return fmt.Errorf("grant %s: %w", role, domain.ErrInvalidAccount)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.roles[caller].Has(RoleAdmin) {
		return fmt.Errorf("grant %s: caller %q is not admin: %w", role, caller, domain.ErrUnauthorized)
	}
	if role == RoleAdmin {
		return fmt.Errorf("admin role is not grantable: %w", domain.ErrUnauthorized)
	}
	if r.roles[account].Has(role) {
		return nil
	}

	r.add(role, account)

	ev := audit.NewEvent(audit.EventRoleGranted, caller)
	ev.Subject = account
	ev.Data = map[string]any{"role": string(role)}
	r.publisher.Publish(ev)

	r.logger.Info("Role granted",
		zap.String("role", string(role)),
		zap.String("account", account.String()),
		zap.String("granted_by", caller.String()))

	return nil
}

// RevokeRole removes role from account. Only the admin may call it; admin is
// removed solely through RenounceAdmin. Revoking an absent role is a no-op.
func (r *Registry) RevokeRole(ctx context.Context, caller domain.Account, role Role, account domain.Account) error {
	if role.flag() == 0 {
		return fmt.Errorf("revoke: unknown role %q", role)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.roles[caller].Has(RoleAdmin) {
		return fmt.Errorf("revoke %s: caller %q is not admin: %w", role, caller, domain.ErrUnauthorized)
	}
	if role == RoleAdmin {
		return fmt.Errorf("admin role can only be renounced: %w", domain.ErrUnauthorized)
	}
	if !r.roles[account].Has(role) {
		return nil
	}

	r.remove(role, account)

	ev := audit.NewEvent(audit.EventRoleRevoked, caller)
	ev.Subject = account
	ev.Data = map[string]any{"role": string(role)}
	r.publisher.Publish(ev)

	r.logger.Info("Role revoked",
		zap.String("role", string(role)),
		zap.String("account", account.String()),
		zap.String("revoked_by", caller.String()))

	return nil
}

// RenounceAdmin permanently removes admin from account.
func (r *Registry) RenounceAdmin(ctx context.Context, account domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.roles[account].Has(RoleAdmin) {
		return fmt.Errorf("renounce: %q is not admin: %w", account, domain.ErrUnauthorized)
	}

	r.remove(RoleAdmin, account)
	r.renounced[account] = struct{}{}

	r.publisher.Publish(audit.NewEvent(audit.EventAdminRenounced, account))

	r.logger.Warn("Admin role renounced", zap.String("account", account.String()))

	return nil
}

// HasRole reports whether account holds role.
func (r *Registry) HasRole(role Role, account domain.Account) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roles[account].Has(role)
}

// CountOf returns the number of distinct accounts holding role.
func (r *Registry) CountOf(role Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members[role])
}

// RolesOf returns the capability set of account.
func (r *Registry) RolesOf(account domain.Account) RoleSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roles[account]
}

// Describe returns the query view of account.
func (r *Registry) Describe(account domain.Account) AccountRoles {
	set := r.RolesOf(account)
	roles := set.Roles()
	if roles == nil {
		roles = []Role{}
	}
	return AccountRoles{Account: account, Roles: roles, Kind: set.Kind()}
}

// Members lists the holders of role in lexical order.
func (r *Registry) Members(role Role) []domain.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Account, 0, len(r.members[role]))
	for account := range r.members[role] {
		out = append(out, account)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HasRenounced reports whether account gave up admin.
func (r *Registry) HasRenounced(account domain.Account) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.renounced[account]
	return ok
}

func (r *Registry) add(role Role, account domain.Account) {
	r.roles[account] |= role.flag()
	r.members[role][account] = struct{}{}
}

func (r *Registry) remove(role Role, account domain.Account) {
	set := r.roles[account] &^ role.flag()
	if set == 0 {
		delete(r.roles, account)
	} else {
		r.roles[account] = set
	}
	delete(r.members[role], account)
}
