package realtime

import "strings"

// Identity is what a connection knows about its caller when a manual
// subscription request must be authorized.
type Identity struct {
	SessionID string
	Principal string
	Admin     bool
}

// Rules decides whether a connection may manually join a group. System
// and automatic subscriptions bypass rules entirely; only client-issued
// subscribe frames pass through here.
type Rules struct {
	// PrivateNamespace is the first segment of per-principal private
	// groups, "user" by default.
	PrivateNamespace string

	// Registry validates every group name that is not covered by a
	// reserved family.
	Registry *GroupRegistry
}

// NewRules builds the standard rule set over a registry.
func NewRules(registry *GroupRegistry) *Rules {
	return &Rules{
		PrivateNamespace: "user",
		Registry:         registry,
	}
}

// Authorize returns nil when id may join group, ErrUnauthorizedSubscription
// when the group exists but is off-limits to this identity, and
// ErrInvalidGroupName when the name is not a known destination.
func (r *Rules) Authorize(id Identity, group string) error {
	if group == "" {
		return ErrInvalidGroupName
	}

	// Session groups are system push only. Even the owning connection
	// may not join its own by hand: allowing it would let injected
	// script probe for other sessions' groups.
	if group == SessionNamespace || strings.HasPrefix(group, SessionNamespace+".") {
		return ErrUnauthorizedSubscription
	}

	// Reserved names are auto-joined at connect, never on request.
	if group == GroupBroadcast || group == GroupUsers {
		return ErrUnauthorizedSubscription
	}

	parts := strings.Split(group, ".")
	if parts[0] == r.PrivateNamespace && len(parts) >= 2 {
		if len(parts) == 2 {
			// The bare private group carries everything pushed to a
			// principal. Only that principal or an admin may join.
			if id.Admin || (id.Principal != "" && id.Principal == parts[1]) {
				return nil
			}
			return ErrUnauthorizedSubscription
		}
		// A sub-path under the private namespace is a distinct,
		// generally joinable destination.
		return nil
	}

	if r.Registry != nil && r.Registry.IsAllowed(group) {
		return nil
	}
	return ErrInvalidGroupName
}
