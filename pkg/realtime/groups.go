package realtime

import (
	"strings"
	"sync"
)

// Reserved group names and namespaces. These are auto-joined at connect
// or scoped by the authorization rules; none of them is registrable.
const (
	GroupBroadcast = "broadcast"
	GroupUsers     = "users"

	SessionNamespace = "session"
)

// SessionGroup returns the system-only group scoped to one transport
// session.
func SessionGroup(sessionID string) string {
	return SessionNamespace + "." + sessionID
}

// GroupRegistry records which group names are valid pub/sub destinations.
// Exact names live in a set; patterns are kept in registration order and
// matched segment-wise, with "*" matching exactly one segment. The
// registry is append-mostly and registration is idempotent.
type GroupRegistry struct {
	mu       sync.RWMutex
	exact    map[string]struct{}
	patterns []string
}

// NewGroupRegistry creates an empty registry.
func NewGroupRegistry() *GroupRegistry {
	return &GroupRegistry{
		exact: make(map[string]struct{}),
	}
}

// Register adds an exact group name. Registering a name twice is a no-op.
func (g *GroupRegistry) Register(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.exact[name] = struct{}{}
}

// RegisterPattern adds a segment pattern such as "post.*". A duplicate
// pattern is not added again; first registration keeps its position.
func (g *GroupRegistry) RegisterPattern(pattern string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range g.patterns {
		if p == pattern {
			return
		}
	}
	g.patterns = append(g.patterns, pattern)
}

// Unregister removes an exact name or a pattern.
func (g *GroupRegistry) Unregister(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.exact, name)
	for i, p := range g.patterns {
		if p == name {
			g.patterns = append(g.patterns[:i], g.patterns[i+1:]...)
			return
		}
	}
}

// IsAllowed reports whether the name matches a registered exact name or
// any pattern.
func (g *GroupRegistry) IsAllowed(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.exact[name]; ok {
		return true
	}
	for _, p := range g.patterns {
		if matchPattern(p, name) {
			return true
		}
	}
	return false
}

// matchPattern matches dot-separated segments; "*" matches exactly one
// segment. "post.*" matches "post.42" but not "post" or "post.42.x".
func matchPattern(pattern, name string) bool {
	ps := strings.Split(pattern, ".")
	ns := strings.Split(name, ".")
	if len(ps) != len(ns) {
		return false
	}
	for i, p := range ps {
		if p != "*" && p != ns[i] {
			return false
		}
	}
	return true
}
