// Package state persists component object graphs across requests as
// opaque, encrypted tokens.
//
// A component's attributes are captured into a Snapshot, encoded onto a
// tagged wire form (live objects collapse to references, value objects to
// field maps), compressed, signed, and sealed with a session-derived key.
// Decoding enforces a strict allowlist: only registered reference
// prefixes, safe value types, registered components, and registered value
// objects are reconstructed; everything else is a policy violation.
package state
