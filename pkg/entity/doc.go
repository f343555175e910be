// Package entity defines the opaque keyed store the framework uses to
// reference persistent records by (type, id), plus the type registry that
// gates which entity types may be reconstructed from persisted state.
//
// The framework never interprets entity contents beyond named field access;
// applications bring their own storage by implementing Store, or use the
// bundled memory and SQL implementations.
package entity
