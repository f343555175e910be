// Package reactive glues entity mutations to realtime publishes and
// carries correlation ids from HTTP requests into published events.
package reactive
