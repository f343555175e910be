// Package realtime pushes asynchronous state changes to long-lived
// client connections.
//
// Connections join named channel groups; publishers address groups, not
// clients. A group registry plus per-connection authorization rules
// decide which groups a client may join by hand, while session, user and
// broadcast groups are joined automatically at connect. The bus behind
// the groups is either in-process (LocalBus) or NATS-backed for
// multi-node deployments. Delivery is at least once; events carry the
// correlation id of the request that caused them so clients can ignore
// their own echoes.
package realtime
