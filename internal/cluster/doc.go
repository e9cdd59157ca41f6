// Package cluster implements the coordination service the gateway consults for
// cluster-wide state.
//
// A Coordinator records which gateways are alive, which agent types each
// gateway can host, where agents without a local worker are placed, and the
// topic subscriptions used to route published events. Three backends are
// provided:
//
//   - Memory: a single process; used for one gateway and in tests
//   - SQLiteCoordinator: a database file shared by gateways on one host
//   - RedisCoordinator: a Redis server shared by the whole cluster
//
// Gateways announce themselves periodically with AddGateway. A gateway that
// has not announced within the configured TTL is ignored by LookupAgent, and
// RemoveGateway drops its registrations and placements on shutdown.
package cluster
