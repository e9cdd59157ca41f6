// Package agent manages connections to worker processes.
//
// # Overview
//
// A worker connects over a bidirectional gRPC stream and announces the agent
// types it can host. The package tracks those connections, correlates requests
// forwarded to a worker with the responses it sends back, and provides the
// selection policy used when a new agent instance must be placed.
//
// # Registry
//
// The Registry tracks all live connections and the SupportedTypes index
// (agent type to the ordered list of connections supporting it):
//
//	reg := agent.NewRegistry(logger)
//	reg.OnRemove(dir.InvalidateConnection)
//
// Key operations:
//
//   - Add(conn): register a new connection
//   - RecordSupportedType(conn, type): index conn under an agent type
//   - ConnectionsSupporting(type): live supporters in registration order
//   - Remove(conn): close conn and clean up after it
//
// Remove performs the whole cleanup for a connection: it marks it closed,
// drops it from every type list, runs the removal hooks (the directory uses
// one to drop placements) and fails every pending call the connection owns
// with ErrConnectionLost.
//
// # Request/Response Correlation
//
// Each Connection owns a PendingCalls table. Connection.Call:
//
//  1. Generates a fresh correlation id for the hop to the worker
//  2. Begins a pending call with a response deadline
//  3. Sends the request on the worker's stream
//  4. Waits for the matching response, the deadline, or connection loss
//
// A call completes exactly once. A response for an unknown or already
// completed id is logged and dropped.
//
// # Thread Safety
//
// Registry, Connection and PendingCalls are safe for concurrent use. Writes to
// a connection's stream are serialized.
package agent
