// Package store persists agent state for the gateway.
//
// The gateway never interprets agent state. Workers read and write it through
// the ReadAgentState and WriteAgentState self-service methods and the gateway
// forwards those calls here.
//
// Every write is guarded by an etag:
//
//	etag, err := st.WriteState(ctx, id, data, "")   // create only
//	etag, err = st.WriteState(ctx, id, data2, etag) // replace if unchanged
//
// A stale etag fails with ErrETagMismatch. SQLiteStore keeps state in the
// agent_state table; MemoryStore is used in tests and when no state path is
// configured.
package store
