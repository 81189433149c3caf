// Package tracestore provides a SQLite-backed log of store exchanges.
//
// A session groups the exchanges of one client run. Each exchange records
// the request, the response (or the transport error) and how long it took.
//
// # Identity and ordering
//
//   - Request hashes cover method, path, identity headers and a body digest
//     (see RequestHash). The client ID is excluded.
//   - Exchange IDs are content-addressed from session, seq and request hash.
//   - All queries order by seq ASC, id ASC COLLATE BINARY. Wall time is
//     stored for display only.
//
// # Recording and replay
//
// Recorder is a transport.Middleware that appends every exchange to a
// session. Replay is a transport.Transport that answers requests from a
// recorded session, matching by request hash in recorded order.
package tracestore
