// Package remote defines the remote session collaborator and its default
// HTTP implementation.
//
// The transfer engine only depends on the [Session] interface:
//   - Authenticate: establish a session, including a two-factor challenge round
//   - ListChildren: enumerate a remote directory as [Item] descriptors
//   - Stat: fetch size/fingerprint metadata for a single item
//   - OpenRange: read one byte range of a remote file
//
// [Client] implements Session against a plain HTTP file server:
//   - POST {base}/auth/token with JSON credentials, bearer token afterwards
//   - GET  {base}/api/list?path=...
//   - HEAD {base}/files/{path}
//   - GET  {base}/files/{path} with a Range header
//
// # Errors
//
// Failures are classified so the fetcher can decide whether to retry:
// connection errors, timeouts and 5xx responses are transient; 404/401/403
// are fatal for the item. An ETag that no longer matches the one the chunk
// plan was built against surfaces as [ErrSourceChanged].
package remote
