// Package database provides SQLite storage for convert-web.
//
// It holds:
//   - cached_assets: responses kept by the network-first asset cache
//   - preferences: persisted option trees, one JSON document per key
//   - metadata: server bookkeeping such as the last successful install
//
// The database runs in WAL mode so the request path can read cached assets
// while an install batch is being written.
package database
