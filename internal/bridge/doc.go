// Package bridge carries zip transfer operations from a producer to the
// server that owns the zipstream.Registry.
//
// The protocol has three requests (CreateStream, WriteChunk, CloseStream)
// and broadcast acknowledgments (SuccessStream, SuccessWrite, SuccessClose,
// and ErrorStream in strict mode). A Worker reads requests in arrival order
// on a single goroutine and hands each one to the lane of its transfer id;
// a lane applies its requests one at a time, which keeps chunk order intact
// end to end while a transfer waiting on a full buffer holds up only
// itself. Acknowledgments go to every Hub subscriber; listeners filter by
// transfer id or operation id.
//
// Client is the producing side. Its Upload is an io.WriteCloser: each Write
// is one chunk, Close waits for SuccessClose. ClientOptions.MaxInFlight turns
// on a bounded window of unacknowledged chunks; zero keeps the fire-and-forget
// behavior where chunks are sent without waiting.
//
// Two transports exist: LocalTransport for an in-process worker and
// HTTPTransport for a remote server (POST /api/bridge/messages plus the
// server-sent event stream at /api/bridge/events).
package bridge
