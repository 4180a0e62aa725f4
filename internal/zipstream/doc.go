// Package zipstream holds the transfers that carry streamed zip archives from
// a producer to a download response.
//
// A Registry maps transfer ids to Streams. The producer side creates a
// transfer, writes chunks and closes it; an HTTP handler attaches the single
// readable half and copies it into the response. Transfers move through
// open, draining (reader attached), closed and consumed; the registry forgets
// a transfer once its reader reaches end-of-stream.
//
// Writes to an unknown id are dropped and reported as not found, never as an
// error, so callers choose whether that is worth surfacing.
package zipstream
