// Package handlers provides the HTTP surface of the convert-web server.
//
// It includes handlers for:
//   - Request interception: zip downloads, the ping probe, and the
//     network-first asset cache
//   - The bridge message endpoint and its broadcast event stream
//   - Transfer listings and preference documents
//   - Health checks and version information
package handlers
