// Package middleware provides HTTP middleware for convert-web.
//
// It includes:
//   - Request logging in W3C Extended Log Format, routed through the logging package
//   - Prometheus request metrics, timed to first byte for zip downloads and the event stream
//   - Gzip compression for JSON API responses
//   - Configurable filtering for static files and health checks
package middleware
