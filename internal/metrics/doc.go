// Package metrics declares the Prometheus metrics exported by convert-web.
//
// Metrics are registered with promauto at package init and exposed on a
// dedicated port (METRICS_PORT) through promhttp. Families:
//
//   - convert_web_http_*: request counts, latency, in-flight requests
//   - convert_web_transfers_* / convert_web_transfer_*: zip stream registry
//     lifecycle, buffered bytes, bytes written and served
//   - convert_web_bridge_*: bridge protocol messages, subscribers, dispatcher
//     queue depth, dropped broadcasts
//   - convert_web_asset_*: network-first cache resolution and installs
//   - convert_web_db_*: SQLite query counts and latency
//   - convert_web_memory_*: memory pressure signals
//
// Gauges that reflect registry or cache size are refreshed by a [Collector]
// polling a [StatsProvider] on an interval.
package metrics
