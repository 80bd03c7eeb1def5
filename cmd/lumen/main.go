// Lumen is a reverse proxy and intelligent load balancer for LLM HTTP APIs.
//
// It sits between API clients and backend inference services, providing:
//   - Weighted, latency-aware, and failover load balancing
//   - Per-upstream circuit breaking with automatic probing
//   - Streaming-aware forwarding with retries and timeouts
//   - Path-based routing to upstream groups
//   - Per-IP and per-upstream rate limiting
//   - Hot configuration reload and a management API
//
// Usage:
//
//	# Start with a configuration file
//	lumen run --config /etc/lumen/config.yaml
//
//	# Validate a configuration file without starting
//	lumen validate --config /etc/lumen/config.yaml
//
//	# Show version information
//	lumen version
package main

func main() {
	Execute()
}
