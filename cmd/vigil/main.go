// Vigil keeps the most recent detection results of every monitored owner
// and evicts the rest.
//
// It serves an HTTP API for owners and their detection results and sweeps
// each owner's results down to a fixed retention window, either on a cron
// schedule or on demand.
//
// Usage:
//
//	# Start the API server and the sweep scheduler
//	vigil run --config /etc/vigil/config.yaml
//
//	# Sweep every owner once with a window of 10
//	vigil sweep --window 10
//
//	# Show the 24 most recent results across all owners
//	vigil results recent
//
//	# Export one owner's results as CSV
//	vigil results export --owner alice --format csv --out alice.csv
//
//	# Show version information
//	vigil version
package main

func main() {
	Execute()
}
