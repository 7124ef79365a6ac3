// Package api exposes the daemon's HTTP surface: liveness with the in-flight
// prompt count, the latest journal records, event submission onto the
// external queue, and the metrics endpoint.
package api
