// Package metrics keeps in-process counters and latency histograms for model
// prompts and HTTP requests and renders them in the Prometheus text format.
package metrics
