// Package agent contains the orchestrator that drives a set of triggers,
// renders every event they emit into a prompt, and submits that prompt to a
// model. It owns the bounded event channel, the stop broadcast, and the
// graceful shutdown sequence, and it processes one prompt at a time.
package agent
