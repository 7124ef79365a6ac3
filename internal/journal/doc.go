// Package journal records the outcome of every prompt the agent submits:
// which event produced it, the rendered prompt, the response or error, and
// how long the call took. Records are kept in memory, appended to a JSONL
// file, or stored in MySQL.
package journal
