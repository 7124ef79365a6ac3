// Package queue carries raw event messages between processes. Producers publish
// JSON encoded events; the queue trigger consumes them. Memory, Redis list and
// RabbitMQ backends share the same Producer/Consumer contract.
package queue
