// Package trigger defines Events and the Trigger contract: a background task
// that produces Events onto a shared bounded channel until the shutdown
// broadcast closes. Variants here differ only in their event source.
package trigger
