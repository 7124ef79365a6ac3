// Package errors defines the coded error type shared by every forgeflow
// package. Codes carry default severity, retry and alert attributes that can be
// overridden per instance.
package errors
