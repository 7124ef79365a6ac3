// Package retry decorates an llm.Model with bounded, backoff-governed retries.
// By default only rate-limit (HTTP 429 shaped) provider errors are retried and
// provider supplied RetryInfo delays take precedence over the local schedule.
package retry
