// Package tasks dispatches lifecycle work to out-of-process workers through
// Redis-backed named queues, and consumes their completions.
//
// Each queue carries a routing key, a retry budget with a fixed inter-attempt
// delay, and soft/hard time limits. Results are retained for a bounded
// window; in-flight tasks may be revoked by id on a best-effort basis (the
// remote worker is not interrupted, but its late result is not honored).
package tasks
