// Package daemon coordinates the long-running orchestrator process.
//
// It wires configuration, the process store, the scheduler, and the task
// runner into a single lifecycle with flock-based locking to prevent
// multiple instances, and hosts the HTTP API that operator workers call
// back into. Keep orchestration logic here: lifecycle rules live in their
// own packages while the daemon focuses on startup, shutdown, and high
// level coordination.
package daemon
