// Package notifications delivers fire-and-forget push notifications for
// lifecycle events. Delivery failures are reported to the caller for logging
// but never block or fail the state transition that triggered them.
package notifications
