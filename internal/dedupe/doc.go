// Package dedupe provides an idempotency cache that maps a send's
// correlation key to the message it produced, within a configurable window.
package dedupe
