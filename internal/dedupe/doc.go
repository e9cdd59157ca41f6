// Package dedupe remembers recently seen keys for a bounded time so a
// re-published event is delivered to subscribers only once per window.
package dedupe
