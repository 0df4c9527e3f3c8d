// Package shutdown coordinates graceful daemon shutdown.
//
// A Handler cancels its context when SIGINT or SIGTERM arrives, or when
// Trigger is called, and then runs the registered hooks in reverse order of
// registration under a shared timeout. Every hook runs even when an
// earlier one fails; Wait reports all of their errors.
package shutdown
