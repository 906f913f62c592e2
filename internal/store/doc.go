// Package store persists the engine's durable records: the account
// population, scheduled broadcasts with their status state machine, and the
// append-only dispatch analytics log.
//
// Status transitions are compare-and-set on "status is still pending", so
// cancel, markSent and markFailed share one discipline: the first writer
// wins and every later transition is a no-op.
package store
