// Package broadcast delivers scheduled broadcasts to segmented audiences.
//
// The Dispatcher resolves a broadcast's audience against the live account
// population, fans deliveries out over a bounded worker pool behind one
// shared rate limiter, classifies per-recipient transport failures, and
// finishes by moving the record to a terminal status with aggregate
// counters. The API type is the small authoring facade the admin flow uses
// to create, inspect and cancel broadcasts.
package broadcast
