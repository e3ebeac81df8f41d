// Package dispatch implements the message send pipeline: thread
// resolution, platform dispatch, and dedup-aware persistence. A send
// that reaches the platform is never reported as failed; store trouble
// after dispatch surfaces as a PersistenceError carrying the message ID.
package dispatch
