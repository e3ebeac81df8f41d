// Package jobs runs background tasks with observable completion state.
// The cookie-based session import is submitted here so the triggering
// request can return immediately while the outcome stays queryable.
package jobs
