// Package dedupe provides a time-based cache over send identifiers,
// used as a fast path in front of the store's duplicate query.
package dedupe
