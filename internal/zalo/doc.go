// Package zalo defines the messaging platform adapter contract.
// The gateway consumes a Client capability for status, dispatch, and
// session operations; the login protocol itself lives behind the
// implementation.
package zalo
