// Package store provides persistence for conversations, messages, users,
// and sessions mirrored from the Zalo platform.
//
// The SQLite implementation creates its schema on open and stores
// timestamps as RFC3339 text. The messages table carries two identifier
// columns, id (platform-assigned or locally synthesized) and client_id
// (client-supplied correlation identifier); together they form the dedup
// key used to make retried sends idempotent.
package store
