// Package server exposes the gateway's REST surface: session lifecycle
// pass-through, the message send pipeline, conversation and message
// views, and the avatar CDN proxy. All responses are JSON except the
// proxied avatar bytes.
package server
