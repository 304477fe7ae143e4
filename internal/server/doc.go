// Package server implements the chatdrop HTTP surface: the Broadcast Hub and
// its WebSocket clients, the upload and listing routes, the static fallback
// and the HTTP server lifecycle.
//
// The Hub is the single serialization point for connection state and
// history appends. Uploads run concurrently on their own request goroutines
// and never touch the Hub.
package server
