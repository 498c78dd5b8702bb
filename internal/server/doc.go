// Package server puts the chat engine on the network.
//
// The implementation is organized into specialized files for configuration,
// origin checks, rate limiting, the client pumps, the hub that tracks them,
// routing, and HTTP handlers. Presence, rooms and messages are owned by
// package chat; this package only translates WebSocket frames into engine
// calls and engine events back into frames.
package server
