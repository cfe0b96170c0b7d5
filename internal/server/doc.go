// Package server runs the HTTP side of gochat-relay.
//
// The auth service exposes registration and login. The chat service
// authorizes WebSocket handshakes with the connection gate, keeps the local
// Hub of connected clients and publishes every inbound chat message to the
// relay, which delivers it back to the Hub of every instance. App wires the
// two services from a Config and can run them separately or together.
package server
