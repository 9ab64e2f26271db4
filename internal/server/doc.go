// Package server implements the linechat connection-handling and routing
// engine.
//
// The implementation is organized into specialized files for the line
// protocol, connection adapters, the authentication handshake, sessions, the
// registry of authenticated sessions, message routing, the TCP acceptor and
// the HTTP side server (health, metrics and the WebSocket gateway).
package server
