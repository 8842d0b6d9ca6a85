// Package server implements the chat relay core.
//
// A single Hub goroutine owns the client registry and every outbound
// queue. Each connection runs a reader goroutine, which performs the
// handshake, frames lines and streams attachment uploads, and a writer
// goroutine, which drains the connection's queue. Connections arrive over
// TCP or through the websocket Gateway; both are adapted to Transport.
package server
