// Package protocol implements the CHAT/1.0 line protocol: framing of the
// byte stream into lines and fixed-length binary bodies, and the grammar
// of handshake lines, commands, and attachment headers.
//
// Lines are terminated by a single line feed. Carriage returns are
// discarded on read and never emitted on write.
package protocol
