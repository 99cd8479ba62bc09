// Package guppy owns the client side of the Guppy protocol session.
//
// Ownership boundary:
// - request/ack/chunk wire lines
// - status-line classification and session state
// - out-of-order chunk reassembly over a fixed slot array
// - retransmission and session-timeout scheduling
//
// A Session borrows an already-open datagram connection; dialing and the
// read loop belong to internal/transport and internal/client.
package guppy
