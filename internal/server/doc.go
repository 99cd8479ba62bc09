// Package server owns the guppyd daemon: serving content roots over the
// Guppy protocol and the admin HTTP surface beside it.
//
// Ownership boundary:
// - request and ack dispatch on the datagram socket
// - per-client transfer state: chunking, send window, retransmission
// - content resolution under the configured root
// - admin API (health, readiness, metrics, live sessions)
package server
