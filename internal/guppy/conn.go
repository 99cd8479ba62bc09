package guppy

// ConnStatus is the transport's view of the underlying datagram socket.
type ConnStatus int

const (
	StatusConnecting ConnStatus = iota
	StatusConnected
	StatusClosed
)

func (s ConnStatus) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the borrowed transport handle a session exchanges lines over.
// The session writes request and ack lines and checks connectivity before
// retransmitting; the caller's read loop feeds ReadAvailable output into
// Process. The session never owns or closes the connection.
type Conn interface {
	// Status reports current socket connectivity.
	Status() ConnStatus
	// WriteLine sends one CRLF-terminated line as a single datagram. The
	// terminator is appended by the transport.
	WriteLine(line []byte) error
	// ReadAvailable returns the payload of the next inbound datagram, or
	// (nil, nil) when nothing is pending.
	ReadAvailable() ([]byte, error)
}
