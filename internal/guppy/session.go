package guppy

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Session is one fetch attempt over an already-open datagram connection.
// It owns the response body, the sequence watermarks, and the reassembly
// buffer; the connection is borrowed and never closed here.
//
// Two execution contexts touch a session: the caller's read loop via
// Process and the retry scheduler goroutine. One mutex covers both for the
// full duration of each call.
type Session struct {
	mu   sync.Mutex
	cfg  Config
	url  string
	conn Conn
	log  zerolog.Logger

	state State
	meta  string
	body  []byte

	// statusSeen marks that the first recognized header was classified.
	// It is sticky on purpose: firstSeq can legitimately stay at the
	// unknown sentinel, so classification must not key off it.
	statusSeen bool

	firstSent time.Time
	lastSent  time.Time

	// Watermarks, 0 = unknown. firstSeq and lastSeq are written once;
	// currentSeq is the highest sequence delivered into body gap-free.
	firstSeq   int
	lastSeq    int
	currentSeq int
	chunks     []chunkSlot

	// retryStop identifies the live scheduler generation. A tick whose
	// stop channel no longer matches must not touch session state.
	retryStop chan struct{}
	timeoutC  chan struct{}
	timedOut  bool

	now func() time.Time
}

// NewSession builds a session for url over conn. The logger is typically
// zerolog.Nop() in tests and the process logger elsewhere.
func NewSession(url string, conn Conn, cfg Config, logger zerolog.Logger) *Session {
	cfg = cfg.WithDefaults()
	return &Session{
		cfg:      cfg,
		url:      url,
		conn:     conn,
		log:      logger,
		chunks:   make([]chunkSlot, cfg.ReorderSlots),
		timeoutC: make(chan struct{}),
		now:      time.Now,
	}
}

// Open starts (or restarts) the exchange: state moves to InProgress, the
// request line goes out, and the retry scheduler is armed if not running.
// Reopening is allowed only while the session has not settled; terminal
// states are never overwritten.
func (s *Session) Open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.state = StateInProgress
	s.sendRequestLocked()
	if s.firstSent.IsZero() {
		s.firstSent = s.lastSent
	}
	if s.retryStop == nil {
		s.retryStop = make(chan struct{})
		go s.retryLoop(s.retryStop)
	}
}

// Cancel stops the retry scheduler. State, body, and metadata are left as
// they are; the session stays readable.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
}

// Process consumes one inbound read. Empty input and input without a line
// terminator are no-ops. It returns the resulting state and whether the
// body grew, so callers can surface incremental content.
func (s *Session) Process(data []byte) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(data) == 0 {
		return s.state, false
	}
	header, payload, ok := splitLine(data)
	if !ok {
		return s.state, false
	}
	updated := false
	seq, meta, ok := parseHeader(header)
	if !ok {
		if !s.state.Terminal() {
			s.state = StateInvalidResponse
		}
	} else {
		if !s.statusSeen && !s.state.Terminal() {
			s.statusSeen = true
			s.applyStatusLocked(seq, meta)
		}
		if seq >= MinChunkSeq {
			// Acks are per-chunk and always owed, even after the
			// session has settled; only reassembly is gated.
			s.sendAckLocked(seq)
			if s.state == StateInProgress {
				s.admitLocked(seq, payload)
			}
		}
		if s.state == StateInProgress {
			updated = s.drainLocked()
			if s.lastSeq != 0 && s.currentSeq == s.lastSeq-1 {
				s.state = StateFinished
			}
		}
	}
	if s.state != StateInProgress {
		s.cancelLocked()
	}
	return s.state, updated
}

// CurrentState returns the session state.
func (s *Session) CurrentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Body returns a copy of the payload delivered in sequence order so far.
func (s *Session) Body() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.body))
	copy(out, s.body)
	return out
}

// Meta returns the status-line text: the prompt for InputRequired, the
// target for Redirect, or the response metadata on success.
func (s *Session) Meta() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

// URL returns the immutable request target.
func (s *Session) URL() string {
	return s.url
}

// Timeout returns a channel closed exactly once, when the session times
// out with no confirmed progress inside the configured deadline.
func (s *Session) Timeout() <-chan struct{} {
	return s.timeoutC
}

// applyStatusLocked classifies the first recognized header. The free text
// begins with a one-character separator that is stripped before storing.
func (s *Session) applyStatusLocked(code int, meta string) {
	if meta != "" {
		meta = meta[1:]
	}
	switch code {
	case CodeMalformed, CodeRejected:
		s.state = StateInvalidResponse
	case CodeInputRequired:
		s.state = StateInputRequired
		s.meta = meta
	case CodeRedirect:
		s.state = StateRedirect
		s.meta = meta
	case CodeFailure:
		s.state = StateError
		s.log.Debug().Str("url", s.url).Str("meta", meta).Msg("remote reported failure")
	default:
		s.state = StateInProgress
		if meta != "" {
			s.meta = meta
		}
	}
}

func (s *Session) sendRequestLocked() {
	if err := s.conn.WriteLine([]byte(s.url)); err != nil {
		s.log.Warn().Err(err).Str("url", s.url).Msg("request send failed")
	}
	s.lastSent = s.now()
}

func (s *Session) sendAckLocked(seq int) {
	if err := s.conn.WriteLine(appendSeq(nil, seq)); err != nil {
		s.log.Warn().Err(err).Int("seq", seq).Msg("ack send failed")
	}
	s.lastSent = s.now()
}

func (s *Session) cancelLocked() {
	if s.retryStop != nil {
		close(s.retryStop)
		s.retryStop = nil
	}
}
