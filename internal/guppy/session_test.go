package guppy

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/guppyctl/internal/testutil/testlog"
	"github.com/rs/zerolog"
)

const testURL = "guppy://example.org/notes.gmi"

type fakeConn struct {
	mu     sync.Mutex
	status ConnStatus
	lines  []string
	err    error
}

func newFakeConn() *fakeConn {
	return &fakeConn{status: StatusConnected}
}

func (c *fakeConn) Status() ConnStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *fakeConn) setStatus(st ConnStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = st
}

func (c *fakeConn) WriteLine(line []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.lines = append(c.lines, string(line))
	return nil
}

func (c *fakeConn) ReadAvailable() ([]byte, error) { return nil, nil }

func (c *fakeConn) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func (c *fakeConn) lastLine() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.lines) == 0 {
		return ""
	}
	return c.lines[len(c.lines)-1]
}

type fakeClock struct {
	mu sync.Mutex
	at time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(d)
}

// newTestSession opens a session whose scheduler ticker is parked on a huge
// interval, so tests drive ticks by hand through the fake clock.
func newTestSession(t *testing.T, conn Conn, logger zerolog.Logger) (*Session, *fakeClock) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.TickInterval = time.Hour
	s := NewSession(testURL, conn, cfg, logger)
	clk := &fakeClock{at: time.Unix(1700000000, 0)}
	s.now = clk.now
	s.Open()
	t.Cleanup(s.Cancel)
	return s, clk
}

func schedulerGen(s *Session) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryStop
}

func TestSessionOpenSendsRequestLine(t *testing.T) {
	logger := testlog.Start(t)
	conn := newFakeConn()
	s, _ := newTestSession(t, conn, logger)

	if got := s.CurrentState(); got != StateInProgress {
		t.Fatalf("state after open: got=%v", got)
	}
	if got := conn.sent(); len(got) != 1 || got[0] != testURL {
		t.Fatalf("request line: got=%v", got)
	}
	if schedulerGen(s) == nil {
		t.Fatalf("scheduler not armed")
	}
}

func TestSessionStreamReassemblesOutOfOrder(t *testing.T) {
	logger := testlog.Start(t)
	conn := newFakeConn()
	s, _ := newTestSession(t, conn, logger)

	st, updated := s.Process([]byte("6 hello\r\nAB"))
	if st != StateInProgress || !updated {
		t.Fatalf("first chunk: got state=%v updated=%v", st, updated)
	}
	if got := string(s.Body()); got != "AB" {
		t.Fatalf("body after first chunk: %q", got)
	}
	if got := s.Meta(); got != "hello" {
		t.Fatalf("meta: %q", got)
	}

	st, updated = s.Process([]byte("8\r\nEF"))
	if st != StateInProgress || updated {
		t.Fatalf("chunk past gap: got state=%v updated=%v", st, updated)
	}
	if got := string(s.Body()); got != "AB" {
		t.Fatalf("body must not grow across a gap: %q", got)
	}

	st, updated = s.Process([]byte("7\r\nCD"))
	if st != StateInProgress || !updated {
		t.Fatalf("gap fill: got state=%v updated=%v", st, updated)
	}
	if got := string(s.Body()); got != "ABCDEF" {
		t.Fatalf("body after gap fill: %q", got)
	}

	st, updated = s.Process([]byte("9\r\n"))
	if st != StateFinished || updated {
		t.Fatalf("terminator: got state=%v updated=%v", st, updated)
	}

	want := strings.Join([]string{testURL, "6", "8", "7", "9"}, "|")
	if got := strings.Join(conn.sent(), "|"); got != want {
		t.Fatalf("sent lines: got=%q want=%q", got, want)
	}
}

func TestSessionAcksRetransmitsAfterFinish(t *testing.T) {
	logger := testlog.Start(t)
	conn := newFakeConn()
	s, _ := newTestSession(t, conn, logger)

	s.Process([]byte("6 ok\r\nAB"))
	s.Process([]byte("7\r\n"))
	if got := s.CurrentState(); got != StateFinished {
		t.Fatalf("state: got=%v", got)
	}

	st, updated := s.Process([]byte("6 ok\r\nAB"))
	if st != StateFinished || updated {
		t.Fatalf("retransmit after finish: got state=%v updated=%v", st, updated)
	}
	if got := conn.lastLine(); got != "6" {
		t.Fatalf("retransmit ack: got=%q", got)
	}
	if got := string(s.Body()); got != "AB" {
		t.Fatalf("body after finish: %q", got)
	}
}

func TestSessionStatusLineThenChunks(t *testing.T) {
	logger := testlog.Start(t)
	conn := newFakeConn()
	s, _ := newTestSession(t, conn, logger)

	st, updated := s.Process([]byte("2 text/plain\r\n"))
	if st != StateInProgress || updated {
		t.Fatalf("status line: got state=%v updated=%v", st, updated)
	}
	if got := s.Meta(); got != "text/plain" {
		t.Fatalf("meta: %q", got)
	}
	if got := conn.sent(); len(got) != 1 {
		t.Fatalf("status lines are not acked: %v", got)
	}

	s.Process([]byte("6\r\nGuppy!"))
	st, _ = s.Process([]byte("7\r\n"))
	if st != StateFinished {
		t.Fatalf("state: got=%v", st)
	}
	if got := string(s.Body()); got != "Guppy!" {
		t.Fatalf("body: %q", got)
	}
	if got := s.Meta(); got != "text/plain" {
		t.Fatalf("meta overwritten by chunks: %q", got)
	}
}

func TestSessionInputRequired(t *testing.T) {
	logger := testlog.Start(t)
	conn := newFakeConn()
	s, _ := newTestSession(t, conn, logger)

	st, updated := s.Process([]byte("1 Enter passphrase\r\n"))
	if st != StateInputRequired || updated {
		t.Fatalf("input status: got state=%v updated=%v", st, updated)
	}
	if got := s.Meta(); got != "Enter passphrase" {
		t.Fatalf("prompt: %q", got)
	}
	if got := conn.sent(); len(got) != 1 {
		t.Fatalf("input status must not be acked: %v", got)
	}

	// A straggler chunk still gets its ack, but never reaches the body.
	st, updated = s.Process([]byte("7\r\nXY"))
	if st != StateInputRequired || updated {
		t.Fatalf("straggler: got state=%v updated=%v", st, updated)
	}
	if got := conn.lastLine(); got != "7" {
		t.Fatalf("straggler ack: got=%q", got)
	}
	if got := s.Body(); len(got) != 0 {
		t.Fatalf("body after settle: %q", got)
	}
}

func TestSessionRedirect(t *testing.T) {
	logger := testlog.Start(t)
	conn := newFakeConn()
	s, _ := newTestSession(t, conn, logger)

	st, _ := s.Process([]byte("3 guppy://example.org/other\r\n"))
	if st != StateRedirect {
		t.Fatalf("state: got=%v", st)
	}
	if got := s.Meta(); got != "guppy://example.org/other" {
		t.Fatalf("target: %q", got)
	}
}

func TestSessionRemoteFailure(t *testing.T) {
	logger := testlog.Start(t)
	conn := newFakeConn()
	s, _ := newTestSession(t, conn, logger)

	st, _ := s.Process([]byte("4 resource not found\r\n"))
	if st != StateError {
		t.Fatalf("state: got=%v", st)
	}
	if got := s.Meta(); got != "" {
		t.Fatalf("failure text must not become meta: %q", got)
	}
}

func TestSessionRejectsBadStatus(t *testing.T) {
	logger := testlog.Start(t)
	cases := []string{
		"0\r\n",
		"5 request rejected\r\n",
		"bogus header\r\n",
		"\r\n",
	}
	for _, in := range cases {
		conn := newFakeConn()
		s, _ := newTestSession(t, conn, logger)
		st, updated := s.Process([]byte(in))
		if st != StateInvalidResponse || updated {
			t.Fatalf("input %q: got state=%v updated=%v", in, st, updated)
		}
		s.Cancel()
	}
}

func TestSessionClassificationIsSticky(t *testing.T) {
	logger := testlog.Start(t)
	conn := newFakeConn()
	s, _ := newTestSession(t, conn, logger)

	s.Process([]byte("0\r\n"))
	st, _ := s.Process([]byte("1 too late\r\n"))
	if st != StateInvalidResponse {
		t.Fatalf("state reclassified: got=%v", st)
	}
	if got := s.Meta(); got != "" {
		t.Fatalf("meta: %q", got)
	}
}

func TestSessionTerminalStateNeverOverwritten(t *testing.T) {
	logger := testlog.Start(t)
	conn := newFakeConn()
	s, _ := newTestSession(t, conn, logger)

	s.Process([]byte("6 done\r\nA"))
	s.Process([]byte("7\r\n"))
	if got := s.CurrentState(); got != StateFinished {
		t.Fatalf("state: got=%v", got)
	}

	for _, in := range []string{"\r\n", "4 boom\r\n", "junk\r\n"} {
		if st, _ := s.Process([]byte(in)); st != StateFinished {
			t.Fatalf("input %q overwrote terminal state: got=%v", in, st)
		}
	}

	before := len(conn.sent())
	s.Open()
	if got := s.CurrentState(); got != StateFinished {
		t.Fatalf("reopen after settle: got=%v", got)
	}
	if got := len(conn.sent()); got != before {
		t.Fatalf("reopen sent lines: got=%d want=%d", got, before)
	}
}

func TestSessionMetaSeparatorStripsOneByte(t *testing.T) {
	logger := testlog.Start(t)
	cases := []struct {
		in   string
		want string
	}{
		{"1 Enter code\r\n", "Enter code"},
		{"1\tEnter code\r\n", "Enter code"},
		{"1  padded\r\n", " padded"},
		{"1\r\n", ""},
	}
	for _, tc := range cases {
		conn := newFakeConn()
		s, _ := newTestSession(t, conn, logger)
		s.Process([]byte(tc.in))
		if got := s.Meta(); got != tc.want {
			t.Fatalf("input %q: meta got=%q want=%q", tc.in, got, tc.want)
		}
		s.Cancel()
	}
}

func TestSessionIgnoresIncompleteReads(t *testing.T) {
	logger := testlog.Start(t)
	conn := newFakeConn()
	s, _ := newTestSession(t, conn, logger)

	if st, updated := s.Process(nil); st != StateInProgress || updated {
		t.Fatalf("nil read: got state=%v updated=%v", st, updated)
	}
	if st, updated := s.Process([]byte("6 hello")); st != StateInProgress || updated {
		t.Fatalf("read without terminator: got state=%v updated=%v", st, updated)
	}
	if got := conn.sent(); len(got) != 1 {
		t.Fatalf("noise must not be acked: %v", got)
	}

	// The complete retransmission still lands cleanly afterwards.
	st, updated := s.Process([]byte("6 hello\r\nAB"))
	if st != StateInProgress || !updated {
		t.Fatalf("retransmission: got state=%v updated=%v", st, updated)
	}
	if got := string(s.Body()); got != "AB" {
		t.Fatalf("body: %q", got)
	}
}

func TestSessionSurvivesWriteFailures(t *testing.T) {
	logger := testlog.Start(t)
	conn := newFakeConn()
	conn.err = errors.New("fake: datagram dropped")
	cfg := DefaultConfig()
	cfg.TickInterval = time.Hour
	s := NewSession(testURL, conn, cfg, logger)
	s.Open()
	defer s.Cancel()

	s.Process([]byte("6 ok\r\nAB"))
	st, _ := s.Process([]byte("7\r\n"))
	if st != StateFinished {
		t.Fatalf("state with failing writes: got=%v", st)
	}
	if got := string(s.Body()); got != "AB" {
		t.Fatalf("body: %q", got)
	}
}

func TestSessionTimeoutSignal(t *testing.T) {
	logger := testlog.Start(t)
	conn := newFakeConn()
	cfg := Config{
		SessionTimeout: 40 * time.Millisecond,
		RequestRetry:   10 * time.Millisecond,
		AckRetry:       5 * time.Millisecond,
		TickInterval:   5 * time.Millisecond,
		ReorderSlots:   4,
	}
	s := NewSession(testURL, conn, cfg, logger)
	s.Open()
	defer s.Cancel()

	select {
	case <-s.Timeout():
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout signal never fired")
	}
	if got := s.CurrentState(); got != StateTimedOut {
		t.Fatalf("state after timeout: got=%v", got)
	}
}

func chunkPayload(seq int) string {
	return fmt.Sprintf("%05d|", seq)
}

func chunkDatagram(seq int) []byte {
	return []byte(fmt.Sprintf("%d\r\n%s", seq, chunkPayload(seq)))
}

// Delivery goroutines and the live scheduler hammer one session. Spammers
// stay inside the low band so slot pressure never exceeds the buffer, which
// mirrors a sender that keeps its window below the receiver's capacity.
func TestSessionConcurrentDeliveryWithScheduler(t *testing.T) {
	logger := testlog.Start(t)
	conn := newFakeConn()
	cfg := Config{
		SessionTimeout: time.Minute,
		RequestRetry:   time.Millisecond,
		AckRetry:       time.Millisecond,
		TickInterval:   time.Millisecond,
		ReorderSlots:   8,
	}
	s := NewSession(testURL, conn, cfg, logger)
	s.Open()
	defer s.Cancel()

	const first, last = 6, 300

	// Anchor the stream head before racing begins.
	if _, updated := s.Process(chunkDatagram(first)); !updated {
		t.Fatalf("anchor chunk not delivered")
	}

	delivered := func(seq int) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.currentSeq >= seq
	}

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		for seq := first + 1; seq <= last; seq++ {
			for !delivered(seq) {
				s.Process(chunkDatagram(seq))
			}
		}
	}()
	for w := 0; w < 3; w++ {
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(w + 1)))
			for i := 0; i < 500; i++ {
				switch i % 10 {
				case 8:
					s.Process(nil)
				case 9:
					s.Process([]byte("torn datagram"))
				default:
					s.Process(chunkDatagram(first + rng.Intn(4)))
				}
			}
		}(w)
	}
	wg.Wait()

	st, _ := s.Process([]byte(fmt.Sprintf("%d\r\n", last+1)))
	if st != StateFinished {
		t.Fatalf("state after full delivery: got=%v", st)
	}
	var want strings.Builder
	for seq := first; seq <= last; seq++ {
		want.WriteString(chunkPayload(seq))
	}
	if got := string(s.Body()); got != want.String() {
		t.Fatalf("body mismatch: got %d bytes want %d", len(got), want.Len())
	}
}
