package server

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/guppyctl/internal/guppy"
	"github.com/danmuck/guppyctl/internal/observability"
	"github.com/danmuck/guppyctl/internal/transport"
	"github.com/rs/zerolog"
)

var (
	ErrRootRequired = errors.New("server: content root required")
	ErrBadChunkSize = errors.New("server: chunk size out of range")
	ErrBadWindow    = errors.New("server: window must be at least 1")
)

const (
	// maxChunkPayload keeps header plus payload comfortably inside one
	// datagram.
	maxChunkPayload = 16 * 1024
	maxRequestLine  = 4096
)

// Config carries the guppyd daemon settings.
type Config struct {
	// ListenAddr is the UDP address serving the protocol.
	ListenAddr string
	// Root is the directory served to clients.
	Root string
	// AdminAddr enables the HTTP admin API when non-empty.
	AdminAddr string
	// AdminToken guards /sessions. Empty locks the route entirely.
	AdminToken string
	// CORSOrigins lists allowed admin origins.
	CORSOrigins []string

	// ChunkSize is the payload bytes per chunk.
	ChunkSize int
	// Window is how many chunks may be unacknowledged at once after the
	// stream head has been acknowledged.
	Window int
	// MaxBodyBytes caps the size of a single served resource.
	MaxBodyBytes int64
	// FirstSeqSpread randomizes the starting sequence number within
	// [MinChunkSeq, MinChunkSeq+FirstSeqSpread).
	FirstSeqSpread int

	// RetransmitInterval is how long a transfer sits without progress
	// before its unacknowledged chunks go out again.
	RetransmitInterval time.Duration
	// TransferExpiry drops a transfer that has seen no ack for this long.
	TransferExpiry time.Duration
	// TickInterval is the janitor cadence.
	TickInterval time.Duration
}

// DefaultConfig returns the settings guppyd ships with.
func DefaultConfig() Config {
	return Config{
		ListenAddr:         ":" + transport.DefaultPort,
		ChunkSize:          512,
		Window:             4,
		MaxBodyBytes:       16 << 20,
		FirstSeqSpread:     1 << 20,
		RetransmitInterval: 500 * time.Millisecond,
		TransferExpiry:     6 * time.Second,
		TickInterval:       100 * time.Millisecond,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = d.ListenAddr
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	if c.FirstSeqSpread <= 0 {
		c.FirstSeqSpread = d.FirstSeqSpread
	}
	if c.RetransmitInterval <= 0 {
		c.RetransmitInterval = d.RetransmitInterval
	}
	if c.TransferExpiry <= 0 {
		c.TransferExpiry = d.TransferExpiry
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	return c
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return ErrRootRequired
	}
	if c.ChunkSize < 1 || c.ChunkSize > maxChunkPayload {
		return fmt.Errorf("%w: %d", ErrBadChunkSize, c.ChunkSize)
	}
	if c.Window < 1 {
		return fmt.Errorf("%w: %d", ErrBadWindow, c.Window)
	}
	return nil
}

// Service serves a content root over the protocol, with an optional HTTP
// admin API beside it.
type Service struct {
	cfg Config
	log zerolog.Logger

	sock      *net.UDPConn
	adminAddr net.Addr

	mu        sync.Mutex
	transfers map[string]*transfer
	rng       *rand.Rand

	started time.Time
}

// New builds a Service from cfg. Zero fields pick up defaults before
// validation.
func New(cfg Config, logger zerolog.Logger) (*Service, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		cfg:       cfg,
		log:       logger,
		transfers: make(map[string]*transfer),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		started:   time.Now(),
	}, nil
}

// Run serves until ctx ends or a termination signal arrives.
func (s *Service) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr, err := net.ResolveUDPAddr("udp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: resolve listen addr: %w", err)
	}
	sock, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.mu.Lock()
	s.sock = sock
	s.mu.Unlock()

	s.log.Info().
		Str("addr", sock.LocalAddr().String()).
		Str("root", s.cfg.Root).
		Msg("guppyd listening")

	go func() {
		<-ctx.Done()
		sock.Close()
	}()

	adminErr := make(chan error, 1)
	var adminSrv *http.Server
	if strings.TrimSpace(s.cfg.AdminAddr) != "" {
		ln, err := net.Listen("tcp", s.cfg.AdminAddr)
		if err != nil {
			sock.Close()
			return fmt.Errorf("server: admin listen: %w", err)
		}
		s.mu.Lock()
		s.adminAddr = ln.Addr()
		s.mu.Unlock()
		adminSrv = &http.Server{Handler: s.adminRouter()}
		go func() {
			err := adminSrv.Serve(ln)
			if errors.Is(err, http.ErrServerClosed) {
				err = nil
			}
			adminErr <- err
		}()
		s.log.Info().Str("addr", ln.Addr().String()).Msg("admin api listening")
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.serve(ctx) }()
	go s.janitor(ctx)

	var runErr error
	select {
	case runErr = <-serveErr:
		shutdownAdmin(adminSrv)
	case runErr = <-adminErr:
		sock.Close()
		if serveRes := <-serveErr; runErr == nil {
			runErr = serveRes
		}
		shutdownAdmin(adminSrv)
	}
	s.log.Info().Msg("guppyd stopped")
	return runErr
}

func shutdownAdmin(srv *http.Server) {
	if srv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// serve dispatches inbound datagrams until the socket closes.
func (s *Service) serve(ctx context.Context) error {
	buf := make([]byte, 64*1024)
	for {
		n, remote, err := s.sock.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("server: read: %w", err)
		}
		line := strings.TrimSuffix(string(buf[:n]), "\r\n")
		s.dispatch(remote, line)
	}
}

// dispatch routes one datagram. A line that parses as a bare integer is
// an acknowledgement; anything else is treated as a request URL.
func (s *Service) dispatch(remote *net.UDPAddr, line string) {
	if seq, err := strconv.Atoi(line); err == nil {
		s.handleAck(remote, seq)
		return
	}
	s.handleRequest(remote, line)
}

func (s *Service) handleAck(remote *net.UDPAddr, seq int) {
	observability.RecordAckReceived()
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transfers[remote.String()]
	if !ok {
		return
	}
	t.onAck(seq, now, s.sender(t))
	if t.done() {
		delete(s.transfers, t.key)
		observability.RecordSessionOutcome("finished")
		observability.SetActiveSessions(len(s.transfers))
		s.log.Info().
			Str("remote", t.key).
			Str("url", t.url).
			Int("chunks", len(t.datagrams)).
			Int("retransmits", t.retransmits).
			Msg("transfer finished")
	}
}

func (s *Service) handleRequest(remote *net.UDPAddr, line string) {
	key := remote.String()
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(line) > maxRequestLine {
		s.replyStatus(remote, guppy.CodeRejected, "request too long")
		return
	}

	if t, ok := s.transfers[key]; ok {
		if t.url == line {
			// The client re-sent its request, so the stream head is
			// probably lost. Put the unacknowledged chunks back on the
			// wire.
			t.resendUnacked(now, s.sender(t))
			return
		}
		// A different URL from the same address supersedes the old
		// stream.
		delete(s.transfers, key)
		observability.RecordSessionOutcome("superseded")
	}

	resp := s.resolveRequest(line)
	if resp.code != 0 {
		s.log.Debug().
			Str("remote", key).
			Str("url", line).
			Int("code", resp.code).
			Str("meta", resp.meta).
			Msg("status reply")
		s.replyStatus(remote, resp.code, resp.meta)
		return
	}

	firstSeq := guppy.MinChunkSeq + s.rng.Intn(s.cfg.FirstSeqSpread)
	t := newTransfer(key, remote, line, resp.meta, resp.body, firstSeq, s.cfg.ChunkSize, s.cfg.Window, now)
	s.transfers[key] = t
	observability.SetActiveSessions(len(s.transfers))
	s.log.Info().
		Str("remote", key).
		Str("url", line).
		Str("meta", resp.meta).
		Int("chunks", len(t.datagrams)).
		Int("first_seq", firstSeq).
		Msg("transfer started")
	t.start(now, s.sender(t))
}

func (s *Service) resolveRequest(line string) response {
	u, err := url.Parse(line)
	if err != nil || u.Scheme != "guppy" || u.Host == "" {
		return response{code: guppy.CodeRejected, meta: "malformed request"}
	}
	return s.respond(u)
}

// sender returns the per-transfer send callback. An index below nextIdx
// has been sent before, which makes the send a retransmission.
func (s *Service) sender(t *transfer) func(int) {
	return func(idx int) {
		retransmit := idx < t.nextIdx
		if _, err := s.sock.WriteToUDP(t.datagrams[idx], t.remote); err != nil {
			s.log.Warn().Err(err).Str("remote", t.key).Msg("chunk send failed")
			return
		}
		observability.RecordChunkSent(retransmit)
	}
}

func (s *Service) replyStatus(remote *net.UDPAddr, code int, meta string) {
	line := strconv.Itoa(code)
	if meta != "" {
		line += " " + meta
	}
	if _, err := s.sock.WriteToUDP([]byte(line+"\r\n"), remote); err != nil {
		s.log.Warn().Err(err).Str("remote", remote.String()).Msg("status send failed")
	}
}

// janitor expires stalled transfers and drives retransmissions.
func (s *Service) janitor(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

func (s *Service) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.transfers {
		if t.expired(now, s.cfg.TransferExpiry) {
			delete(s.transfers, key)
			observability.RecordSessionOutcome("expired")
			s.log.Debug().Str("remote", key).Str("url", t.url).Msg("transfer expired")
			continue
		}
		t.retransmitDue(now, s.cfg.RetransmitInterval, s.sender(t))
	}
	observability.SetActiveSessions(len(s.transfers))
}

// Addr reports the bound protocol address. It is nil until Run listens.
func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sock == nil {
		return nil
	}
	return s.sock.LocalAddr()
}

// AdminAddr reports the bound admin address. It is nil until Run listens
// and always nil when the admin API is disabled.
func (s *Service) AdminAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adminAddr
}

// Sessions returns a snapshot of live transfers sorted by remote address.
func (s *Service) Sessions() []TransferStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TransferStatus, 0, len(s.transfers))
	for _, t := range s.transfers {
		out = append(out, t.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Remote < out[j].Remote })
	return out
}
