// Package client turns guppy sessions into whole-document fetches with
// redirect chasing and input prompt handling.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/danmuck/guppyctl/internal/guppy"
	"github.com/danmuck/guppyctl/internal/observability"
	"github.com/danmuck/guppyctl/internal/transport"
	"github.com/rs/zerolog"
)

var (
	ErrTooManyRedirects = errors.New("client: too many redirects")
	ErrInputRequired    = errors.New("client: input required")
	ErrRemoteFailure    = errors.New("client: remote request failed")
	ErrInvalidResponse  = errors.New("client: invalid response")
	ErrTimedOut         = errors.New("client: session timed out")
)

type Config struct {
	Session guppy.Config
	// MaxRedirects bounds how many redirect hops a fetch may follow.
	MaxRedirects int
	// Input answers at most one input prompt, sent as the URL query.
	Input string
}

func DefaultConfig() Config {
	return Config{
		Session:      guppy.DefaultConfig(),
		MaxRedirects: 5,
	}
}

// Result is the settled outcome of one fetch, including the final URL
// after redirects.
type Result struct {
	URL   string
	State guppy.State
	Meta  string
	Body  []byte
}

type Fetcher struct {
	cfg Config
	log zerolog.Logger
}

func NewFetcher(cfg Config, logger zerolog.Logger) *Fetcher {
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = DefaultConfig().MaxRedirects
	}
	cfg.Session = cfg.Session.WithDefaults()
	return &Fetcher{cfg: cfg, log: logger}
}

// Fetch retrieves rawURL. Redirects are followed up to the configured
// bound and one input prompt is answered when input was configured; every
// other terminal state maps to a sentinel error alongside the result.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Result, error) {
	u, err := ParseURL(rawURL)
	if err != nil {
		return Result{}, err
	}
	redirects := 0
	inputUsed := false
	for {
		start := time.Now()
		res, err := f.fetchOnce(ctx, u)
		if err != nil {
			return Result{}, err
		}
		observability.RecordFetch(res.State.String(), time.Since(start))

		switch res.State {
		case guppy.StateFinished:
			return res, nil
		case guppy.StateRedirect:
			redirects++
			if redirects > f.cfg.MaxRedirects {
				return res, ErrTooManyRedirects
			}
			next, err := u.Parse(res.Meta)
			if err != nil {
				return res, fmt.Errorf("client: redirect target: %w", err)
			}
			if next.Scheme != Scheme {
				return res, fmt.Errorf("%w: %s", ErrUnsupportedScheme, next.Scheme)
			}
			f.log.Debug().Str("from", u.String()).Str("to", next.String()).Msg("following redirect")
			u = next
		case guppy.StateInputRequired:
			if f.cfg.Input == "" || inputUsed {
				return res, fmt.Errorf("%w: %s", ErrInputRequired, res.Meta)
			}
			inputUsed = true
			answered := *u
			answered.RawQuery = url.QueryEscape(f.cfg.Input)
			u = &answered
		case guppy.StateError:
			return res, ErrRemoteFailure
		case guppy.StateTimedOut:
			return res, ErrTimedOut
		default:
			return res, ErrInvalidResponse
		}
	}
}

// fetchOnce runs a single session against u until it settles.
func (f *Fetcher) fetchOnce(ctx context.Context, u *url.URL) (Result, error) {
	conn, err := transport.Dial(ctx, Addr(u))
	if err != nil {
		return Result{}, fmt.Errorf("client: dial %s: %w", Addr(u), err)
	}
	defer conn.Close()

	sess := guppy.NewSession(u.String(), conn, f.cfg.Session, f.log)
	sess.Open()
	defer sess.Cancel()

	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-sess.Timeout():
			return f.result(u, sess), nil
		default:
		}
		data, err := conn.ReadAvailable()
		if err != nil {
			return Result{}, err
		}
		if st, _ := sess.Process(data); st.Terminal() {
			return f.result(u, sess), nil
		}
	}
}

func (f *Fetcher) result(u *url.URL, sess *guppy.Session) Result {
	return Result{
		URL:   u.String(),
		State: sess.CurrentState(),
		Meta:  sess.Meta(),
		Body:  sess.Body(),
	}
}
