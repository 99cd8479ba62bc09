package server

import (
	"fmt"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/danmuck/guppyctl/internal/guppy"
)

const indexFile = "index.gmi"

// response is the resolved outcome of one request. Code zero streams the
// body as chunks; any other code travels as a single status line.
type response struct {
	code int
	meta string
	body []byte
}

func failure(meta string) response {
	return response{code: guppy.CodeFailure, meta: meta}
}

// respond maps a request URL onto the content root. The path is cleaned
// while rooted at "/", so traversal can never escape the root.
func (s *Service) respond(u *url.URL) response {
	clean := path.Clean("/" + strings.TrimPrefix(u.Path, "/"))
	if clean == "/echo" {
		return echoResponse(u)
	}
	full := filepath.Join(s.cfg.Root, filepath.FromSlash(clean))
	info, err := os.Stat(full)
	if err != nil {
		return failure("resource not found")
	}
	if info.IsDir() {
		if !strings.HasSuffix(u.Path, "/") {
			return response{code: guppy.CodeRedirect, meta: clean + "/"}
		}
		index := filepath.Join(full, indexFile)
		if fi, err := os.Stat(index); err == nil && !fi.IsDir() {
			return s.serveFile(index)
		}
		return serveListing(clean, full)
	}
	return s.serveFile(full)
}

func (s *Service) serveFile(full string) response {
	info, err := os.Stat(full)
	if err != nil {
		return failure("resource not found")
	}
	if info.Size() == 0 {
		// The chunk scheme has no way to terminate a zero-length stream.
		return failure("empty resource")
	}
	if info.Size() > s.cfg.MaxBodyBytes {
		return failure("resource too large")
	}
	body, err := os.ReadFile(full)
	if err != nil {
		return failure("resource not readable")
	}
	return response{meta: metaFor(full), body: body}
}

func serveListing(clean, full string) response {
	entries, err := os.ReadDir(full)
	if err != nil {
		return failure("resource not readable")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "# Index of %s\n\n", clean)
	if clean != "/" {
		b.WriteString("=> ../\n")
	}
	for _, name := range names {
		fmt.Fprintf(&b, "=> %s\n", name)
	}
	return response{meta: "text/gemini", body: []byte(b.String())}
}

// echoResponse demonstrates the input prompt flow: no query asks for
// input, a query echoes back as plain text.
func echoResponse(u *url.URL) response {
	if u.RawQuery == "" {
		return response{code: guppy.CodeInputRequired, meta: "Enter text to echo"}
	}
	text, err := url.QueryUnescape(u.RawQuery)
	if err != nil {
		text = u.RawQuery
	}
	return response{meta: "text/plain", body: []byte(text + "\n")}
}

func metaFor(full string) string {
	ext := strings.ToLower(filepath.Ext(full))
	switch ext {
	case ".gmi", ".gemini":
		return "text/gemini"
	case ".txt":
		return "text/plain"
	case ".md":
		return "text/markdown"
	}
	m := mime.TypeByExtension(ext)
	if m == "" {
		return "application/octet-stream"
	}
	if i := strings.IndexByte(m, ';'); i > 0 {
		m = strings.TrimSpace(m[:i])
	}
	return m
}
