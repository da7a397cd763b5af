// Package fetch implements the resumable byte source: an HTTP GET streamed
// through a bzip2 decompressor that transparently reconnects with a
// byte-range request on recoverable I/O faults, preserving byte-exact
// continuity across reconnects.
package fetch

import (
	"compress/bzip2"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sony/gobreaker"
)

const (
	userAgent       = "geoingest/1.0 (+https://github.com/geoingest/geoingest)"
	maxOpenRetries  = 32
	openRetrySpacing = 8 * time.Second
)

// ErrETagMismatch indicates the upstream resource changed between opens —
// it is never retried.
var ErrETagMismatch = errors.New("fetch: etag mismatch on reconnect")

// ErrContentRangeTooSmall indicates the server resumed later than our last
// known offset, which would silently skip bytes not yet consumed. (A start
// earlier than the offset is not an error: the overlap is discarded.)
var ErrContentRangeTooSmall = errors.New("fetch: content-range start is past bytes already read")

// Source is a resumable, decompressing byte source over an HTTP GET.
// It is not safe for concurrent use.
type Source struct {
	client *http.Client
	url    string
	breaker *gobreaker.CircuitBreaker

	etag          string
	contentLength *int64
	bytesIn       uint64

	body      io.ReadCloser
	dec       io.Reader
	transport *countingReader

	opened bool
}

// New returns a Source for url. The HTTP client is the caller's
// responsibility to configure (timeouts, etc); a zero-value client with
// sane defaults is used if nil.
func New(rawURL string, client *http.Client) *Source {
	if client == nil {
		client = &http.Client{}
	}
	settings := gobreaker.Settings{
		Name:        "fetch.open",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Source{
		client:  client,
		url:     rawURL,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Open establishes the connection, retrying up to 32 times at 8s spacing
// before surfacing the error. Each attempt goes through a circuit breaker:
// after 5 consecutive failures it stays open for 30s, during which attempts
// fail without sending a request. Those attempts still count against the 32
// and are still spaced 8s apart.
func (s *Source) Open(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < maxOpenRetries; attempt++ {
		_, err := s.breaker.Execute(func() (any, error) {
			return nil, s.open(ctx, 0)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrETagMismatch) {
			return err
		}
		lastErr = err
		slog.Warn("fetch: open attempt failed", "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(openRetrySpacing):
		}
	}
	return fmt.Errorf("fetch: open failed after %d attempts: %w", maxOpenRetries, lastErr)
}

// reopen re-establishes the connection from the current byte offset,
// through the same retry-and-breaker path as Open.
func (s *Source) reopen(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < maxOpenRetries; attempt++ {
		_, err := s.breaker.Execute(func() (any, error) {
			return nil, s.open(ctx, s.bytesIn)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrETagMismatch) {
			return err
		}
		lastErr = err
		slog.Warn("fetch: reopen attempt failed", "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(openRetrySpacing):
		}
	}
	return fmt.Errorf("fetch: reopen failed after %d attempts: %w", maxOpenRetries, lastErr)
}

// open performs a single GET attempt at byte offset from, validating the
// server's response and discarding any overlap.
func (s *Source) open(ctx context.Context, from uint64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	if s.opened {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", from))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return fmt.Errorf("fetch: unexpected status %d", resp.StatusCode)
	}

	etag := resp.Header.Get("ETag")
	if !s.opened {
		s.etag = etag
		if cl := resp.Header.Get("Content-Length"); cl != "" {
			if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
				s.contentLength = &n
			}
		}
	} else if etag != s.etag {
		resp.Body.Close()
		return ErrETagMismatch
	}

	body := resp.Body
	if s.opened {
		start, err := parseContentRangeStart(resp.Header.Get("Content-Range"))
		if err != nil {
			body.Close()
			return fmt.Errorf("fetch: %w", err)
		}
		if start > from {
			body.Close()
			return ErrContentRangeTooSmall
		}
		if start < from {
			if err := discard(body, from-start); err != nil {
				body.Close()
				return fmt.Errorf("fetch: discarding overlap: %w", err)
			}
		}
	}

	if s.body != nil {
		s.body.Close()
	}
	s.body = body
	if s.transport == nil {
		s.transport = &countingReader{r: s.body, n: &s.bytesIn}
		s.dec = bzip2.NewReader(s.transport)
	} else {
		// Swap only the underlying byte channel; the bzip2.Reader built
		// over s.transport is never reconstructed, so its internal
		// decompression state survives the reconnect.
		s.transport.r = s.body
	}
	s.opened = true
	return nil
}

func parseContentRangeStart(header string) (uint64, error) {
	if header == "" {
		return 0, nil
	}
	// Format: "bytes S-E/T" or "bytes S-E/*"
	header = strings.TrimPrefix(header, "bytes ")
	dash := strings.Index(header, "-")
	if dash == -1 {
		return 0, fmt.Errorf("malformed content-range %q", header)
	}
	return strconv.ParseUint(header[:dash], 10, 64)
}

func discard(r io.Reader, n uint64) error {
	_, err := io.CopyN(io.Discard, r, int64(n))
	return err
}

// countingReader tallies compressed bytes consumed from the network into
// *n, independent of however many decompressed bytes the bzip2 reader
// eventually yields.
type countingReader struct {
	r io.Reader
	n *uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	*c.n += uint64(n)
	return n, err
}

// Read fills buf from the decompressed stream, returning 0 only at true
// end-of-stream. Recoverable I/O faults trigger a transparent reconnect;
// unrecoverable ones are returned to the caller.
func (s *Source) Read(ctx context.Context, buf []byte) (int, error) {
	if !s.opened {
		if err := s.Open(ctx); err != nil {
			return 0, err
		}
	}

	for {
		n, err := s.dec.Read(buf)
		if err == nil || (n > 0 && err == io.EOF) {
			return n, nil
		}
		if err == io.EOF {
			return 0, io.EOF
		}

		switch classify(err) {
		case actionRetry:
			slog.Debug("fetch: retrying read after interrupted error", "error", err)
			continue
		case actionReopen:
			slog.Warn("fetch: reopening after recoverable read error", "error", err)
			if rErr := s.reopen(ctx); rErr != nil {
				return 0, rErr
			}
			continue
		default:
			return 0, err
		}
	}
}

type action int

const (
	actionFail action = iota
	actionRetry
	actionReopen
)

// classify maps an I/O error to a retry action per the reconnect protocol:
// interrupted reads retry in place; broken pipes, aborted/refused/reset
// connections, timeouts, unexpected EOFs, transport-level *url.Error values,
// and errors whose message mentions a reset, broken pipe, abort, refusal,
// timeout or EOF reopen; anything else fails.
func classify(err error) action {
	if err == nil {
		return actionFail
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return actionReopen
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return actionReopen
		}
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return actionReopen
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return actionReopen
	}

	if errors.Is(err, syscall.EINTR) {
		return actionRetry
	}

	if strings.Contains(err.Error(), "connection reset") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection aborted") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "timeout") ||
		strings.Contains(err.Error(), "EOF") {
		return actionReopen
	}

	return actionFail
}

// BytesRead returns the count of compressed bytes consumed from the
// network so far.
func (s *Source) BytesRead() uint64 { return s.bytesIn }

// ContentLength returns the server-advertised length, if one was present
// on the first open.
func (s *Source) ContentLength() (int64, bool) {
	if s.contentLength == nil {
		return 0, false
	}
	return *s.contentLength, true
}

// Close releases the underlying connection.
func (s *Source) Close() error {
	if s.body == nil {
		return nil
	}
	return s.body.Close()
}
