package proxy

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/emedx/imaging-gateway/internal/governance"
	"github.com/emedx/imaging-gateway/pkg/telemetry"
)

// EngineConfig holds the explicitly constructed, immutable configuration for
// the proxy engine.
type EngineConfig struct {
	Origin          *url.URL
	Rewriter        *Rewriter
	ConnectTimeout  time.Duration
	IdleReadTimeout time.Duration
	Logger          *slog.Logger
}

// Engine forwards requests to the upstream imaging origin. Request bodies
// stream through without buffering; responses stream back unless the
// rewriter gates in on a markup content type.
type Engine struct {
	origin          *url.URL
	client          *http.Client
	rewriter        *Rewriter
	idleReadTimeout time.Duration
	logger          *slog.Logger
}

// NewEngine constructs the proxy engine with a shared upstream client.
func NewEngine(cfg EngineConfig) *Engine {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	idleReadTimeout := cfg.IdleReadTimeout
	if idleReadTimeout <= 0 {
		idleReadTimeout = 120 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
	}

	return &Engine{
		origin: cfg.Origin,
		client: &http.Client{
			Transport: transport,
			// Redirects are relayed to the client, not followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		rewriter:        cfg.Rewriter,
		idleReadTimeout: idleReadTimeout,
		logger:          logger,
	}
}

// ServeHTTP forwards one exchange to the upstream origin. A single best
// effort, no retries: the client's own retry policy governs resilience.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	// The upstream call gets its own cancelable context so the idle-read
	// watchdog can abort a stalled transfer without waiting on the client.
	upCtx, cancelUpstream := context.WithCancel(ctx)
	defer cancelUpstream()

	outReq, err := e.buildUpstreamRequest(upCtx, r)
	if err != nil {
		e.writeBadGateway(w, r, err)
		return
	}

	resp, err := e.client.Do(outReq)
	if err != nil {
		// A canceled context means the client went away; there is no one
		// left to answer.
		if ctx.Err() != nil {
			e.logger.Debug("client disconnected during upstream call",
				"method", r.Method,
				"path", r.URL.Path,
			)
			return
		}
		telemetry.RecordUpstreamFailure(ctx, r.Method)
		e.writeBadGateway(w, r, err)
		return
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			e.logger.Warn("failed to close upstream response body", "error", cerr)
		}
	}()

	bodyReader := io.Reader(resp.Body)
	if e.idleReadTimeout > 0 {
		idle := governance.NewIdleTimeoutReader(resp.Body, e.idleReadTimeout, cancelUpstream)
		defer idle.Stop()
		bodyReader = idle
	}

	rewritten := false
	var bytesOut int64
	if e.rewriter != nil && responseCanHaveBody(r.Method, resp.StatusCode) &&
		e.rewriter.ShouldRewrite(resp.Header.Get("Content-Type")) {
		rewritten = true
		bytesOut = e.relayRewritten(w, r, resp, bodyReader)
	} else {
		bytesOut = e.relayStream(w, r, resp, bodyReader)
	}

	e.logger.Debug("proxied exchange complete",
		"method", r.Method,
		"path", r.URL.Path,
		"status", resp.StatusCode,
		"rewritten", rewritten,
		"bytes_out", bytesOut,
	)
	telemetry.RecordExchange(ctx, telemetry.ExchangeMetrics{
		Method:    r.Method,
		Status:    resp.StatusCode,
		Rewritten: rewritten,
		BytesOut:  bytesOut,
		Duration:  time.Since(start),
	})
}

// buildUpstreamRequest clones the inbound exchange toward the origin,
// preserving method, path, query, and body stream, and rewriting only the
// headers required for correct routing to a new origin.
func (e *Engine) buildUpstreamRequest(ctx context.Context, r *http.Request) (*http.Request, error) {
	outURL := *e.origin
	outURL.Path = r.URL.Path
	outURL.RawPath = r.URL.RawPath
	outURL.RawQuery = r.URL.RawQuery

	outReq, err := http.NewRequestWithContext(ctx, r.Method, outURL.String(), r.Body)
	if err != nil {
		return nil, err
	}
	// Propagate the declared length so uploads stream with correct framing
	// instead of being buffered or chunked unnecessarily.
	outReq.ContentLength = r.ContentLength

	copyHeaders(outReq.Header, r.Header)
	// Framing comes from the ContentLength field, not the header map.
	outReq.Header.Del("Content-Length")
	// The origin must negotiate plain bodies: an encoded HTML document could
	// not be rewritten. Binary payloads are unaffected beyond transfer cost.
	outReq.Header.Del("Accept-Encoding")

	outReq.Host = e.origin.Host
	if clientIP, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		outReq.Header.Set("X-Forwarded-For", clientIP)
	}
	proto := "http"
	if r.TLS != nil {
		proto = "https"
	}
	outReq.Header.Set("X-Forwarded-Proto", proto)
	outReq.Header.Set("X-Forwarded-Host", r.Host)

	return outReq, nil
}

// relayStream copies the upstream response to the client byte-for-byte.
func (e *Engine) relayStream(w http.ResponseWriter, r *http.Request, resp *http.Response, body io.Reader) int64 {
	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	fw := newFlushCountingWriter(w)
	if _, err := io.Copy(fw, body); err != nil && r.Context().Err() == nil {
		e.logger.Warn("upstream body relay interrupted",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	return fw.count
}

// relayRewritten buffers a markup response, applies the branding rules, and
// emits the modified document with an exact Content-Length. Rewriting
// failures degrade to passthrough of whatever was read, never to a failed
// response.
func (e *Engine) relayRewritten(w http.ResponseWriter, r *http.Request, resp *http.Response, body io.Reader) int64 {
	buf, err := io.ReadAll(body)
	if err != nil {
		e.logger.Warn("failed to buffer markup response, relaying partial document",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}

	out := e.rewriter.Rewrite(buf)

	copyHeaders(w.Header(), resp.Header)
	// The upstream's Content-Length no longer matches the rewritten body.
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	w.WriteHeader(resp.StatusCode)

	n, werr := w.Write(out)
	if werr != nil && r.Context().Err() == nil {
		e.logger.Warn("failed to write rewritten response", "error", werr)
	}
	return int64(n)
}

func (e *Engine) writeBadGateway(w http.ResponseWriter, r *http.Request, err error) {
	e.logger.Error("upstream request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"origin", e.origin.String(),
		"error", err,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "Bad gateway",
		"message": "upstream imaging service unreachable",
	})
}

// responseCanHaveBody reports whether the exchange carries a response body
// the rewriter could operate on. HEAD responses and bodyless status codes
// must keep the upstream's declared headers untouched.
func responseCanHaveBody(method string, status int) bool {
	if method == http.MethodHead {
		return false
	}
	switch {
	case status >= 100 && status < 200:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}

// hopByHopHeaders are the RFC 7230 connection-scoped headers that must not
// be forwarded in either direction.
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailers":            {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

func isHopByHopHeader(header string) bool {
	_, ok := hopByHopHeaders[http.CanonicalHeaderKey(header)]
	return ok
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// flushCountingWriter wraps an http.ResponseWriter to count bytes written
// and flush after each write so streamed upstream responses are not held in
// gateway buffers.
type flushCountingWriter struct {
	http.ResponseWriter
	flusher http.Flusher
	count   int64
}

func newFlushCountingWriter(w http.ResponseWriter) *flushCountingWriter {
	fw := &flushCountingWriter{ResponseWriter: w}
	if flusher, ok := w.(http.Flusher); ok {
		fw.flusher = flusher
	}
	return fw
}

func (w *flushCountingWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	if err == nil {
		w.count += int64(n)
		if w.flusher != nil {
			w.flusher.Flush()
		}
	}
	return n, err
}
