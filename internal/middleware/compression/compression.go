package compression

import (
	"compress/gzip"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// encodingWriter is an io.Writer that can be closed.
type encodingWriter interface {
	io.Writer
	Close() error
}

// optionalFlusher is implemented by writers that support flushing.
type optionalFlusher interface {
	Flush() error
}

// countWriter wraps an io.Writer and counts bytes written.
type countWriter struct {
	w io.Writer
	n int64
}

func (cw *countWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// pooledZstdWriter wraps a *zstd.Encoder and returns it to a pool on Close.
type pooledZstdWriter struct {
	enc  *zstd.Encoder
	pool *sync.Pool
}

func (pw *pooledZstdWriter) Write(p []byte) (int, error) {
	return pw.enc.Write(p)
}

func (pw *pooledZstdWriter) Close() error {
	err := pw.enc.Close()
	pw.pool.Put(pw.enc)
	return err
}

// AlgorithmMetrics tracks compression metrics for one algorithm.
type AlgorithmMetrics struct {
	BytesIn  atomic.Int64
	BytesOut atomic.Int64
	Count    atomic.Int64
}

// AlgorithmSnapshot is the JSON-serializable form of AlgorithmMetrics.
type AlgorithmSnapshot struct {
	BytesIn  int64 `json:"bytes_in"`
	BytesOut int64 `json:"bytes_out"`
	Count    int64 `json:"count"`
}

// Snapshot is the gateway-wide compression stats.
type Snapshot struct {
	Algorithms map[string]AlgorithmSnapshot `json:"algorithms"`
}

// encodingPref represents a parsed Accept-Encoding entry.
type encodingPref struct {
	encoding string
	quality  float64
}

// defaultAlgoOrder is the server-preferred algorithm order.
var defaultAlgoOrder = []string{"br", "zstd", "gzip"}

// Options configures the gateway-wide compressor.
type Options struct {
	// Level is the encoder level, 1..11 (gzip caps at 9).
	Level int
	// MinSize is the response size below which compression is skipped.
	MinSize int
	// Algorithms restricts the offered encodings. Empty means all three.
	Algorithms []string
	// ContentTypes restricts compressible media types. Empty applies the
	// usual text/JSON/XML set.
	ContentTypes []string
}

// Compressor negotiates and applies response compression.
type Compressor struct {
	level        int
	minSize      int
	contentTypes map[string]bool
	algorithms   map[string]bool
	algoOrder    []string
	metrics      map[string]*AlgorithmMetrics
	zstdPool     sync.Pool
}

// New creates a Compressor.
func New(opts Options) *Compressor {
	c := &Compressor{
		level:        opts.Level,
		minSize:      opts.MinSize,
		contentTypes: make(map[string]bool),
		algorithms:   make(map[string]bool),
		metrics:      make(map[string]*AlgorithmMetrics),
	}

	if c.level <= 0 || c.level > 11 {
		c.level = 6
	}
	if c.minSize <= 0 {
		c.minSize = 1024
	}

	if len(opts.Algorithms) > 0 {
		for _, algo := range opts.Algorithms {
			c.algorithms[algo] = true
		}
	} else {
		c.algorithms["gzip"] = true
		c.algorithms["br"] = true
		c.algorithms["zstd"] = true
	}

	// Server preference order, restricted to enabled algos.
	for _, algo := range defaultAlgoOrder {
		if c.algorithms[algo] {
			c.algoOrder = append(c.algoOrder, algo)
		}
	}

	for algo := range c.algorithms {
		c.metrics[algo] = &AlgorithmMetrics{}
	}

	if len(opts.ContentTypes) > 0 {
		for _, ct := range opts.ContentTypes {
			c.contentTypes[ct] = true
		}
	} else {
		c.contentTypes["text/html"] = true
		c.contentTypes["text/css"] = true
		c.contentTypes["text/plain"] = true
		c.contentTypes["text/javascript"] = true
		c.contentTypes["application/javascript"] = true
		c.contentTypes["application/json"] = true
		c.contentTypes["application/xml"] = true
		c.contentTypes["text/xml"] = true
		c.contentTypes["image/svg+xml"] = true
	}

	zstdLevel := zstd.SpeedDefault
	if c.level > 0 {
		zstdLevel = zstd.EncoderLevelFromZstd(c.level)
	}
	c.zstdPool = sync.Pool{
		New: func() any {
			enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel))
			return enc
		},
	}

	return c
}

// MinSize returns the compression threshold in bytes.
func (c *Compressor) MinSize() int {
	return c.minSize
}

// parseAcceptEncoding parses the Accept-Encoding header per RFC 7231 §5.3.4.
func parseAcceptEncoding(header string) []encodingPref {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	prefs := make([]encodingPref, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		enc := part
		q := 1.0
		if idx := strings.Index(part, ";"); idx != -1 {
			enc = strings.TrimSpace(part[:idx])
			params := strings.TrimSpace(part[idx+1:])
			if strings.HasPrefix(params, "q=") {
				if v, err := strconv.ParseFloat(params[2:], 64); err == nil {
					q = v
				}
			}
		}
		prefs = append(prefs, encodingPref{encoding: enc, quality: q})
	}
	return prefs
}

// NegotiateEncoding selects the best algorithm for the request's
// Accept-Encoding. Returns "" when nothing acceptable is offered.
func (c *Compressor) NegotiateEncoding(r *http.Request) string {
	ae := r.Header.Get("Accept-Encoding")
	if ae == "" {
		return ""
	}

	prefs := parseAcceptEncoding(ae)
	if len(prefs) == 0 {
		return ""
	}

	clientPrefs := make(map[string]float64, len(prefs))
	hasWildcard := false
	wildcardQ := 0.0
	for _, p := range prefs {
		if p.encoding == "*" {
			hasWildcard = true
			wildcardQ = p.quality
		} else {
			clientPrefs[p.encoding] = p.quality
		}
	}

	// Walk server preference order; pick best match.
	bestAlgo := ""
	bestQ := -1.0
	for _, algo := range c.algoOrder {
		q, explicit := clientPrefs[algo]
		if !explicit {
			if hasWildcard {
				q = wildcardQ
			} else {
				continue
			}
		}
		if q <= 0 {
			continue // q=0 means rejected
		}
		// Higher quality wins; on tie, server preference (earlier in algoOrder) wins.
		if q > bestQ {
			bestQ = q
			bestAlgo = algo
		}
	}
	return bestAlgo
}

// Middleware compresses eligible responses with the negotiated encoding.
func (c *Compressor) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			algo := c.NegotiateEncoding(r)
			if algo == "" {
				next.ServeHTTP(w, r)
				return
			}
			cw := NewCompressingResponseWriter(w, c, algo)
			defer cw.Close()
			next.ServeHTTP(cw, r)
		})
	}
}

// newEncodingWriter creates a writer for the specified algorithm.
func (c *Compressor) newEncodingWriter(w io.Writer, algo string) encodingWriter {
	switch algo {
	case "gzip":
		level := c.level
		if level > 9 {
			level = 9
		}
		gz, _ := gzip.NewWriterLevel(w, level)
		return gz
	case "br":
		return brotli.NewWriterLevel(w, c.level)
	case "zstd":
		enc := c.zstdPool.Get().(*zstd.Encoder)
		enc.Reset(w)
		return &pooledZstdWriter{enc: enc, pool: &c.zstdPool}
	default:
		gz, _ := gzip.NewWriterLevel(w, c.level)
		return gz
	}
}

// Stats returns per-algorithm compression metrics.
func (c *Compressor) Stats() Snapshot {
	snap := Snapshot{
		Algorithms: make(map[string]AlgorithmSnapshot, len(c.metrics)),
	}
	for algo, m := range c.metrics {
		snap.Algorithms[algo] = AlgorithmSnapshot{
			BytesIn:  m.BytesIn.Load(),
			BytesOut: m.BytesOut.Load(),
			Count:    m.Count.Load(),
		}
	}
	return snap
}

// isCompressibleType checks if the content type should be compressed.
func (c *Compressor) isCompressibleType(contentType string) bool {
	if len(c.contentTypes) == 0 {
		return true
	}
	ct := contentType
	if idx := strings.Index(ct, ";"); idx != -1 {
		ct = strings.TrimSpace(ct[:idx])
	}
	return c.contentTypes[ct]
}

// CompressingResponseWriter wraps a ResponseWriter and compresses the
// body once it is known to clear the size threshold.
type CompressingResponseWriter struct {
	http.ResponseWriter
	compressor    *Compressor
	algorithm     string
	encWriter     encodingWriter
	countWriter   *countWriter
	headerWritten bool
	statusCode    int
	buf           []byte
	decided       bool
	compressing   bool
	bytesIn       int64
}

// NewCompressingResponseWriter creates a new compressing writer.
func NewCompressingResponseWriter(w http.ResponseWriter, c *Compressor, algo string) *CompressingResponseWriter {
	return &CompressingResponseWriter{
		ResponseWriter: w,
		compressor:     c,
		algorithm:      algo,
		statusCode:     200,
	}
}

// eligible reports whether the response, as currently headed, may still
// be compressed. Upstream responses arriving pre-encoded pass through.
func (w *CompressingResponseWriter) eligible() bool {
	h := w.ResponseWriter.Header()
	if h.Get("Content-Encoding") != "" {
		return false
	}
	ct := h.Get("Content-Type")
	if ct != "" && !w.compressor.isCompressibleType(ct) {
		return false
	}
	return true
}

// WriteHeader captures the status code. The header write is deferred
// until enough body has arrived to decide on compression.
func (w *CompressingResponseWriter) WriteHeader(code int) {
	if w.headerWritten {
		return
	}
	w.statusCode = code

	if w.decided {
		w.headerWritten = true
		if w.compressing {
			w.ResponseWriter.Header().Del("Content-Length")
			w.ResponseWriter.Header().Set("Content-Encoding", w.algorithm)
			w.ResponseWriter.Header().Add("Vary", "Accept-Encoding")
		}
		w.ResponseWriter.WriteHeader(code)
		return
	}

	if !w.eligible() {
		w.decided = true
		w.compressing = false
		w.headerWritten = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *CompressingResponseWriter) Write(b []byte) (int, error) {
	if !w.decided {
		w.buf = append(w.buf, b...)

		if !w.eligible() {
			w.decided = true
			w.compressing = false
			w.flushBuffer()
			return len(b), nil
		}

		if len(w.buf) >= w.compressor.minSize {
			w.decided = true
			w.compressing = true
			w.flushBuffer()
			return len(b), nil
		}
		return len(b), nil
	}

	if w.compressing && w.encWriter != nil {
		w.bytesIn += int64(len(b))
		return w.encWriter.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

func (w *CompressingResponseWriter) flushBuffer() {
	if !w.headerWritten {
		w.headerWritten = true
		if w.compressing {
			w.ResponseWriter.Header().Del("Content-Length")
			w.ResponseWriter.Header().Set("Content-Encoding", w.algorithm)
			w.ResponseWriter.Header().Add("Vary", "Accept-Encoding")
			cw := &countWriter{w: w.ResponseWriter}
			w.countWriter = cw
			w.encWriter = w.compressor.newEncodingWriter(cw, w.algorithm)
		}
		w.ResponseWriter.WriteHeader(w.statusCode)
	}

	if len(w.buf) > 0 {
		if w.compressing && w.encWriter != nil {
			w.bytesIn += int64(len(w.buf))
			w.encWriter.Write(w.buf)
		} else {
			w.ResponseWriter.Write(w.buf)
		}
		w.buf = nil
	}
}

// Close finishes compression. Must be called after the handler returns.
func (w *CompressingResponseWriter) Close() {
	if !w.decided {
		w.decided = true
		w.compressing = false
		w.flushBuffer()
		return
	}
	if w.compressing && w.encWriter != nil {
		w.encWriter.Close()
		if m, ok := w.compressor.metrics[w.algorithm]; ok {
			m.BytesIn.Add(w.bytesIn)
			if w.countWriter != nil {
				m.BytesOut.Add(w.countWriter.n)
			}
			m.Count.Add(1)
		}
	}
}

// Flush implements http.Flusher. An undecided stream is forced to a
// decision so streaming responses start moving.
func (w *CompressingResponseWriter) Flush() {
	if !w.decided {
		w.decided = true
		w.compressing = w.eligible() && len(w.buf) >= w.compressor.minSize
		w.flushBuffer()
	}
	if w.compressing && w.encWriter != nil {
		if f, ok := w.encWriter.(optionalFlusher); ok {
			f.Flush()
		}
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// StatusCode returns the recorded status code.
func (w *CompressingResponseWriter) StatusCode() int {
	return w.statusCode
}

// Unwrap returns the underlying ResponseWriter.
func (w *CompressingResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
