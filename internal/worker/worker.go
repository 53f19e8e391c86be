// Package worker implements the per-connection request-servicing
// pipeline: parse the client's request line, probe the cache, build and
// send the upstream request, relay the origin's response back to the
// client while teeing it into a cache candidate, and insert the result
// on a cacheable miss. Grounded on the reference proxy's doit() in
// proxy.c, generalized from its single-threaded call into a function run
// once per accepted connection by internal/acceptor.
package worker

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dkruger/cacheproxy/internal/cache"
	"github.com/dkruger/cacheproxy/internal/httperr"
	"github.com/dkruger/cacheproxy/internal/logging"
	"github.com/dkruger/cacheproxy/internal/metrics"
	"github.com/dkruger/cacheproxy/internal/upstream"
)

// maxLineSize bounds a single buffered line read, matching the reference
// proxy's MAXLINE.
const maxLineSize = 8192

// relayBufSize is the chunk size used to copy bytes from origin to
// client during the relay loop.
const relayBufSize = 4096

// Worker services exactly one client transaction per Serve call. A
// single Worker value is shared across goroutines; it holds no
// per-connection state.
type Worker struct {
	cache       *cache.Cache
	metrics     *metrics.Metrics
	logger      *logging.Logger
	dialTimeout time.Duration
	dial        func(network, address string, timeout time.Duration) (net.Conn, error)
}

// New creates a Worker bound to the shared cache, metrics, and logger,
// dialing origins with the given timeout.
func New(c *cache.Cache, m *metrics.Metrics, l *logging.Logger, dialTimeout time.Duration) *Worker {
	return &Worker{
		cache:       c,
		metrics:     m,
		logger:      l,
		dialTimeout: dialTimeout,
		dial:        net.DialTimeout,
	}
}

// Serve handles exactly one transaction on conn and closes it before
// returning, on every exit path.
func (w *Worker) Serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	txID := uuid.NewString()
	ctx, span := w.logger.StartSpan(ctx, "proxy.transaction")
	defer span.End()

	start := time.Now()
	log := w.logger.WithFields(slog.String("tx_id", txID), slog.String("peer", conn.RemoteAddr().String()))

	reader := bufio.NewReaderSize(conn, maxLineSize)

	line, err := readLine(reader)
	if err != nil {
		// Zero bytes or an I/O error on the request line: terminate
		// silently, matching the reference proxy's behavior.
		return
	}

	method, uri, versionOK := parseRequestLine(line)
	if method == "" || !versionOK {
		httperr.Write(conn, "400", "Bad Request", "Could not parse the request line.")
		w.metrics.RecordTransaction("", metrics.OutcomeBadRequest, time.Since(start))
		return
	}

	if method != "GET" {
		httperr.Write(conn, "501", "Not Implemented", "Method not implemented by this proxy.")
		w.metrics.RecordTransaction(method, metrics.OutcomeNotImplemented, time.Since(start))
		return
	}

	if handle, ok := w.cache.Lookup(uri); ok {
		body := handle.Bytes()
		n, writeErr := writeAll(conn, body)
		w.cache.Release(handle)
		w.metrics.RecordBytesRelayed(int64(n))
		w.metrics.RecordTransaction(method, metrics.OutcomeCacheHit, time.Since(start))
		if writeErr != nil {
			log.Warn(ctx, "failed writing cached body to client", slog.String("uri", uri))
		}
		return
	}

	host, port, path, ok := parseURI(uri)
	if !ok {
		log.Warn(ctx, "failed to parse request URI", slog.String("uri", uri))
		return
	}

	headerLines, err := readHeaders(reader)
	if err != nil {
		log.Warn(ctx, "failed reading client headers", slog.String("uri", uri))
		return
	}

	reqHostHeader := host
	if port != "80" {
		reqHostHeader = host + ":" + port
	}
	upstreamReq := upstream.Build(reqHostHeader, path, headerLines)

	origin, err := w.dial("tcp", net.JoinHostPort(host, port), w.dialTimeout)
	if err != nil {
		log.Warn(ctx, "failed to connect to origin", slog.String("host", host), slog.String("port", port))
		w.metrics.RecordTransaction(method, metrics.OutcomeOriginError, time.Since(start))
		return
	}
	defer origin.Close()

	if _, err := writeAll(origin, upstreamReq); err != nil {
		log.Warn(ctx, "failed to send upstream request", slog.String("uri", uri))
		w.metrics.RecordTransaction(method, metrics.OutcomeOriginError, time.Since(start))
		return
	}

	total, candidate, complete := w.relay(conn, origin)

	if complete && total <= w.cache.MaxObjectSize() {
		if existing, hit := w.cache.Lookup(uri); hit {
			w.cache.Release(existing)
		} else {
			w.cache.Insert(uri, candidate)
		}
	}

	w.metrics.RecordTransaction(method, metrics.OutcomeCacheMiss, time.Since(start))
}

// relay copies bytes from origin to conn until origin EOF, tee-ing them
// into a candidate buffer up to the cache's per-object cap. It returns
// the total bytes relayed (which may exceed the cap), the candidate
// buffer, and whether origin EOF was reached. A failed client write or an
// origin read error stops the relay early with complete set to false. The
// candidate is valid for caching only when complete is true and
// total <= cache.MaxObjectSize().
func (w *Worker) relay(conn, origin net.Conn) (int64, []byte, bool) {
	objCap := w.cache.MaxObjectSize()
	candidate := make([]byte, 0, objCap)

	var total int64
	buf := make([]byte, relayBufSize)

	for {
		n, readErr := origin.Read(buf)
		if n > 0 {
			if _, writeErr := writeAll(conn, buf[:n]); writeErr != nil {
				return total, candidate, false
			}
			w.metrics.RecordBytesRelayed(int64(n))

			if total < objCap {
				remaining := objCap - total
				take := int64(n)
				if take > remaining {
					take = remaining
				}
				candidate = append(candidate, buf[:take]...)
			}
			total += int64(n)
		}
		if readErr != nil {
			return total, candidate, readErr == io.EOF
		}
	}
}

// readLine reads one CRLF-terminated line (trailing CRLF/LF stripped).
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readHeaders reads header lines (each with its trailing CRLF intact)
// until a blank line or EOF.
func readHeaders(r *bufio.Reader) ([]string, error) {
	var lines []string
	for {
		line, err := r.ReadString('\n')
		if line == "\r\n" || line == "\n" || line == "" {
			return lines, nil
		}
		lines = append(lines, line)
		if err != nil {
			return lines, nil
		}
	}
}

// parseRequestLine tokenizes "METHOD URI HTTP/1.x" into its parts.
// versionOK reports whether the trailing digit is 0 or 1. method is
// empty on any malformed line.
func parseRequestLine(line string) (method, uri string, versionOK bool) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return "", "", false
	}

	method, uri, version := fields[0], fields[1], fields[2]

	const prefix = "HTTP/1."
	if !strings.HasPrefix(version, prefix) || len(version) != len(prefix)+1 {
		return "", "", false
	}
	digit := version[len(prefix):]
	if digit != "0" && digit != "1" {
		return "", "", false
	}

	return method, uri, true
}

// parseURI extracts host, port (default "80"), and path from an
// absolute-form request target such as "http://host:port/path".
func parseURI(raw string) (host, port, path string, ok bool) {
	rest := raw
	if strings.HasPrefix(rest, "http://") {
		rest = rest[len("http://"):]
	} else if strings.HasPrefix(rest, "https://") {
		rest = rest[len("https://"):]
	}

	slash := strings.IndexByte(rest, '/')
	hostport := rest
	path = "/"
	if slash >= 0 {
		hostport = rest[:slash]
		path = rest[slash:]
	}
	if hostport == "" {
		return "", "", "", false
	}

	host = hostport
	port = "80"
	if colon := strings.IndexByte(hostport, ':'); colon >= 0 {
		host = hostport[:colon]
		port = hostport[colon+1:]
		if _, err := strconv.Atoi(port); err != nil {
			return "", "", "", false
		}
	}
	if host == "" {
		return "", "", "", false
	}

	return host, port, path, true
}

// writeAll writes the full buffer to w, restarting on partial writes and
// tolerating nothing special about EPIPE beyond propagating the error
// (the caller closes the connection on any error path regardless).
func writeAll(w io.Writer, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := w.Write(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
