// Package acceptor runs the single accept loop that hands each inbound
// connection to a freshly spawned worker goroutine, grounded on the
// reference proxy's main() accept loop and Signal(SIGPIPE, SIG_IGN)
// call, and on the teacher's cmd/proxy/main.go for the
// signal-driven lifecycle this package is embedded into.
package acceptor

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/semaphore"

	"github.com/dkruger/cacheproxy/internal/cache"
	"github.com/dkruger/cacheproxy/internal/logging"
	"github.com/dkruger/cacheproxy/internal/metrics"
	"github.com/dkruger/cacheproxy/internal/ratelimit"
	"github.com/dkruger/cacheproxy/internal/worker"
)

// Acceptor owns the listening socket and admission control for new
// connections: a connection-count semaphore and a per-client-IP rate
// limiter, ahead of handing the connection to a worker.
type Acceptor struct {
	listener net.Listener
	worker   *worker.Worker
	limiter  *ratelimit.Limiter
	sem      *semaphore.Weighted
	metrics  *metrics.Metrics
	logger   *logging.Logger
	cache    *cache.Cache
}

// New wires an Acceptor around an already-bound listener. maxConnections
// bounds the number of connections serviced concurrently; connections
// beyond that bound wait for the semaphore rather than being rejected.
func New(listener net.Listener, w *worker.Worker, limiter *ratelimit.Limiter, maxConnections int64, m *metrics.Metrics, l *logging.Logger, c *cache.Cache) *Acceptor {
	return &Acceptor{
		listener: listener,
		worker:   w,
		limiter:  limiter,
		sem:      semaphore.NewWeighted(maxConnections),
		metrics:  m,
		logger:   l,
		cache:    c,
	}
}

// ignoreSIGPIPE installs a disposition that drops SIGPIPE notifications
// so that a client disconnecting mid-relay never terminates the process.
// Go's runtime already turns EPIPE into a regular write error rather than
// raising SIGPIPE on a socket write, but the reference proxy's contract
// names this step explicitly, so it is kept as visible, intentional
// setup rather than relying on that implicit guarantee.
func ignoreSIGPIPE() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGPIPE)
	go func() {
		for range c {
		}
	}()
}

// Run accepts connections until ctx is cancelled or the listener is
// closed. Each accepted connection is serviced by its own goroutine and
// Run does not wait for in-flight workers to finish before returning.
func (a *Acceptor) Run(ctx context.Context) error {
	ignoreSIGPIPE()

	go func() {
		<-ctx.Done()
		a.listener.Close()
	}()

	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}

		clientIP, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		if !a.limiter.Allow(clientIP) {
			conn.Close()
			a.metrics.RecordTransaction("", metrics.OutcomeRateLimited, 0)
			continue
		}

		if err := a.sem.Acquire(ctx, 1); err != nil {
			conn.Close()
			return nil
		}

		a.metrics.IncrementConnections()
		a.logger.Info(ctx, "accepted connection", slog.String("peer", conn.RemoteAddr().String()))

		go func(c net.Conn) {
			defer a.sem.Release(1)
			defer a.metrics.DecrementConnections()
			a.worker.Serve(ctx, c)
		}(conn)
	}
}
