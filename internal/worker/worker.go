// Package worker ties script resolution, parameter extraction, the
// sandbox host and the template execution FSM into the request-serving
// unit leased from internal/pool. Server.Handle is the scgi.Handler
// passed to the connection gate.
package worker

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/gahr/scgi-go/internal/config"
	"github.com/gahr/scgi-go/internal/locator"
	"github.com/gahr/scgi-go/internal/logging"
	"github.com/gahr/scgi-go/internal/params"
	"github.com/gahr/scgi-go/internal/pool"
	"github.com/gahr/scgi-go/internal/response"
	"github.com/gahr/scgi-go/internal/sandbox"
	"github.com/gahr/scgi-go/internal/template"
)

// defaultEngineMemoryLimitMB caps each worker's script heap. The spec
// has no CLI knob for this; it exists purely so the isolation the pool
// promises ("isolated execution contexts") is actually enforced by the
// engine, not just implied by one-VM-per-worker.
const defaultEngineMemoryLimitMB = 64

// Server owns the worker pool and dispatches accepted SCGI requests.
type Server struct {
	cfg  config.Config
	pool *pool.Pool

	// engineFactory builds one script engine per pool worker; it is
	// newEngine (the build-tag-selected backend) in production and
	// swapped for a fake in tests.
	engineFactory func(memoryLimitMB int) (sandbox.Engine, error)
}

// NewServer builds a Server whose pool creates one fresh script engine
// per worker slot (quickjs by default, v8go under the "v8" build tag).
func NewServer(cfg config.Config) *Server {
	s := &Server{cfg: cfg, engineFactory: newEngine}
	s.pool = pool.NewPool(cfg.MaxThreads, cfg.MinThreads, cfg.ThreadKeepalive, s.newPoolWorker, s.destroyPoolWorker)
	return s
}

func (s *Server) newPoolWorker(id int64) *pool.Worker {
	engine, err := s.engineFactory(defaultEngineMemoryLimitMB)
	if err != nil {
		logging.Logf("worker %d: failed to start script engine: %v", id, err)
		return &pool.Worker{ID: id}
	}
	return &pool.Worker{ID: id, Data: engine}
}

func (s *Server) destroyPoolWorker(w *pool.Worker) {
	if engine, ok := w.Data.(sandbox.Engine); ok {
		engine.Close()
	}
}

// Handle implements scgi.Handler. It acquires a worker — blocking if
// the pool is saturated, per the spec's admission rule — resolves and
// runs the request's template, and guarantees the connection sees
// exactly one response before it is closed.
func (s *Server) Handle(ctx context.Context, conn net.Conn, headers map[string]string, body []byte) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			logging.Logf("worker: recovered from panic serving request: %v", r)
		}
	}()

	w, err := s.pool.Acquire(context.Background())
	if err != nil {
		writeStatus(conn, "500 Internal server error", "worker pool unavailable")
		return
	}
	defer s.pool.Release(w)
	logging.Verbosef("worker %d: acquired (live=%d free=%d)", w.ID, s.pool.LiveWorkers(), s.pool.FreeLen())

	engine, ok := w.Data.(sandbox.Engine)
	if !ok {
		writeStatus(conn, "500 Internal server error", "script engine unavailable")
		return
	}

	requestParams := params.Extract(headers["QUERY_STRING"], headers["HTTP_CONTENT_TYPE"], body)
	host, err := sandbox.New(engine, conn, headers, body, requestParams)
	if err != nil {
		writeStatus(conn, "500 Internal server error", err.Error())
		return
	}

	scriptPath, err := locator.Resolve(s.cfg.ScriptPath, headers)
	if err != nil {
		host.RespondError("404 Not found", notFoundBody(err))
		return
	}
	src, err := os.ReadFile(scriptPath)
	if err != nil {
		host.RespondError("404 Not found", err.Error())
		return
	}

	var timer *time.Timer
	if s.cfg.ScriptTimeout > 0 {
		timer = time.AfterFunc(s.cfg.ScriptTimeout, host.ForceStop)
	}
	runErr := template.Run(scriptPath, string(src), host)
	if timer != nil {
		timer.Stop()
	}
	if runErr != nil {
		// template.Run returns a DieError (mode-precondition violation)
		// or a line-scanner error; every script-level error is already
		// trapped into host.die by sandbox.Host.Execute.
		host.Die(runErr.Error())
	}
	scriptFlushed := host.Flushed()
	host.FlushDefault()
	logging.Verbosef("worker %d: done (script called flush=%v)", w.ID, scriptFlushed)
}

// notFoundBody builds the client-facing 404 body naming the last
// candidate the locator tried, capitalized per the response contract
// ("Could not find <candidate> on the server"); locator.NotFoundError's
// own Error() stays lowercase, following normal Go error-string
// convention.
func notFoundBody(err error) string {
	var nf *locator.NotFoundError
	if errors.As(err, &nf) {
		return "Could not find " + nf.Last + " on the server"
	}
	return err.Error()
}

// writeStatus writes a final response directly to conn for the
// failures that occur before a sandbox.Host exists (no pool worker, no
// engine on the leased worker, or a failed sandbox bind), so there is
// nowhere else to route the error.
func writeStatus(conn net.Conn, status, body string) {
	resp := response.New()
	resp.Header("Status", status, true)
	resp.PutBytes([]byte(body))
	resp.Flush(conn)
}
