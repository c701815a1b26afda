// Command scgid is an SCGI front-end server: it accepts SCGI
// connections, resolves and runs a template against an embedded
// scripting sandbox, and flushes the buffered response.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gahr/scgi-go/internal/config"
	"github.com/gahr/scgi-go/internal/logging"
	"github.com/gahr/scgi-go/internal/scgi"
	"github.com/gahr/scgi-go/internal/worker"
)

const usage = `
scgid - an SCGI front-end server with an embedded scripting sandbox
================================================================================

  scgid [OPTIONS]

OPTIONS
-------

  -addr <string>            listen address (default: 127.0.0.1)
  -port <int>               listen port (default: 4000)
  -path <string>            script_path override (default: derive from DOCUMENT_ROOT)
  -fork                     daemonize: re-exec self, print child PID on stdout, exit
  -max_threads <int>        maximum worker pool size (default: 50)
  -min_threads <int>        minimum idle workers kept alive (default: 1)
  -thread_keepalive <secs>  idle worker reclamation age (default: 60)
  -conn_keepalive <secs>    connection idle timeout; negative disables it (default: -1)
  -script_timeout <secs>    per-request script execution limit, 0 disables it (default: 30)
  -verbose                  enable verbose logging
  -help, -?                 show this message and exit
  --                        end of options

`

func main() {
	cfg := config.Default()

	var help, fork bool
	var threadKeepaliveSecs, connKeepaliveSecs, scriptTimeoutSecs int

	fs := flag.NewFlagSet("scgid", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "")
	fs.StringVar(&cfg.ScriptPath, "path", cfg.ScriptPath, "")
	fs.BoolVar(&fork, "fork", false, "")
	fs.IntVar(&cfg.MaxThreads, "max_threads", cfg.MaxThreads, "")
	fs.IntVar(&cfg.MinThreads, "min_threads", cfg.MinThreads, "")
	fs.IntVar(&threadKeepaliveSecs, "thread_keepalive", int(cfg.ThreadKeepalive/time.Second), "")
	fs.IntVar(&connKeepaliveSecs, "conn_keepalive", int(cfg.ConnKeepalive/time.Second), "")
	fs.IntVar(&scriptTimeoutSecs, "script_timeout", int(cfg.ScriptTimeout/time.Second), "")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "")
	fs.BoolVar(&help, "help", false, "")
	fs.BoolVar(&help, "?", false, "")

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(logging.CodeArgError)
	}
	if help {
		fs.Usage()
		os.Exit(logging.CodeOK)
	}

	cfg.ThreadKeepalive = time.Duration(threadKeepaliveSecs) * time.Second
	cfg.ConnKeepalive = time.Duration(connKeepaliveSecs) * time.Second
	cfg.ScriptTimeout = time.Duration(scriptTimeoutSecs) * time.Second

	if err := cfg.Validate(); err != nil {
		logging.ArgExitf("%v", err)
	}
	logging.SetVerbose(cfg.Verbose)

	if fork {
		daemonize()
		return
	}

	run(cfg)
}

// daemonize re-execs the current binary with "-fork" stripped from its
// arguments, detached from the terminal, prints the child's PID on
// stdout, and exits. Grounded on hexinfra-gorox/hemi/manager's
// os.StartProcess-based leader daemonization (manager/main.go), without
// the leader/worker split gorox needs and this single-process server
// does not.
func daemonize() {
	exe, err := os.Executable()
	if err != nil {
		logging.ArgExitf("cannot locate own executable: %v", err)
	}
	args := make([]string, 0, len(os.Args))
	for _, a := range os.Args[1:] {
		if a != "-fork" && a != "--fork" {
			args = append(args, a)
		}
	}
	procArgs := append([]string{exe}, args...)

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		logging.ArgExitf("cannot open %s: %v", os.DevNull, err)
	}
	defer devNull.Close()

	proc, err := os.StartProcess(exe, procArgs, &os.ProcAttr{
		Env:   os.Environ(),
		Files: []*os.File{devNull, devNull, devNull},
	})
	if err != nil {
		logging.ArgExitf("fork failed: %v", err)
	}
	fmt.Println(proc.Pid)
	proc.Release()
	os.Exit(logging.CodeOK)
}

func run(cfg config.Config) {
	server := worker.NewServer(cfg)
	gate, err := scgi.Listen(cfg.Address(), connIdleTimeout(cfg), server.Handle)
	if err != nil {
		logging.BindExitf("cannot listen on %s: %v", cfg.Address(), err)
	}
	logging.Logf("scgid listening on %s (max_threads=%d min_threads=%d verbose=%v)", cfg.Address(), cfg.MaxThreads, cfg.MinThreads, logging.Verbose())

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logging.Logf("scgid: shutting down")
		cancel()
	}()

	gate.Serve(ctx)
	os.Exit(logging.CodeOK)
}

func connIdleTimeout(cfg config.Config) time.Duration {
	if !cfg.HasConnTimeout() {
		return 0
	}
	return cfg.ConnKeepalive
}
