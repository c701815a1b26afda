package scgi

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gahr/scgi-go/internal/config"
	"github.com/gahr/scgi-go/internal/worker"
)

// TestQuickjsBackendServesExpressionAndScriptError drives a net.Pipe
// connection through the real connection FSM (newConn/run, exactly as
// Gate.serveConn uses them) and worker.Server.Handle, with the default
// quickjs backend actually evaluating the script fragments — no fake
// engine anywhere on this path. It covers the two scenarios where the
// choice of engine matters: an inline expression (<?@ 1 + 2 ?>) and a
// script raising an error.
func TestQuickjsBackendServesExpressionAndScriptError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "add.tcl"), "<p><?@ 1 + 2 ?></p>")
	writeFile(t, filepath.Join(dir, "err.tcl"), "<? throw new Error('oops') ?>")

	cfg := config.Default()
	cfg.ScriptPath = dir
	cfg.MaxThreads = 1
	cfg.MinThreads = 0
	cfg.ScriptTimeout = 5 * time.Second

	server := worker.NewServer(cfg)

	t.Run("expression fragment", func(t *testing.T) {
		out := scgiRoundTrip(t, server, "/add.tcl")
		if !strings.Contains(out, "<p>3</p>\n") {
			t.Fatalf("got response %q", out)
		}
	})

	t.Run("script error", func(t *testing.T) {
		out := scgiRoundTrip(t, server, "/err.tcl")
		if !strings.Contains(out, "Status: 500 Internal server error") {
			t.Fatalf("got response %q", out)
		}
		if !strings.Contains(out, "oops") {
			t.Fatalf("expected the thrown message in the body, got %q", out)
		}
	})
}

// scgiRoundTrip encodes an SCGI request for scriptName, feeds it through
// the same newConn/run path Gate.serveConn uses, then hands the result
// to server.Handle and returns whatever it wrote back.
func scgiRoundTrip(t *testing.T, server *worker.Server, scriptName string) string {
	t.Helper()
	client, srv := net.Pipe()

	reqHeaders := map[string]string{
		"CONTENT_LENGTH": "0",
		"SCGI":           "1",
		"SCRIPT_NAME":    scriptName,
	}
	respCh := make(chan string, 1)
	go func() {
		if _, err := client.Write(encodeRequest(reqHeaders)); err != nil {
			respCh <- ""
			return
		}
		out, _ := io.ReadAll(client)
		respCh <- string(out)
	}()

	c := newConn("quickjs-it", srv, 0)
	headers, body, err := c.run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	server.Handle(context.Background(), srv, headers, body)

	select {
	case out := <-respCh:
		return out
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a response")
		return ""
	}
}

func encodeRequest(headers map[string]string) []byte {
	var head strings.Builder
	for k, v := range headers {
		head.WriteString(k)
		head.WriteByte(0)
		head.WriteString(v)
		head.WriteByte(0)
	}
	return []byte(fmt.Sprintf("%d:%s,", head.Len(), head.String()))
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}
