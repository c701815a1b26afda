package scgi

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestMinimalRequestDispatchesImmediately(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	req := "24:CONTENT_LENGTH\x000\x00SCGI\x001\x00,"
	go func() { client.Write([]byte(req)) }()

	c := newConn("t1", server, 0)
	headers, body, err := c.run()
	if err != nil {
		t.Fatal(err)
	}
	if headers["CONTENT_LENGTH"] != "0" || headers["SCGI"] != "1" {
		t.Fatalf("got headers=%v", headers)
	}
	if len(body) != 0 {
		t.Fatalf("got body=%q, want empty", body)
	}
	if c.state != Dispatched {
		t.Fatalf("got state=%v, want Dispatched", c.state)
	}
}

func TestRequestWithBodyDispatchesAfterFullBody(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	headerBlock := "CONTENT_LENGTH\x007\x00"
	req := itoa(len(headerBlock)) + ":" + headerBlock + ",a=1&b=2"
	go func() { client.Write([]byte(req)) }()

	c := newConn("t2", server, 0)
	headers, body, err := c.run()
	if err != nil {
		t.Fatal(err)
	}
	if headers["CONTENT_LENGTH"] != "7" {
		t.Fatalf("got headers=%v", headers)
	}
	if string(body) != "a=1&b=2" {
		t.Fatalf("got body=%q", body)
	}
}

func TestBodyArrivesInMultipleReads(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	headerBlock := "CONTENT_LENGTH\x004\x00"
	full := itoa(len(headerBlock)) + ":" + headerBlock + ",body"

	go func() {
		for i := 0; i < len(full); i++ {
			client.Write([]byte{full[i]})
		}
	}()

	c := newConn("t3", server, 0)
	headers, body, err := c.run()
	if err != nil {
		t.Fatal(err)
	}
	if headers["CONTENT_LENGTH"] != "4" {
		t.Fatalf("got headers=%v", headers)
	}
	if string(body) != "body" {
		t.Fatalf("got body=%q", body)
	}
}

func TestInvalidLengthPrefixFails(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go func() { client.Write([]byte("abc:garbage,")) }()

	c := newConn("t4", server, 0)
	if _, _, err := c.run(); err == nil {
		t.Fatal("expected an error for a malformed length prefix")
	}
}

func TestIdleTimeoutClosesConnectionBeforeDispatch(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	// Client never sends anything; the connection should time out while
	// still in ReadingLen, well before Dispatched.
	c := newConn("t5", server, 30*time.Millisecond)
	_, _, err := c.run()
	if err == nil {
		t.Fatal("expected idle timeout error")
	}
	if c.state == Dispatched {
		t.Fatal("connection should not have reached Dispatched")
	}
}

func TestMissingTrailingCommaFailsCleanly(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	// A header block delivered with a byte other than the required comma
	// right after it must never reach ParseHeaders or the body slice: it
	// should be reported as a protocol error immediately, not dispatched
	// with a truncated/garbage body.
	headerBlock := "CONTENT_LENGTH\x000\x00"
	req := itoa(len(headerBlock)) + ":" + headerBlock + "X"
	go func() { client.Write([]byte(req)) }()

	c := newConn("t6", server, 2*time.Second)
	if _, _, err := c.run(); err == nil {
		t.Fatal("expected an error for a missing trailing comma")
	}
	if c.state == Dispatched {
		t.Fatal("connection should not have reached Dispatched without the comma")
	}
}

func TestGateServeInvokesHandlerWithOwnershipOfConn(t *testing.T) {
	gate, err := Listen("127.0.0.1:0", 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer gate.Close()

	done := make(chan struct{})
	gate.handle = func(ctx context.Context, conn net.Conn, headers map[string]string, body []byte) {
		defer conn.Close()
		if headers["SCGI"] != "1" {
			t.Errorf("got headers=%v", headers)
		}
		close(done)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gate.Serve(ctx)

	conn, err := net.Dial("tcp", gate.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	headerBlock := "CONTENT_LENGTH\x000\x00SCGI\x001\x00"
	req := itoa(len(headerBlock)) + ":" + headerBlock + ","
	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
