package main

import (
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

// connPair builds a connection over one end of a socketpair; the other end
// plays the client.
func connPair(t *testing.T, srv *ServerConfig) (*Connection, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		t.Fatal(err)
	}

	c := newConnection(fds[0], srv, testLogger())
	t.Cleanup(func() {
		if c.fd != -1 {
			c.Close()
		}
		unix.Close(fds[1])
	})
	return c, fds[1]
}

func clientWrite(t *testing.T, fd int, data string) {
	t.Helper()
	if _, err := unix.Write(fd, []byte(data)); err != nil {
		t.Fatal(err)
	}
}

func clientRead(t *testing.T, fd int) string {
	t.Helper()
	var buf [65536]byte
	n, err := unix.Read(fd, buf[:])
	if err != nil {
		t.Fatalf(`client read: %v`, err)
	}
	return string(buf[:n])
}

// drain pumps handleWritable until the outgoing buffer is flushed.
func drain(t *testing.T, c *Connection) connAction {
	t.Helper()
	for {
		action := c.handleWritable()
		if action != actionNone {
			return action
		}
		if c.sent == 0 && len(c.outBuf) == 0 {
			return actionNone
		}
	}
}

func TestConnGetStaticFile(t *testing.T) {
	srv := routerFixture(t)
	c, client := connPair(t, srv)

	clientWrite(t, client, "GET /index.html HTTP/1.1\r\nHost: x\r\n\r\n")

	if action := c.handleReadable(); action != actionWrite {
		t.Fatalf(`action after read = %d, want actionWrite`, action)
	}

	if action := drain(t, c); action != actionRead {
		t.Fatalf(`action after send = %d, want actionRead`, action)
	}

	response := clientRead(t, client)
	if !strings.HasPrefix(response, "HTTP/1.1 200 OK\r\n") {
		t.Errorf(`status line: %q`, response)
	}
	if !strings.Contains(response, "Content-Type: text/html\r\n") {
		t.Errorf(`missing content type: %q`, response)
	}
	if !strings.Contains(response, "Content-Length: 6\r\n") {
		t.Errorf(`missing content length: %q`, response)
	}
	if !strings.Contains(response, "Connection: keep-alive\r\n") {
		t.Errorf(`missing keep-alive: %q`, response)
	}
	if !strings.HasSuffix(response, "\r\n\r\nhello\n") {
		t.Errorf(`body wrong: %q`, response)
	}

	// request/response were reset for the next keep-alive cycle
	if c.req.State != StateRequestLine || c.res.Status != StatusOK {
		t.Error(`request/response not reset after dispatch`)
	}
}

func TestConnKeepAliveTwoRequests(t *testing.T) {
	srv := routerFixture(t)
	c, client := connPair(t, srv)

	for i := 0; i < 2; i++ {
		clientWrite(t, client, "GET /page.txt HTTP/1.1\r\nHost: x\r\n\r\n")
		if action := c.handleReadable(); action != actionWrite {
			t.Fatalf(`request %d: action = %d, want actionWrite`, i+1, action)
		}
		if action := drain(t, c); action != actionRead {
			t.Fatalf(`request %d: connection did not return to reading`, i+1)
		}
		response := clientRead(t, client)
		if !strings.HasPrefix(response, "HTTP/1.1 200 OK\r\n") {
			t.Fatalf(`request %d: %q`, i+1, response)
		}
		if !strings.Contains(response, "Connection: keep-alive\r\n") {
			t.Errorf(`request %d: not keep-alive`, i+1)
		}
	}
}

func TestConnConnectionClose(t *testing.T) {
	srv := routerFixture(t)
	c, client := connPair(t, srv)

	clientWrite(t, client, "GET /page.txt HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")

	if action := c.handleReadable(); action != actionWrite {
		t.Fatal(`expected actionWrite`)
	}
	if action := drain(t, c); action != actionClose {
		t.Fatalf(`action after send = %d, want actionClose`, action)
	}

	response := clientRead(t, client)
	if !strings.Contains(response, "Connection: close\r\n") {
		t.Errorf(`missing close header: %q`, response)
	}
}

func TestConnPipelinedRequests(t *testing.T) {
	srv := routerFixture(t)
	c, client := connPair(t, srv)

	clientWrite(t, client,
		"GET /page.txt HTTP/1.1\r\nHost: x\r\n\r\nGET /index.html HTTP/1.1\r\nHost: x\r\n\r\n")

	if action := c.handleReadable(); action != actionWrite {
		t.Fatal(`expected actionWrite for first response`)
	}

	// draining the first response must immediately queue the second
	if action := drain(t, c); action != actionWrite {
		t.Fatalf(`action = %d, want actionWrite for pipelined request`, action)
	}
	if action := drain(t, c); action != actionRead {
		t.Fatal(`second response did not drain back to reading`)
	}

	combined := clientRead(t, client)
	if strings.Count(combined, `HTTP/1.1 200 OK`) != 2 {
		t.Errorf(`expected two responses, got: %q`, combined)
	}
}

func TestConnExpectContinue(t *testing.T) {
	srv := routerFixture(t)
	c, client := connPair(t, srv)

	clientWrite(t, client,
		"POST /upload HTTP/1.1\r\nHost: x\r\nExpect: 100-continue\r\nContent-Length: 3\r\n\r\n")

	if action := c.handleReadable(); action != actionWrite {
		t.Fatal(`expected actionWrite for the interim response`)
	}
	if !c.interim {
		t.Fatal(`interim flag not set`)
	}
	if action := drain(t, c); action != actionRead {
		t.Fatal(`100 Continue did not return the connection to reading`)
	}

	interim := clientRead(t, client)
	if interim != "HTTP/1.1 100 Continue\r\n\r\n" {
		t.Fatalf(`interim response = %q`, interim)
	}

	// now the deferred body arrives; the route answers 400 (not multipart),
	// which is in the must-close set
	clientWrite(t, client, `abc`)
	if action := c.handleReadable(); action != actionWrite {
		t.Fatal(`expected actionWrite for the final response`)
	}
	if action := drain(t, c); action != actionClose {
		t.Fatal(`must-close response should close the connection`)
	}

	final := clientRead(t, client)
	if !strings.HasPrefix(final, `HTTP/1.1 `) || strings.HasPrefix(final, `HTTP/1.1 100`) {
		t.Errorf(`final response = %q`, final)
	}
}

func TestConnPeerClose(t *testing.T) {
	srv := routerFixture(t)
	c, client := connPair(t, srv)

	unix.Close(client)
	// closing our cleanup copy twice is harmless; mark it gone
	if action := c.handleReadable(); action != actionClose {
		t.Fatalf(`action = %d, want actionClose on EOF`, action)
	}
}
