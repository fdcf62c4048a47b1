package main

import (
	"golang.org/x/sys/unix"
)

type connAction int

const (
	actionNone = connAction(iota) // interest unchanged
	actionRead                    // arm POLLIN
	actionWrite                   // arm POLLOUT
	actionWaitCgi                 // register the CGI pipe, mute the client
	actionClose                   // drop the connection
)

const recvChunkSize = 4096

const continueLiteral = "HTTP/1.1 100 Continue\r\n\r\n"

// Connection owns one client socket plus its buffers, the in-flight
// request/response pair, and the CGI handle while one is running. The
// socket descriptor is closed exactly once, in Close.
type Connection struct {
	fd  int
	srv *ServerConfig
	lg  *Logger

	inBuf  []byte
	outBuf []byte
	sent   int

	keepAlive bool
	interim   bool // outBuf holds a 100 Continue, not a final response

	req *Request
	res *Response
	cgi *CgiHandle
}

func newConnection(fd int, srv *ServerConfig, lg *Logger) *Connection {
	return &Connection{
		fd:        fd,
		srv:       srv,
		lg:        lg,
		keepAlive: true,
		req:       NewRequest(),
		res:       NewResponse(),
	}
}

func (c *Connection) Close() {
	unix.Close(c.fd)
	c.fd = -1
}

// handleReadable is step R: read one chunk, feed the parser, and decide
// what the loop should do next.
func (c *Connection) handleReadable() connAction {
	var buf [recvChunkSize]byte

	n, err := unix.Read(c.fd, buf[:])
	switch {
	case err == unix.EINTR || err == unix.EAGAIN:
		return actionNone
	case err != nil:
		c.lg.Debugf(`conn fd=%d: read: %v`, c.fd, err)
		return actionClose
	case n == 0:
		// peer closed
		return actionClose
	}

	c.inBuf = append(c.inBuf, buf[:n]...)
	return c.advance()
}

// advance runs the parser over the buffered bytes and routes a completed
// request. The consumed prefix is discarded; the carry stays for the next
// read (or the next pipelined request).
func (c *Connection) advance() connAction {
	consumed := parseRequest(c.inBuf, c.req, c.srv)
	c.inBuf = c.inBuf[:copy(c.inBuf, c.inBuf[consumed:])]

	if c.req.State == StateComplete {
		return c.dispatch()
	}

	if c.req.State == StateBody && c.req.Meta.ExpectContinue {
		c.req.Meta.ExpectContinue = false
		c.outBuf = append(c.outBuf[:0], continueLiteral...)
		c.sent = 0
		c.interim = true
		return actionWrite
	}

	return actionRead
}

// handleWritable is step W: push the unsent suffix of the outgoing buffer.
// This is the only place the sent cursor advances.
func (c *Connection) handleWritable() connAction {
	if c.sent >= len(c.outBuf) {
		return actionRead
	}

	n, err := unix.SendmsgN(c.fd, c.outBuf[c.sent:], nil, nil, unix.MSG_NOSIGNAL)
	switch {
	case err == unix.EAGAIN || err == unix.EINTR:
		return actionNone
	case err != nil:
		c.lg.Debugf(`conn fd=%d: send: %v`, c.fd, err)
		return actionClose
	case n == 0:
		// a zero-byte send from a non-blocking socket means the peer went
		// away
		return actionClose
	}

	c.sent += n
	if c.sent < len(c.outBuf) {
		return actionNone
	}

	c.outBuf = c.outBuf[:0]
	c.sent = 0

	if c.interim {
		c.interim = false
		return actionRead
	}
	if !c.keepAlive {
		return actionClose
	}
	if len(c.inBuf) > 0 {
		// pipelined bytes already buffered belong to the next request
		return c.advance()
	}
	return actionRead
}

// queueResponse materializes the response into the outgoing buffer and
// resets the request/response pair for the next keep-alive cycle.
func (c *Connection) queueResponse() {
	buildResponse(c.req, c.res, c.srv)
	c.keepAlive = !c.req.Meta.ConnectionClose

	c.outBuf = serializeResponse(c.res, c.outBuf[:0])
	c.sent = 0
	c.interim = false

	c.req.Reset()
	c.res.Reset()
}
