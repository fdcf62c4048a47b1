package main

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const cgiTimeout = 30 * time.Second

var errCgiSpawn = errors.New(`cgi spawn failed`)

// CgiHandle is the per-process record linking a forked child's stdout pipe
// to its owning connection.
type CgiHandle struct {
	Pid          int
	OutFd        int
	ClientFd     int
	Start        time.Time
	Deadline     time.Time
	Output       []byte
	HeaderParsed bool
}

// startCgi builds the CGI/1.1 environment, forks the script with its stdin
// and stdout redirected to fresh pipes, writes the request body into the
// child and hands back a handle whose stdout end is ready for the event
// loop. The stdin write is bounded by the configured body limit and happens
// once, before the handle is registered.
func startCgi(req *Request, clientFd int, lg *Logger) (*CgiHandle, error) {
	var pipeIn, pipeOut [2]int
	if err := unix.Pipe(pipeIn[:]); err != nil {
		return nil, errCgiSpawn
	}
	if err := unix.Pipe(pipeOut[:]); err != nil {
		unix.Close(pipeIn[0])
		unix.Close(pipeIn[1])
		return nil, errCgiSpawn
	}

	script := req.Resolved
	dir := script
	if idx := strings.LastIndexByte(script, '/'); idx != -1 {
		dir = script[:idx]
	}

	attr := &syscall.ProcAttr{
		Dir:   dir,
		Env:   buildCgiEnv(req),
		Files: []uintptr{uintptr(pipeIn[0]), uintptr(pipeOut[1]), 2},
	}

	pid, err := syscall.ForkExec(script, []string{script}, attr)

	// child-side ends are the child's now
	unix.Close(pipeIn[0])
	unix.Close(pipeOut[1])

	if err != nil {
		lg.Errorf(`cgi: fork/exec %s: %v`, script, err)
		unix.Close(pipeIn[1])
		unix.Close(pipeOut[0])
		return nil, errCgiSpawn
	}

	writeCgiStdin(pipeIn[1], req.Body)
	unix.Close(pipeIn[1])

	unix.SetNonblock(pipeOut[0], true)

	now := time.Now()
	handle := &CgiHandle{
		Pid:      pid,
		OutFd:    pipeOut[0],
		ClientFd: clientFd,
		Start:    now,
		Deadline: now.Add(cgiTimeout),
	}

	lg.Debugf(`cgi: started pid=%d fd=%d script=%s`, pid, handle.OutFd, script)
	return handle, nil
}

// writeCgiStdin pushes the whole body into the child. SIGPIPE is ignored
// process-wide, so a dead child surfaces as EPIPE and the write just stops.
func writeCgiStdin(fd int, body []byte) {
	for len(body) > 0 {
		n, err := unix.Write(fd, body)
		if err == unix.EINTR {
			continue
		}
		if err != nil || n <= 0 {
			return
		}
		body = body[n:]
	}
}

// buildCgiEnv assembles the CGI/1.1 meta-variables plus the HTTP_* mirror of
// every request header.
func buildCgiEnv(req *Request) []string {
	env := make([]string, 0, 16+len(req.Headers))

	env = append(env, `REQUEST_METHOD=`+req.Method.String())
	env = append(env, `QUERY_STRING=`+req.Query)

	if contentType, ok := req.GetHeader(`content-type`); ok {
		env = append(env, `CONTENT_TYPE=`+contentType)
	}
	if contentLength, ok := req.GetHeader(`content-length`); ok {
		env = append(env, `CONTENT_LENGTH=`+contentLength)
	}

	script := baseName(req.Resolved)
	env = append(env, `SCRIPT_FILENAME=`+req.Resolved)
	env = append(env, `SCRIPT_NAME=`+script)
	env = append(env, `PATH_INFO=`+extractPathInfo(req.URI, script))
	env = append(env, `PATH_TRANSLATED=`+req.Resolved)

	env = append(env, `SERVER_PROTOCOL=HTTP/1.1`)
	env = append(env, `GATEWAY_INTERFACE=CGI/1.1`)
	env = append(env, `SERVER_SOFTWARE=`+serverSoftware)
	env = append(env, `REDIRECT_STATUS=200`)

	name, port := `localhost`, `80`
	if host := req.Meta.Host; host != `` {
		if colon := strings.IndexByte(host, ':'); colon != -1 {
			name, port = host[:colon], host[colon+1:]
		} else {
			name = host
		}
	}
	env = append(env, `SERVER_NAME=`+name)
	env = append(env, `SERVER_PORT=`+port)

	for key, value := range req.Headers {
		env = append(env, `HTTP_`+headerToEnvName(key)+`=`+value)
	}

	return env
}

func headerToEnvName(key string) string {
	buf := []byte(key)
	for i, ch := range buf {
		switch {
		case ch == '-':
			buf[i] = '_'
		case ch >= 'a' && ch <= 'z':
			buf[i] = ch - ('a' - 'A')
		}
	}
	return string(buf)
}

// extractPathInfo returns the URI remainder after the script name.
// URI "/cgi-bin/echo.py/foo/bar" with script "echo.py" -> "/foo/bar".
func extractPathInfo(uri, script string) string {
	pos := strings.Index(uri, script)
	if pos == -1 {
		return ``
	}
	return uri[pos+len(script):]
}

// drainCgi reads the stdout pipe until it would block; eof reports that the
// child closed its end.
func drainCgi(h *CgiHandle) (eof bool, err error) {
	var buf [4096]byte
	for {
		n, rerr := unix.Read(h.OutFd, buf[:])
		if rerr == unix.EINTR {
			continue
		}
		if rerr == unix.EAGAIN {
			return false, nil
		}
		if rerr != nil {
			return false, rerr
		}
		if n == 0 {
			return true, nil
		}
		h.Output = append(h.Output, buf[:n]...)
	}
}

// assembleCgiResponse turns raw CGI output into the response: the header
// block before the first CRLFCRLF becomes response headers, a Status:
// header overrides the status code, the remainder is the body.
func assembleCgiResponse(output []byte, res *Response) {
	sep := bytes.Index(output, []byte("\r\n\r\n"))
	if sep == -1 {
		res.Status = StatusBadGateway
		return
	}

	headerBlock := output[:sep]
	body := output[sep+4:]

	for _, line := range bytes.Split(headerBlock, []byte("\r\n")) {
		colon := bytes.IndexByte(line, ':')
		if colon == -1 {
			continue
		}

		key := string(bytesTrimSpace(line[:colon]))
		value := string(bytesTrimSpace(line[colon+1:]))

		if lowerASCII(key) == `status` {
			if code, err := strconv.Atoi(firstToken(value)); err == nil {
				res.Status = StatusCode(code)
			}
			continue
		}
		res.AddHeader(key, value)
	}

	res.AppendBody(body)
	res.AddHeader(`Content-Length`, strconv.Itoa(len(body)))
}

func firstToken(s string) string {
	if sp := strings.IndexByte(s, ' '); sp != -1 {
		return s[:sp]
	}
	return s
}
