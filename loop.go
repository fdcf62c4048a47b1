package main

import (
	"fmt"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const (
	pollTimeoutCgi  = 100 // ms, sweeps CGI deadlines promptly
	pollTimeoutIdle = 1000
)

// Server drives all network and CGI I/O on a single thread: a poll vector
// over three descriptor classes (listeners, clients, CGI stdout pipes) plus
// the side maps identifying the first and third.
type Server struct {
	cfg      *Config
	lg       *Logger
	sig      *SignalState
	registry *CgiRegistry

	pollFds   []unix.PollFd
	listeners map[int]int // listener fd -> server index
	conns     map[int]*Connection
	cgiPipes  map[int]int // cgi stdout fd -> client fd
}

func NewServer(cfg *Config, lg *Logger, sig *SignalState) *Server {
	return &Server{
		cfg:       cfg,
		lg:        lg,
		sig:       sig,
		registry:  NewCgiRegistry(),
		listeners: make(map[int]int),
		conns:     make(map[int]*Connection),
		cgiPipes:  make(map[int]int),
	}
}

// Start opens one listening endpoint per configured server.
func (s *Server) Start() error {
	for i := range s.cfg.Servers {
		srv := &s.cfg.Servers[i]

		fd, err := createListener(srv.Host, srv.Port)
		if err != nil {
			s.closeListeners()
			return err
		}

		s.listeners[fd] = i
		s.addPollFd(fd, unix.POLLIN)
		s.lg.Infof(`listening on %s:%d (fd=%d)`, srv.Host, srv.Port, fd)
	}
	return nil
}

// Run is the loop driver. It returns nil after a graceful shutdown and an
// error only on an unrecoverable poll failure.
func (s *Server) Run() error {
	for {
		timeout := pollTimeoutIdle
		if s.registry.HasActive() {
			timeout = pollTimeoutCgi
		}

		_, err := unix.Poll(s.pollFds, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf(`poll: %w`, err)
		}

		s.sweepCgiDeadlines()

		if s.sig.ShouldStop() {
			s.lg.Infof(`shutdown requested`)
			s.shutdown()
			return nil
		}

		if s.sig.TakeChildPending() {
			s.registry.ReapPending()
		}

		// reverse order so removals do not invalidate entries still to be
		// visited
		for i := len(s.pollFds) - 1; i >= 0; i-- {
			if i >= len(s.pollFds) {
				continue
			}

			entry := s.pollFds[i]
			re := entry.Revents
			if re == 0 {
				continue
			}
			s.pollFds[i].Revents = 0
			fd := int(entry.Fd)

			if serverIdx, ok := s.listeners[fd]; ok {
				if re&unix.POLLIN != 0 {
					s.acceptClients(fd, serverIdx)
				}
				continue
			}

			if clientFd, ok := s.cgiPipes[fd]; ok {
				s.handleCgiEvent(clientFd, re)
				continue
			}

			if c, ok := s.conns[fd]; ok {
				if re&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
					s.dropConn(c)
					continue
				}
				if re&unix.POLLIN != 0 {
					s.applyAction(c, c.handleReadable())
					if _, alive := s.conns[fd]; !alive {
						continue
					}
				}
				if re&unix.POLLOUT != 0 {
					s.applyAction(c, c.handleWritable())
				}
			}
		}
	}
}

func (s *Server) acceptClients(listenFd, serverIdx int) {
	for _, fd := range acceptAll(listenFd, s.lg) {
		if _, dup := s.conns[fd]; dup {
			continue
		}
		s.conns[fd] = newConnection(fd, &s.cfg.Servers[serverIdx], s.lg)
		s.addPollFd(fd, unix.POLLIN)
		s.lg.Debugf(`accepted fd=%d`, fd)
	}
}

func (s *Server) applyAction(c *Connection, action connAction) {
	switch action {
	case actionNone:
	case actionRead:
		s.setInterest(c.fd, unix.POLLIN)
	case actionWrite:
		s.setInterest(c.fd, unix.POLLOUT)
	case actionWaitCgi:
		s.registerCgi(c)
	case actionClose:
		s.dropConn(c)
	}
}

// registerCgi puts the CGI stdout pipe under poll and mutes the client until
// the response is ready.
func (s *Server) registerCgi(c *Connection) {
	h := c.cgi
	s.cgiPipes[h.OutFd] = c.fd
	s.addPollFd(h.OutFd, unix.POLLIN)
	s.registry.Register(h.Pid, h.Start)
	s.setInterest(c.fd, 0)
}

func (s *Server) handleCgiEvent(clientFd int, re int16) {
	c, ok := s.conns[clientFd]
	if !ok || c.cgi == nil {
		return
	}

	if re&(unix.POLLERR|unix.POLLNVAL) != 0 {
		s.finishCgi(c, StatusBadGateway)
		return
	}

	if re&(unix.POLLIN|unix.POLLHUP) != 0 {
		eof, err := drainCgi(c.cgi)
		if err != nil {
			s.lg.Errorf(`cgi fd=%d: read: %v`, c.cgi.OutFd, err)
			s.finishCgi(c, StatusBadGateway)
			return
		}
		if eof {
			s.finishCgi(c, StatusOK)
		}
	}
}

// finishCgi releases the CGI handle and queues the client response: the
// assembled CGI output on StatusOK, the given error status otherwise.
func (s *Server) finishCgi(c *Connection, status StatusCode) {
	h := c.cgi

	s.removePollFd(h.OutFd)
	delete(s.cgiPipes, h.OutFd)
	unix.Close(h.OutFd)

	s.reapChild(h.Pid, false)
	s.registry.Unregister(h.Pid)

	if status == StatusOK {
		assembleCgiResponse(h.Output, c.res)
	} else {
		c.req.Verdict = VerdictError
		c.res.Status = status
	}

	c.cgi = nil
	c.queueResponse()
	s.setInterest(c.fd, unix.POLLOUT)
}

// sweepCgiDeadlines runs every iteration regardless of readiness: any child
// past its 30 s wall-clock deadline is killed and answered with a 504.
func (s *Server) sweepCgiDeadlines() {
	if !s.registry.HasActive() {
		return
	}

	now := time.Now()
	for _, c := range s.conns {
		h := c.cgi
		if h == nil || now.Before(h.Deadline) {
			continue
		}

		s.lg.Warningf(`cgi pid=%d exceeded %s, killing`, h.Pid, cgiTimeout)
		unix.Kill(h.Pid, unix.SIGKILL)
		s.reapChild(h.Pid, true)
		s.registry.Unregister(h.Pid)

		s.removePollFd(h.OutFd)
		delete(s.cgiPipes, h.OutFd)
		unix.Close(h.OutFd)

		c.cgi = nil
		c.req.Verdict = VerdictError
		c.req.Meta.ConnectionClose = true
		c.res.Status = StatusGatewayTimeout
		c.queueResponse()
		s.setInterest(c.fd, unix.POLLOUT)
	}
}

// reapChild waits for one child; block only after a SIGKILL, when the exit
// is imminent.
func (s *Server) reapChild(pid int, block bool) {
	flags := syscall.WNOHANG
	if block {
		flags = 0
	}
	var status syscall.WaitStatus
	syscall.Wait4(pid, &status, flags, nil)
}

func (s *Server) dropConn(c *Connection) {
	if c.cgi != nil {
		h := c.cgi
		unix.Kill(h.Pid, unix.SIGKILL)
		s.reapChild(h.Pid, true)
		s.registry.Unregister(h.Pid)
		s.removePollFd(h.OutFd)
		delete(s.cgiPipes, h.OutFd)
		unix.Close(h.OutFd)
		c.cgi = nil
	}

	s.removePollFd(c.fd)
	delete(s.conns, c.fd)
	s.lg.Debugf(`closed fd=%d`, c.fd)
	c.Close()
}

// shutdown closes listeners, sends every active client a best-effort 503,
// and kills any live CGI children.
func (s *Server) shutdown() {
	s.closeListeners()

	for _, c := range s.conns {
		c.req.Meta.ConnectionClose = true
		c.res.Reset()
		c.res.Status = StatusServiceUnavailable
		buildResponse(c.req, c.res, c.srv)
		wire := serializeResponse(c.res, nil)
		unix.SendmsgN(c.fd, wire, nil, nil, unix.MSG_NOSIGNAL|unix.MSG_DONTWAIT)
		unix.Shutdown(c.fd, unix.SHUT_RDWR)
	}

	for _, c := range s.conns {
		s.dropConn(c)
	}
}

func (s *Server) closeListeners() {
	for fd := range s.listeners {
		s.removePollFd(fd)
		unix.Close(fd)
		delete(s.listeners, fd)
	}
}

func (s *Server) addPollFd(fd int, events int16) {
	s.pollFds = append(s.pollFds, unix.PollFd{Fd: int32(fd), Events: events})
}

func (s *Server) setInterest(fd int, events int16) {
	for i := range s.pollFds {
		if int(s.pollFds[i].Fd) == fd {
			s.pollFds[i].Events = events
			s.pollFds[i].Revents = 0
			return
		}
	}
}

func (s *Server) removePollFd(fd int) {
	for i := range s.pollFds {
		if int(s.pollFds[i].Fd) == fd {
			s.pollFds = append(s.pollFds[:i], s.pollFds[i+1:]...)
			return
		}
	}
}
