package main

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// createListener opens one non-blocking listening socket for a configured
// interface, with address reuse enabled.
func createListener(host string, port int) (listenFd int, err error) {
	addr := unix.SockaddrInet4{Port: port}
	if host == `` || host == `*` {
		host = `0.0.0.0`
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return -1, fmt.Errorf(`bad listen host %q`, host)
	}
	copy(addr.Addr[:], ip.To4())

	listenFd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}

	if err = unix.SetNonblock(listenFd, true); err != nil {
		unix.Close(listenFd)
		return -1, err
	}

	if err = unix.SetsockoptInt(listenFd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(listenFd)
		return -1, err
	}

	if err = unix.Bind(listenFd, &addr); err != nil {
		unix.Close(listenFd)
		return -1, fmt.Errorf(`bind %s:%d: %w`, host, port, err)
	}
	if err = unix.Listen(listenFd, unix.SOMAXCONN); err != nil {
		unix.Close(listenFd)
		return -1, fmt.Errorf(`listen %s:%d: %w`, host, port, err)
	}

	return listenFd, nil
}

// acceptAll drains the kernel accept queue: accept until EAGAIN, every new
// descriptor switched to non-blocking before it is returned. Failures other
// than EAGAIN are logged and the loop moves on.
func acceptAll(listenFd int, lg *Logger) []int {
	var fds []int

	for {
		connFd, _, err := unix.Accept(listenFd)
		if err != nil {
			if err != unix.EAGAIN && err != unix.EINTR {
				lg.Errorf(`accept: %v`, err)
			}
			if err == unix.EINTR {
				continue
			}
			break
		}

		if err := unix.SetNonblock(connFd, true); err != nil {
			lg.Errorf(`accept: set nonblock: %v`, err)
			unix.Close(connFd)
			continue
		}

		fds = append(fds, connFd)
	}

	return fds
}
