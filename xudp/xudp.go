// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xudp provides the single-owner datagram transport used by the
// control channel and the image receiver. It imposes no framing: callers
// send and receive whole datagrams with per-call deadlines.
package xudp // import "github.com/fximage/hubx/xudp"

import (
	"errors"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

var (
	// ErrTimeout is returned by Recv when no datagram arrived before the
	// deadline.
	ErrTimeout = xerrors.New("xudp: receive timeout")

	// ErrClosed is returned by operations on a closed transport, and by
	// a Recv unblocked by a concurrent Close.
	ErrClosed = xerrors.New("xudp: transport closed")
)

// Conn is a bound UDP endpoint. A Conn has a single owner; concurrent
// Recv calls are not supported, but Close may be called from any
// goroutine to unblock a pending Recv.
type Conn struct {
	mu     sync.Mutex
	conn   *net.UDPConn
	closed bool
}

// Bind opens a datagram socket on the given local address and enables
// broadcast sends. Use port 0 for an ephemeral port.
func Bind(local string) (*Conn, error) {
	addr, err := net.ResolveUDPAddr("udp4", local)
	if err != nil {
		return nil, xerrors.Errorf("xudp: could not resolve local address %q: %w", local, err)
	}

	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, xerrors.Errorf("xudp: could not bind %q: %w", local, err)
	}

	if err := enableBroadcast(conn); err != nil {
		_ = conn.Close()
		return nil, xerrors.Errorf("xudp: could not enable broadcast on %q: %w", local, err)
	}

	return &Conn{conn: conn}, nil
}

func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	var serr error
	err = raw.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return serr
}

// LocalAddr returns the bound local address.
func (c *Conn) LocalAddr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

// SetReadBuffer sets the size of the kernel receive buffer.
func (c *Conn) SetReadBuffer(bytes int) error {
	return c.conn.SetReadBuffer(bytes)
}

// SendTo sends one datagram to the given remote address.
func (c *Conn) SendTo(p []byte, addr string) (int, error) {
	raddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return 0, xerrors.Errorf("xudp: could not resolve remote address %q: %w", addr, err)
	}

	n, err := c.conn.WriteToUDP(p, raddr)
	if err != nil {
		if c.isClosed() || errors.Is(err, net.ErrClosed) {
			return n, xerrors.Errorf("xudp: could not send to %q: %w", addr, ErrClosed)
		}
		return n, xerrors.Errorf("xudp: could not send to %q: %w", addr, err)
	}
	return n, nil
}

// Recv blocks until a datagram arrives, the deadline expires, or the
// transport is closed. It returns the datagram length and the peer
// address. A deadline of zero blocks indefinitely.
func (c *Conn) Recv(p []byte, deadline time.Duration) (int, *net.UDPAddr, error) {
	if c.isClosed() {
		return 0, nil, ErrClosed
	}

	var t time.Time
	if deadline > 0 {
		t = time.Now().Add(deadline)
	}
	if err := c.conn.SetReadDeadline(t); err != nil {
		return 0, nil, xerrors.Errorf("xudp: could not arm read deadline: %w", err)
	}

	n, peer, err := c.conn.ReadFromUDP(p)
	if err != nil {
		var nerr net.Error
		switch {
		case errors.As(err, &nerr) && nerr.Timeout():
			return 0, nil, ErrTimeout
		case c.isClosed() || errors.Is(err, net.ErrClosed):
			return 0, nil, ErrClosed
		default:
			return 0, nil, xerrors.Errorf("xudp: could not receive: %w", err)
		}
	}
	return n, peer, nil
}

// Close releases the socket. It is idempotent and unblocks any pending
// Recv with ErrClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
