// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package mux

import (
	"encoding/binary"
	"errors"
	"net"
	"time"

	"github.com/pion/transport/v4/packetio"
)

var errShortPacket = errors.New("mux: buffered packet shorter than its header")

// Endpoint implements net.Conn. It is used to read muxed packets.
type Endpoint struct {
	mux    *Mux
	buffer *packetio.Buffer
}

// Close unregisters the endpoint from the Mux.
func (e *Endpoint) Close() (err error) {
	err = e.close()
	if err != nil {
		return err
	}

	e.mux.RemoveEndpoint(e)

	return nil
}

func (e *Endpoint) close() error {
	return e.buffer.Close()
}

// Read reads a packet of len(p) bytes from the underlying conn
// that are matched by the associated MuxFunc.
func (e *Endpoint) Read(p []byte) (int, error) {
	n, _, err := e.ReadWithArrival(p)

	return n, err
}

// ReadWithArrival reads a packet and reports when the Mux received it.
func (e *Endpoint) ReadWithArrival(p []byte) (int, time.Time, error) {
	buf := make([]byte, len(p)+arrivalHeaderLen)
	n, err := e.buffer.Read(buf)
	if err != nil {
		return 0, time.Time{}, err
	}
	if n < arrivalHeaderLen {
		return 0, time.Time{}, errShortPacket
	}

	arrival := time.Unix(0, int64(binary.BigEndian.Uint64(buf))) //nolint:gosec // G115, written by stamp

	return copy(p, buf[arrivalHeaderLen:n]), arrival, nil
}

// Write writes len(p) bytes to the underlying conn.
func (e *Endpoint) Write(p []byte) (int, error) {
	return e.mux.nextConn.Write(p)
}

// LocalAddr returns the local address of the underlying conn.
func (e *Endpoint) LocalAddr() net.Addr {
	return e.mux.nextConn.LocalAddr()
}

// RemoteAddr returns the remote address of the underlying conn.
func (e *Endpoint) RemoteAddr() net.Addr {
	return e.mux.nextConn.RemoteAddr()
}

// SetDeadline is a stub.
func (e *Endpoint) SetDeadline(time.Time) error {
	return nil
}

// SetReadDeadline sets the read deadline of the endpoint buffer.
func (e *Endpoint) SetReadDeadline(t time.Time) error {
	return e.buffer.SetReadDeadline(t)
}

// SetWriteDeadline is a stub.
func (e *Endpoint) SetWriteDeadline(time.Time) error {
	return nil
}
