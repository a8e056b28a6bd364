// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package mux multiplexes packets on a single socket (RFC 7983, RFC 5761)
package mux

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/packetio"
)

const (
	// The maximum amount of data that can be buffered before returning errors.
	maxBufferSize = 1000 * 1000 // 1MB

	// How many total pending packets can be cached.
	maxPendingPackets = 15

	// Every buffered packet is prefixed with its arrival time.
	arrivalHeaderLen = 8

	defaultBufferSize = 8192
)

// Config collects the arguments to mux.Mux construction into
// a single structure.
type Config struct {
	Conn          net.Conn
	BufferSize    int
	LoggerFactory logging.LoggerFactory

	// OnFirstPacket is fired once, from the read loop, when the first
	// non-empty packet is received.
	OnFirstPacket func()
}

// Mux allows multiplexing.
type Mux struct {
	nextConn   net.Conn
	bufferSize int
	lock       sync.Mutex
	endpoints  map[*Endpoint]MatchFunc
	isClosed   bool

	pendingPackets [][]byte

	onFirstPacket func()
	firstPacket   sync.Once

	closedCh chan struct{}
	log      logging.LeveledLogger
}

// NewMux creates a new Mux.
func NewMux(config Config) *Mux {
	bufferSize := config.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	loggerFactory := config.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	mux := &Mux{
		nextConn:      config.Conn,
		endpoints:     make(map[*Endpoint]MatchFunc),
		bufferSize:    bufferSize,
		onFirstPacket: config.OnFirstPacket,
		closedCh:      make(chan struct{}),
		log:           loggerFactory.NewLogger("mux"),
	}

	go mux.readLoop()

	return mux
}

// NewEndpoint creates a new Endpoint.
func (m *Mux) NewEndpoint(matchFunc MatchFunc) *Endpoint {
	endpoint := &Endpoint{
		mux:    m,
		buffer: packetio.NewBuffer(),
	}

	// Set a maximum size of the buffer in bytes.
	endpoint.buffer.SetLimitSize(maxBufferSize)

	m.lock.Lock()
	m.endpoints[endpoint] = matchFunc
	m.lock.Unlock()

	m.handlePendingPackets(endpoint, matchFunc)

	return endpoint
}

// RemoveEndpoint removes an endpoint from the Mux.
func (m *Mux) RemoveEndpoint(e *Endpoint) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.endpoints, e)
}

// Close closes the Mux and all associated Endpoints.
func (m *Mux) Close() error {
	m.lock.Lock()
	if m.isClosed {
		m.lock.Unlock()

		return nil
	}
	for e := range m.endpoints {
		if err := e.close(); err != nil {
			m.lock.Unlock()

			return err
		}

		delete(m.endpoints, e)
	}
	m.isClosed = true
	m.lock.Unlock()

	err := m.nextConn.Close()
	if err != nil {
		return err
	}

	// Wait for readLoop to end
	<-m.closedCh

	return nil
}

func (m *Mux) readLoop() {
	defer func() {
		close(m.closedCh)
	}()

	buf := make([]byte, m.bufferSize)
	for {
		n, err := m.nextConn.Read(buf)
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
			return
		case errors.Is(err, io.ErrShortBuffer), errors.Is(err, packetio.ErrTimeout):
			m.log.Errorf("mux: failed to read from conn %s", err.Error())

			continue
		case err != nil:
			m.log.Errorf("mux: ending readLoop conn error %s", err.Error())

			return
		}

		if err = m.dispatch(buf[:n], time.Now()); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				// if the buffer was closed, that's not an error we care to report
				return
			}
			m.log.Errorf("mux: ending readLoop dispatch error %s", err.Error())

			return
		}
	}
}

func (m *Mux) dispatch(buf []byte, arrival time.Time) error {
	if len(buf) == 0 {
		m.log.Warnf("mux: unable to dispatch zero length packet")

		return nil
	}

	if m.onFirstPacket != nil {
		m.firstPacket.Do(m.onFirstPacket)
	}

	stamped := stamp(buf, arrival)

	var endpoint *Endpoint

	m.lock.Lock()
	for e, f := range m.endpoints {
		if f(buf) {
			endpoint = e

			break
		}
	}
	if endpoint == nil {
		defer m.lock.Unlock()

		if !m.isClosed {
			if len(m.pendingPackets) >= maxPendingPackets {
				m.log.Warnf(
					"mux: no endpoint for packet starting with %d, not adding to queue size(%d)",
					buf[0],
					len(m.pendingPackets),
				)
			} else {
				m.log.Debugf(
					"mux: no endpoint for packet starting with %d, adding to queue size(%d)",
					buf[0],
					len(m.pendingPackets),
				)
				m.pendingPackets = append(m.pendingPackets, stamped)
			}
		}

		return nil
	}

	m.lock.Unlock()
	_, err := endpoint.buffer.Write(stamped)

	// Expected when bytes are received faster than the endpoint can process them
	if errors.Is(err, packetio.ErrFull) {
		m.log.Infof("mux: endpoint buffer is full, dropping packet")

		return nil
	}

	return err
}

func (m *Mux) handlePendingPackets(endpoint *Endpoint, matchFunc MatchFunc) {
	m.lock.Lock()
	defer m.lock.Unlock()

	pendingPackets := make([][]byte, 0, len(m.pendingPackets))
	for _, buf := range m.pendingPackets {
		if matchFunc(buf[arrivalHeaderLen:]) {
			if _, err := endpoint.buffer.Write(buf); err != nil {
				m.log.Warnf("mux: error writing packet to endpoint from pending queue: %s", err)
			}
		} else {
			pendingPackets = append(pendingPackets, buf)
		}
	}
	m.pendingPackets = pendingPackets
}

func stamp(buf []byte, arrival time.Time) []byte {
	stamped := make([]byte, arrivalHeaderLen+len(buf))
	binary.BigEndian.PutUint64(stamped, uint64(arrival.UnixNano())) //nolint:gosec // G115, wall clock is positive
	copy(stamped[arrivalHeaderLen:], buf)

	return stamped
}
