// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package rtpconn implements the connection kinds of a BaseRTPSession over
// datagram net.Conns.
package rtpconn

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/mediaendpoint"
	"github.com/pion/mediaendpoint/internal/mux"
	"github.com/pion/mediaendpoint/pkg/latency"
)

var (
	errNotAdded     = errors.New("rtpconn: connection not added")
	errAlreadyAdded = errors.New("rtpconn: connection already added")
	errClosed       = errors.New("rtpconn: connection closed")
	errRTCPMuxed    = errors.New("rtpconn: rtcp is received on the rtp src")
)

type srcKind int

const (
	srcRTP srcKind = iota
	srcRTCP
	srcData
)

func (k srcKind) String() string {
	switch k {
	case srcRTP:
		return "rtp"
	case srcRTCP:
		return "rtcp"
	default:
		return "data"
	}
}

// matchData accepts everything RFC 7983 does not route to RTP or RTCP.
func matchData(buf []byte) bool {
	return len(buf) > 0 && !mux.MatchRTPOrRTCP(buf)
}

// transport is shared by the three connection kinds. RTP, and RTCP when
// multiplexed, travel over the rtp net.Conn. Data travels over it too.
type transport struct {
	name         string
	separateRTCP bool
	dial         Dialer
	log          logging.LeveledLogger

	loggerFactory logging.LoggerFactory
	latency       *latency.InterceptorFactory
	interceptor   interceptor.Interceptor
	streamInfo    *interceptor.StreamInfo

	lock        sync.Mutex
	rtpConn     net.Conn
	rtcpConn    net.Conn
	rtpMux      *mux.Mux
	rtcpMux     *mux.Mux
	srcs        map[srcKind]io.Reader
	closed      bool
	connected   bool
	onConnected func()
}

// Add dials the transports and starts demultiplexing them.
func (t *transport) Add(active bool) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	switch {
	case t.closed:
		return errClosed
	case t.rtpMux != nil:
		return errAlreadyAdded
	}

	rtpConn, err := t.dial(t.name, false)
	if err != nil {
		return fmt.Errorf("dial %s rtp: %w", t.name, err)
	}

	var rtcpConn net.Conn
	if t.separateRTCP {
		if rtcpConn, err = t.dial(t.name, true); err != nil {
			_ = rtpConn.Close()

			return fmt.Errorf("dial %s rtcp: %w", t.name, err)
		}
	}

	t.rtpConn = rtpConn
	t.rtpMux = t.newMux(rtpConn)
	if rtcpConn != nil {
		t.rtcpConn = rtcpConn
		t.rtcpMux = t.newMux(rtcpConn)
	}
	t.log.Debugf("Added %s, active=%t", t.name, active)

	return nil
}

func (t *transport) newMux(conn net.Conn) *mux.Mux {
	return mux.NewMux(mux.Config{
		Conn:          conn,
		LoggerFactory: t.loggerFactory,
		OnFirstPacket: t.markConnected,
	})
}

func (t *transport) syncState() error {
	t.lock.Lock()
	defer t.lock.Unlock()

	switch {
	case t.closed:
		return errClosed
	case t.rtpMux == nil:
		return errNotAdded
	}

	return nil
}

// SyncSinkState reports whether the sinks can be written to.
func (t *transport) SyncSinkState() error {
	return t.syncState()
}

// SyncSrcState reports whether the srcs can be read from.
func (t *transport) SyncSrcState() error {
	return t.syncState()
}

// RequestRTPSink returns the writer RTP is sent with.
func (t *transport) RequestRTPSink() (io.Writer, error) {
	return t.sink(false)
}

// RequestRTCPSink returns the writer RTCP is sent with.
func (t *transport) RequestRTCPSink() (io.Writer, error) {
	return t.sink(t.separateRTCP)
}

// RequestDataSink returns the writer data channel packets are sent with.
func (t *transport) RequestDataSink() (io.Writer, error) {
	return t.sink(false)
}

func (t *transport) sink(rtcp bool) (io.Writer, error) {
	if err := t.syncState(); err != nil {
		return nil, err
	}

	t.lock.Lock()
	defer t.lock.Unlock()
	if rtcp {
		return t.rtcpConn, nil
	}

	return t.rtpConn, nil
}

// RequestRTPSrc returns the reader of inbound RTP. Without a separate RTCP
// transport it delivers RTCP as well.
func (t *transport) RequestRTPSrc() (io.Reader, error) {
	return t.src(srcRTP)
}

// RequestRTCPSrc returns the reader of inbound RTCP.
func (t *transport) RequestRTCPSrc() (io.Reader, error) {
	if !t.separateRTCP {
		return nil, errRTCPMuxed
	}

	return t.src(srcRTCP)
}

// RequestDataSrc returns the reader of inbound data channel packets.
func (t *transport) RequestDataSrc() (io.Reader, error) {
	return t.src(srcData)
}

// src returns the reader of kind, creating its mux endpoint on first use.
func (t *transport) src(kind srcKind) (io.Reader, error) {
	if err := t.syncState(); err != nil {
		return nil, err
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	if src, ok := t.srcs[kind]; ok {
		return src, nil
	}

	var src io.Reader
	switch kind {
	case srcRTP:
		match := mux.MatchRTPOrRTCP
		if t.separateRTCP {
			match = mux.MatchRTP
		}
		src = t.remoteStream(t.rtpMux.NewEndpoint(match))
	case srcRTCP:
		src = t.rtcpMux.NewEndpoint(mux.MatchRTCP)
	default:
		src = t.rtpMux.NewEndpoint(matchData)
	}
	t.srcs[kind] = src
	t.log.Tracef("%s: created %s src", t.name, kind)

	return src, nil
}

// remoteStream runs the inbound RTP of endpoint through the interceptors,
// recording the arrival time of every packet.
func (t *transport) remoteStream(endpoint *mux.Endpoint) io.Reader {
	reader := t.interceptor.BindRemoteStream(t.streamInfo, interceptor.RTPReaderFunc(
		func(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
			n, arrival, err := endpoint.ReadWithArrival(b)
			if err != nil {
				return 0, a, err
			}
			if a == nil {
				a = make(interceptor.Attributes)
			}
			a.Set(latency.ArrivalKey, arrival)

			return n, a, nil
		},
	))

	return &interceptedReader{reader: reader}
}

type interceptedReader struct {
	reader interceptor.RTPReader
}

func (r *interceptedReader) Read(p []byte) (int, error) {
	n, _, err := r.reader.Read(p, nil)

	return n, err
}

func (t *transport) markConnected() {
	t.lock.Lock()
	if t.connected || t.closed {
		t.lock.Unlock()

		return
	}
	t.connected = true
	handler := t.onConnected
	t.lock.Unlock()

	t.log.Debugf("%s: connected", t.name)
	if handler != nil {
		handler()
	}
}

// OnConnected sets a handler fired when the first packet is received. It
// fires immediately when a packet was received already.
func (t *transport) OnConnected(f func()) {
	t.lock.Lock()
	connected := t.connected
	t.onConnected = f
	t.lock.Unlock()

	if connected && f != nil {
		f()
	}
}

// IsConnected reports whether a packet was received.
func (t *transport) IsConnected() bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.connected
}

// SetLatencyCallback sets the receiver of the latency samples of inbound RTP.
func (t *transport) SetLatencyCallback(f func(latency.Stat)) {
	t.latency.SetCallback(f)
}

// CollectLatencyStats turns latency sampling on or off.
func (t *transport) CollectLatencyStats(enable bool) {
	t.latency.Enable(enable)
}

// Close stops the muxes, closing the transports, and the interceptors.
func (t *transport) Close() error {
	t.lock.Lock()
	if t.closed {
		t.lock.Unlock()

		return nil
	}
	t.closed = true
	muxes := []*mux.Mux{t.rtpMux, t.rtcpMux}
	t.lock.Unlock()

	var errs []error
	for _, m := range muxes {
		if m == nil {
			continue
		}
		if err := m.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	t.interceptor.UnbindRemoteStream(t.streamInfo)
	if err := t.interceptor.Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Name returns the name the session registered the connection under.
func (t *transport) Name() string {
	return t.name
}

// Conn carries RTP and RTCP on two transports.
type Conn struct {
	*transport
}

// RTCPMuxConn carries RTP and RTCP on one transport.
type RTCPMuxConn struct {
	*transport
	mediaendpoint.RTCPMuxMarker
}

// BundleConn carries the RTP and RTCP of every m-line of a BUNDLE group on
// one transport.
type BundleConn struct {
	*transport
	mediaendpoint.BundleMarker
}
