// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package rtpconn

import (
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/mediaendpoint"
	"github.com/pion/mediaendpoint/pkg/latency"
	"github.com/pion/transport/v4/dpipe"
	"github.com/pion/transport/v4/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	rtpPacket = []byte{
		0x80, 0x60, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x04, 0xd2, 0xaa, 0xbb,
	}
	rtcpPacket = []byte{
		0x80, 0xc9, 0x00, 0x01, 0x00, 0x00, 0x04, 0xd2,
	}
	dataPacket = []byte{0x17, 0xfe, 0xfd, 0x01}

	errDialFailed = errors.New("dial failed")
)

type transportKey struct {
	name string
	rtcp bool
}

// remotes dials dpipe pairs, keeping the far ends for the test.
type remotes struct {
	lock  sync.Mutex
	conns map[transportKey]net.Conn
	fail  map[transportKey]bool
	dials []net.Conn
}

func newRemotes(t *testing.T) *remotes {
	t.Helper()

	r := &remotes{conns: map[transportKey]net.Conn{}, fail: map[transportKey]bool{}}
	t.Cleanup(func() {
		r.lock.Lock()
		defer r.lock.Unlock()
		for _, c := range r.conns {
			_ = c.Close()
		}
	})

	return r
}

func (r *remotes) dial(name string, rtcp bool) (net.Conn, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	key := transportKey{name, rtcp}
	if r.fail[key] {
		return nil, errDialFailed
	}

	local, remote := dpipe.Pipe()
	r.conns[key] = remote
	r.dials = append(r.dials, local)

	return local, nil
}

func (r *remotes) conn(t *testing.T, name string, rtcp bool) net.Conn {
	t.Helper()

	r.lock.Lock()
	defer r.lock.Unlock()
	conn, ok := r.conns[transportKey{name, rtcp}]
	require.True(t, ok, "%s rtcp=%t was not dialed", name, rtcp)

	return conn
}

func newTestFactory(t *testing.T, r *remotes, interceptors ...interceptor.Factory) *Factory {
	t.Helper()

	loggerFactory := logging.NewDefaultLoggerFactory()
	loggerFactory.DefaultLogLevel = logging.LogLevelWarn

	f, err := NewFactory(Config{Dial: r.dial, LoggerFactory: loggerFactory, Interceptors: interceptors})
	require.NoError(t, err)

	return f
}

func read(t *testing.T, src io.Reader) []byte {
	t.Helper()

	buf := make([]byte, 1500)
	n, err := src.Read(buf)
	require.NoError(t, err)

	return buf[:n]
}

func readRemote(t *testing.T, conn net.Conn) []byte {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	return read(t, conn)
}

func write(t *testing.T, w io.Writer, pkt []byte) {
	t.Helper()

	_, err := w.Write(pkt)
	require.NoError(t, err)
}

func TestNewFactory(t *testing.T) {
	_, err := NewFactory(Config{})
	assert.ErrorIs(t, err, errNoDialer)

	f, err := NewFactory(Config{Dial: newRemotes(t).dial})
	require.NoError(t, err)
	assert.NotNil(t, f.loggerFactory)
}

func TestFactory_Kinds(t *testing.T) {
	f := newTestFactory(t, newRemotes(t))

	conn, err := f.NewRTPConnection("0", nil)
	require.NoError(t, err)
	assert.Equal(t, mediaendpoint.ConnectionKindRTP, mediaendpoint.KindOf(conn))

	muxConn, err := f.NewRTCPMuxConnection("1", nil)
	require.NoError(t, err)
	assert.Equal(t, mediaendpoint.ConnectionKindRTCPMux, mediaendpoint.KindOf(muxConn))

	bundleConn, err := f.NewBundleConnection("bundle0", nil)
	require.NoError(t, err)
	assert.Equal(t, mediaendpoint.ConnectionKindBundle, mediaendpoint.KindOf(bundleConn))
	assert.Equal(t, "bundle0", bundleConn.(*BundleConn).Name())

	for _, c := range []mediaendpoint.RTPConnection{conn, muxConn, bundleConn} {
		assert.NoError(t, c.Close())
	}
}

func TestConn_NotAdded(t *testing.T) {
	conn, err := newTestFactory(t, newRemotes(t)).NewRTPConnection("0", nil)
	require.NoError(t, err)
	defer func() { assert.NoError(t, conn.Close()) }()

	assert.ErrorIs(t, conn.SyncSinkState(), errNotAdded)
	assert.ErrorIs(t, conn.SyncSrcState(), errNotAdded)

	_, err = conn.RequestRTPSink()
	assert.ErrorIs(t, err, errNotAdded)
	_, err = conn.RequestRTPSrc()
	assert.ErrorIs(t, err, errNotAdded)
	_, err = conn.RequestDataSrc()
	assert.ErrorIs(t, err, errNotAdded)
}

func TestConn_DialFailure(t *testing.T) {
	r := newRemotes(t)
	r.fail[transportKey{"0", true}] = true

	conn, err := newTestFactory(t, r).NewRTPConnection("0", nil)
	require.NoError(t, err)

	err = conn.Add(true)
	assert.ErrorIs(t, err, errDialFailed)

	// the rtp transport dialed before the failure is released
	require.Len(t, r.dials, 1)
	_, err = r.dials[0].Write(rtpPacket)
	assert.Error(t, err)

	assert.ErrorIs(t, conn.SyncSinkState(), errNotAdded)
	assert.NoError(t, conn.Close())
}

func TestConn_RTP(t *testing.T) {
	lim := test.TimeOut(time.Second * 10)
	defer lim.Stop()

	report := test.CheckRoutines(t)
	defer report()

	r := newRemotes(t)
	conn, err := newTestFactory(t, r).NewRTPConnection("0", nil)
	require.NoError(t, err)

	require.NoError(t, conn.Add(true))
	assert.ErrorIs(t, conn.Add(true), errAlreadyAdded)
	require.NoError(t, conn.SyncSinkState())
	require.NoError(t, conn.SyncSrcState())

	connected := make(chan struct{})
	conn.OnConnected(func() { close(connected) })
	assert.False(t, conn.IsConnected())

	rtpRemote := r.conn(t, "0", false)
	rtcpRemote := r.conn(t, "0", true)

	rtpSrc, err := conn.RequestRTPSrc()
	require.NoError(t, err)
	again, err := conn.RequestRTPSrc()
	require.NoError(t, err)
	assert.Same(t, rtpSrc, again)
	rtcpSrc, err := conn.RequestRTCPSrc()
	require.NoError(t, err)
	dataSrc, err := conn.RequestDataSrc()
	require.NoError(t, err)

	write(t, rtpRemote, rtpPacket)
	write(t, rtpRemote, dataPacket)
	write(t, rtcpRemote, rtcpPacket)

	assert.Equal(t, rtpPacket, read(t, rtpSrc))
	assert.Equal(t, dataPacket, read(t, dataSrc))
	assert.Equal(t, rtcpPacket, read(t, rtcpSrc))

	<-connected
	assert.True(t, conn.IsConnected())

	late := make(chan struct{})
	conn.OnConnected(func() { close(late) })
	<-late

	rtpSink, err := conn.RequestRTPSink()
	require.NoError(t, err)
	rtcpSink, err := conn.RequestRTCPSink()
	require.NoError(t, err)
	dataSink, err := conn.RequestDataSink()
	require.NoError(t, err)

	write(t, rtpSink, rtpPacket)
	write(t, dataSink, dataPacket)
	write(t, rtcpSink, rtcpPacket)
	assert.Equal(t, rtpPacket, readRemote(t, rtpRemote))
	assert.Equal(t, dataPacket, readRemote(t, rtpRemote))
	assert.Equal(t, rtcpPacket, readRemote(t, rtcpRemote))

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	_, err = rtpSrc.Read(make([]byte, 1500))
	assert.ErrorIs(t, err, io.EOF)
	assert.ErrorIs(t, conn.SyncSinkState(), errClosed)
	assert.ErrorIs(t, conn.Add(true), errClosed)
}

func TestRTCPMuxConn(t *testing.T) {
	lim := test.TimeOut(time.Second * 10)
	defer lim.Stop()

	report := test.CheckRoutines(t)
	defer report()

	r := newRemotes(t)
	conn, err := newTestFactory(t, r).NewRTCPMuxConnection("1", nil)
	require.NoError(t, err)
	require.NoError(t, conn.Add(false))
	defer func() { assert.NoError(t, conn.Close()) }()

	_, err = conn.RequestRTCPSrc()
	assert.ErrorIs(t, err, errRTCPMuxed)

	remote := r.conn(t, "1", false)

	// packets received before the src exists are queued
	write(t, remote, rtcpPacket)
	write(t, remote, rtpPacket)

	src, err := conn.RequestRTPSrc()
	require.NoError(t, err)
	assert.Equal(t, rtcpPacket, read(t, src))
	assert.Equal(t, rtpPacket, read(t, src))

	sink, err := conn.RequestRTCPSink()
	require.NoError(t, err)
	write(t, sink, rtcpPacket)
	assert.Equal(t, rtcpPacket, readRemote(t, remote))
}

func TestBundleConn_Latency(t *testing.T) {
	lim := test.TimeOut(time.Second * 10)
	defer lim.Stop()

	report := test.CheckRoutines(t)
	defer report()

	r := newRemotes(t)
	conn, err := newTestFactory(t, r).NewBundleConnection("bundle0", nil)
	require.NoError(t, err)
	require.NoError(t, conn.Add(true))
	defer func() { assert.NoError(t, conn.Close()) }()

	stats := make(chan latency.Stat, 4)
	conn.SetLatencyCallback(func(s latency.Stat) { stats <- s })

	src, err := conn.RequestRTPSrc()
	require.NoError(t, err)
	remote := r.conn(t, "bundle0", false)

	write(t, remote, rtpPacket)
	assert.Equal(t, rtpPacket, read(t, src))
	assert.Empty(t, stats)

	conn.CollectLatencyStats(true)
	write(t, remote, rtpPacket)
	assert.Equal(t, rtpPacket, read(t, src))

	stat := <-stats
	assert.Equal(t, "bundle0", stat.Stream)
	assert.GreaterOrEqual(t, stat.Last, time.Duration(0))
}

type countingFactory struct {
	lock  sync.Mutex
	reads int
}

func (f *countingFactory) NewInterceptor(string) (interceptor.Interceptor, error) {
	return &countingInterceptor{factory: f}, nil
}

type countingInterceptor struct {
	interceptor.NoOp
	factory *countingFactory
}

func (i *countingInterceptor) BindRemoteStream(_ *interceptor.StreamInfo, reader interceptor.RTPReader) interceptor.RTPReader {
	return interceptor.RTPReaderFunc(func(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
		n, attr, err := reader.Read(b, a)
		if _, ok := attr[latency.ArrivalKey].(time.Time); ok && err == nil {
			i.factory.lock.Lock()
			i.factory.reads++
			i.factory.lock.Unlock()
		}

		return n, attr, err
	})
}

func TestConn_Interceptors(t *testing.T) {
	lim := test.TimeOut(time.Second * 10)
	defer lim.Stop()

	r := newRemotes(t)
	counter := &countingFactory{}
	conn, err := newTestFactory(t, r, counter).NewRTCPMuxConnection("0", nil)
	require.NoError(t, err)
	require.NoError(t, conn.Add(true))
	defer func() { assert.NoError(t, conn.Close()) }()

	src, err := conn.RequestRTPSrc()
	require.NoError(t, err)

	write(t, r.conn(t, "0", false), rtpPacket)
	assert.Equal(t, rtpPacket, read(t, src))

	counter.lock.Lock()
	defer counter.lock.Unlock()
	assert.Equal(t, 1, counter.reads)
}
