// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package mediaendpoint

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/mediaendpoint/pkg/demux"
	"github.com/pion/mediaendpoint/pkg/latency"
	"github.com/pion/transport/v4/dpipe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// packetPipe is a datagram pipe. The session side is handed to the code
// under test, the test side injects and captures packets.
type packetPipe struct {
	session, test net.Conn
}

func newPacketPipe() packetPipe {
	session, test := dpipe.Pipe()

	return packetPipe{session: session, test: test}
}

func (p packetPipe) close() {
	_ = p.session.Close()
	_ = p.test.Close()
}

func readPacket(t *testing.T, conn net.Conn) []byte {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := make([]byte, receiveMTU)
	n, err := conn.Read(buf)
	require.NoError(t, err)

	return buf[:n]
}

func assertNoPacket(t *testing.T, conn net.Conn) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	buf := make([]byte, receiveMTU)
	_, err := conn.Read(buf)
	assert.Error(t, err)
}

type fakeConnection struct {
	mu sync.Mutex

	name      string
	added     int
	active    bool
	connected bool
	closed    bool
	collect   bool

	onConnected func()
	onLatency   func(latency.Stat)

	rtpIn, rtpOut   packetPipe
	rtcpIn, rtcpOut packetPipe
	dataIn, dataOut packetPipe
}

func newFakeConnection(name string) *fakeConnection {
	return &fakeConnection{
		name:    name,
		rtpIn:   newPacketPipe(),
		rtpOut:  newPacketPipe(),
		rtcpIn:  newPacketPipe(),
		rtcpOut: newPacketPipe(),
		dataIn:  newPacketPipe(),
		dataOut: newPacketPipe(),
	}
}

func (c *fakeConnection) Add(active bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.added++
	c.active = active

	return nil
}

func (c *fakeConnection) SyncSinkState() error { return nil }
func (c *fakeConnection) SyncSrcState() error  { return nil }

func (c *fakeConnection) RequestRTPSink() (io.Writer, error)  { return c.rtpOut.session, nil }
func (c *fakeConnection) RequestRTPSrc() (io.Reader, error)   { return c.rtpIn.session, nil }
func (c *fakeConnection) RequestRTCPSink() (io.Writer, error) { return c.rtcpOut.session, nil }
func (c *fakeConnection) RequestRTCPSrc() (io.Reader, error)  { return c.rtcpIn.session, nil }
func (c *fakeConnection) RequestDataSink() (io.Writer, error) { return c.dataOut.session, nil }
func (c *fakeConnection) RequestDataSrc() (io.Reader, error)  { return c.dataIn.session, nil }

func (c *fakeConnection) OnConnected(f func()) {
	c.mu.Lock()
	c.onConnected = f
	connected := c.connected
	c.mu.Unlock()

	if connected {
		f()
	}
}

func (c *fakeConnection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connected
}

func (c *fakeConnection) connect() {
	c.mu.Lock()
	c.connected = true
	f := c.onConnected
	c.mu.Unlock()

	if f != nil {
		f()
	}
}

func (c *fakeConnection) SetLatencyCallback(f func(latency.Stat)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLatency = f
}

func (c *fakeConnection) CollectLatencyStats(enable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collect = enable
}

func (c *fakeConnection) reportLatency(stat latency.Stat) {
	c.mu.Lock()
	f := c.onLatency
	c.mu.Unlock()

	f(stat)
}

func (c *fakeConnection) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	for _, p := range []packetPipe{c.rtpIn, c.rtpOut, c.rtcpIn, c.rtcpOut, c.dataIn, c.dataOut} {
		p.close()
	}

	return nil
}

type fakeRTCPMuxConnection struct {
	*fakeConnection
	RTCPMuxMarker
}

type fakeBundleConnection struct {
	*fakeConnection
	BundleMarker
}

var errFactoryFailed = errors.New("factory failed")

type fakeFactory struct {
	mu    sync.Mutex
	conns map[string]*fakeConnection
	kinds map[string]ConnectionKind
	fail  map[ConnectionKind]bool
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		conns: map[string]*fakeConnection{},
		kinds: map[string]ConnectionKind{},
		fail:  map[ConnectionKind]bool{},
	}
}

func (f *fakeFactory) create(name string, kind ConnectionKind) (*fakeConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail[kind] {
		return nil, errFactoryFailed
	}
	if _, ok := f.conns[name]; ok {
		return nil, fmt.Errorf("connection %s created twice", name) //nolint:err113
	}

	conn := newFakeConnection(name)
	f.conns[name] = conn
	f.kinds[name] = kind

	return conn, nil
}

func (f *fakeFactory) NewRTPConnection(name string, _ *SDPMediaConfig) (RTPConnection, error) {
	conn, err := f.create(name, ConnectionKindRTP)
	if err != nil {
		return nil, err
	}

	return conn, nil
}

func (f *fakeFactory) NewRTCPMuxConnection(name string, _ *SDPMediaConfig) (RTCPMuxConnection, error) {
	conn, err := f.create(name, ConnectionKindRTCPMux)
	if err != nil {
		return nil, err
	}

	return fakeRTCPMuxConnection{fakeConnection: conn}, nil
}

func (f *fakeFactory) NewBundleConnection(name string, _ *SDPMediaConfig) (BundleConnection, error) {
	conn, err := f.create(name, ConnectionKindBundle)
	if err != nil {
		return nil, err
	}

	return fakeBundleConnection{fakeConnection: conn}, nil
}

func (f *fakeFactory) connection(t *testing.T, name string) *fakeConnection {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()

	conn, ok := f.conns[name]
	require.True(t, ok, "no connection %s", name)

	return conn
}

// mediaPipes are the manager endpoints of one m-line.
type mediaPipes struct {
	rtpSink, rtcpSink, dataSink packetPipe
	rtpSrc, rtcpSrc, dataSrc    packetPipe
}

type fakeManager struct {
	mu     sync.Mutex
	medias map[int]*mediaPipes

	custom func(d *demux.SSRCDemuxer, ssrc uint32) bool
}

func newFakeManager() *fakeManager {
	return &fakeManager{medias: map[int]*mediaPipes{}}
}

func (m *fakeManager) pipes(media *SDPMediaConfig) *mediaPipes {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.medias[media.ID]
	if !ok {
		p = &mediaPipes{
			rtpSink: newPacketPipe(), rtcpSink: newPacketPipe(), dataSink: newPacketPipe(),
			rtpSrc: newPacketPipe(), rtcpSrc: newPacketPipe(), dataSrc: newPacketPipe(),
		}
		m.medias[media.ID] = p
	}

	return p
}

func (m *fakeManager) media(t *testing.T, id int) *mediaPipes {
	t.Helper()

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.medias[id]
	require.True(t, ok, "media %d never requested endpoints", id)

	return p
}

func (m *fakeManager) RequestRTPSink(_ *BaseRTPSession, media *SDPMediaConfig) (io.Writer, error) {
	return m.pipes(media).rtpSink.session, nil
}

func (m *fakeManager) RequestRTPSrc(_ *BaseRTPSession, media *SDPMediaConfig) (io.Reader, error) {
	return m.pipes(media).rtpSrc.session, nil
}

func (m *fakeManager) RequestRTCPSink(_ *BaseRTPSession, media *SDPMediaConfig) (io.Writer, error) {
	return m.pipes(media).rtcpSink.session, nil
}

func (m *fakeManager) RequestRTCPSrc(_ *BaseRTPSession, media *SDPMediaConfig) (io.Reader, error) {
	return m.pipes(media).rtcpSrc.session, nil
}

func (m *fakeManager) RequestDataSink(_ *BaseRTPSession, media *SDPMediaConfig) (io.Writer, error) {
	return m.pipes(media).dataSink.session, nil
}

func (m *fakeManager) RequestDataSrc(_ *BaseRTPSession, media *SDPMediaConfig) (io.Reader, error) {
	return m.pipes(media).dataSrc.session, nil
}

func (m *fakeManager) CustomSSRCManagement(_ *BaseRTPSession, d *demux.SSRCDemuxer, ssrc uint32) bool {
	if m.custom == nil {
		return false
	}

	return m.custom(d, ssrc)
}

// rtpOnlyManager takes no data channel packets.
type rtpOnlyManager struct {
	m *fakeManager
}

func (r rtpOnlyManager) RequestRTPSink(s *BaseRTPSession, media *SDPMediaConfig) (io.Writer, error) {
	return r.m.RequestRTPSink(s, media)
}

func (r rtpOnlyManager) RequestRTPSrc(s *BaseRTPSession, media *SDPMediaConfig) (io.Reader, error) {
	return r.m.RequestRTPSrc(s, media)
}

func (r rtpOnlyManager) RequestRTCPSink(s *BaseRTPSession, media *SDPMediaConfig) (io.Writer, error) {
	return r.m.RequestRTCPSink(s, media)
}

func (r rtpOnlyManager) RequestRTCPSrc(s *BaseRTPSession, media *SDPMediaConfig) (io.Reader, error) {
	return r.m.RequestRTCPSrc(s, media)
}

func (r rtpOnlyManager) CustomSSRCManagement(s *BaseRTPSession, d *demux.SSRCDemuxer, ssrc uint32) bool {
	return r.m.CustomSSRCManagement(s, d, ssrc)
}

func TestKindOf(t *testing.T) {
	conn := newFakeConnection("c")

	assert.Equal(t, ConnectionKindUnknown, KindOf(nil))
	assert.Equal(t, ConnectionKindRTP, KindOf(conn))
	assert.Equal(t, ConnectionKindRTCPMux, KindOf(fakeRTCPMuxConnection{fakeConnection: conn}))
	assert.Equal(t, ConnectionKindBundle, KindOf(fakeBundleConnection{fakeConnection: conn}))

	assert.Equal(t, "rtp", ConnectionKindRTP.String())
	assert.Equal(t, "rtcp-mux", ConnectionKindRTCPMux.String())
	assert.Equal(t, "bundle", ConnectionKindBundle.String())
	assert.Equal(t, unknownStr, ConnectionKindUnknown.String())

	require.NoError(t, conn.Close())
}
