// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package e2e

import (
	"bytes"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/mediaendpoint"
	"github.com/pion/mediaendpoint/pkg/demux"
	"github.com/pion/mediaendpoint/pkg/rtpconn"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/pion/transport/v4/dpipe"
	"github.com/pion/transport/v4/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var silentOpusFrame = []byte{0xf8, 0xff, 0xfe} // 20ms, 8kHz, mono

type pipeNetwork struct {
	lock    sync.Mutex
	pending map[string]net.Conn
	opened  []net.Conn
}

func newPipeNetwork(t *testing.T) *pipeNetwork {
	t.Helper()

	n := &pipeNetwork{pending: map[string]net.Conn{}}
	t.Cleanup(func() {
		n.lock.Lock()
		defer n.lock.Unlock()
		for _, c := range n.opened {
			_ = c.Close()
		}
	})

	return n
}

func (n *pipeNetwork) dial(name string, rtcp bool) (net.Conn, error) {
	n.lock.Lock()
	defer n.lock.Unlock()

	key := name
	if rtcp {
		key += "/rtcp"
	}
	if conn, ok := n.pending[key]; ok {
		delete(n.pending, key)

		return conn, nil
	}

	local, remote := dpipe.Pipe()
	n.pending[key] = remote
	n.opened = append(n.opened, local, remote)

	return local, nil
}

type packet struct {
	kind string
	data []byte
}

// manager hands the sessions one end of a pipe per src and collects every
// packet written to its sinks.
type manager struct {
	lock     sync.Mutex
	srcs     map[string]net.Conn
	received chan packet
}

func newManager() *manager {
	return &manager{srcs: map[string]net.Conn{}, received: make(chan packet, 32)}
}

type sink struct {
	m    *manager
	kind string
}

func (s sink) Write(pkt []byte) (int, error) {
	s.m.received <- packet{s.kind, append([]byte{}, pkt...)}

	return len(pkt), nil
}

func (m *manager) src(key string) (io.Reader, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	sessionSide, appSide := dpipe.Pipe()
	m.srcs[key] = appSide

	return sessionSide, nil
}

func (m *manager) send(t *testing.T, key string, pkt []byte) {
	t.Helper()

	m.lock.Lock()
	conn, ok := m.srcs[key]
	m.lock.Unlock()
	require.True(t, ok, "no src %s", key)

	_, err := conn.Write(pkt)
	require.NoError(t, err)
}

func (m *manager) expect(t *testing.T, kind string) []byte {
	t.Helper()

	select {
	case pkt := <-m.received:
		require.Equal(t, kind, pkt.kind)

		return pkt.data
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for "+kind)

		return nil
	}
}

func (m *manager) RequestRTPSink(_ *mediaendpoint.BaseRTPSession, media *mediaendpoint.SDPMediaConfig) (io.Writer, error) {
	return sink{m, media.MediaType() + "/rtp"}, nil
}

func (m *manager) RequestRTCPSink(_ *mediaendpoint.BaseRTPSession, media *mediaendpoint.SDPMediaConfig) (io.Writer, error) {
	return sink{m, media.MediaType() + "/rtcp"}, nil
}

func (m *manager) RequestRTPSrc(_ *mediaendpoint.BaseRTPSession, media *mediaendpoint.SDPMediaConfig) (io.Reader, error) {
	return m.src(media.MediaType() + "/rtp")
}

func (m *manager) RequestRTCPSrc(_ *mediaendpoint.BaseRTPSession, media *mediaendpoint.SDPMediaConfig) (io.Reader, error) {
	return m.src(media.MediaType() + "/rtcp")
}

func (m *manager) RequestDataSink(*mediaendpoint.BaseRTPSession, *mediaendpoint.SDPMediaConfig) (io.Writer, error) {
	return sink{m, "data"}, nil
}

func (m *manager) RequestDataSrc(*mediaendpoint.BaseRTPSession, *mediaendpoint.SDPMediaConfig) (io.Reader, error) {
	return m.src("data")
}

func (m *manager) CustomSSRCManagement(*mediaendpoint.BaseRTPSession, *demux.SSRCDemuxer, uint32) bool {
	return false
}

type peer struct {
	sdp     *mediaendpoint.SDPSession
	rtp     *mediaendpoint.BaseRTPSession
	manager *manager
}

func newPeer(t *testing.T, network *pipeNetwork, bundle, rtcpMux bool) *peer {
	t.Helper()

	loggerFactory := logging.NewDefaultLoggerFactory()
	loggerFactory.DefaultLogLevel = logging.LogLevelWarn

	settingEngine := mediaendpoint.SettingEngine{LoggerFactory: loggerFactory}
	settingEngine.SetBundle(bundle)
	settingEngine.SetRTCPMux(rtcpMux)

	api, err := mediaendpoint.NewAPI(mediaendpoint.WithSettingEngine(settingEngine))
	require.NoError(t, err)

	factory, err := rtpconn.NewFactory(rtpconn.Config{Dial: network.dial, LoggerFactory: loggerFactory})
	require.NoError(t, err)

	p := &peer{sdp: api.NewSDPSession(nil), manager: newManager()}
	p.rtp, err = api.NewBaseRTPSession(p.sdp, p.manager, factory)
	require.NoError(t, err)

	return p
}

func negotiate(t *testing.T, offerer, answerer *peer) *sdp.SessionDescription {
	t.Helper()

	offer, err := offerer.sdp.GenerateOffer()
	require.NoError(t, err)
	answer, err := answerer.sdp.ProcessOffer(offer)
	require.NoError(t, err)
	require.True(t, offerer.sdp.ProcessAnswer(answer))

	require.NoError(t, offerer.rtp.StartTransportSend(true))
	require.NoError(t, answerer.rtp.StartTransportSend(false))

	return answer
}

func rtpPacket(t *testing.T, payloadType uint8, ssrc uint32) []byte {
	t.Helper()

	raw, err := (&rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    payloadType,
			SequenceNumber: 1,
			Timestamp:      960,
			SSRC:           ssrc,
		},
		Payload: silentOpusFrame,
	}).Marshal()
	require.NoError(t, err)

	return raw
}

func TestE2E_Bundle(t *testing.T) {
	lim := test.TimeOut(time.Second * 20)
	defer lim.Stop()

	report := test.CheckRoutines(t)
	defer report()

	network := newPipeNetwork(t)
	offerer := newPeer(t, network, true, true)
	answerer := newPeer(t, network, true, true)

	answer := negotiate(t, offerer, answerer)
	group, ok := answer.Attribute(sdp.AttrKeyGroup)
	require.True(t, ok)
	assert.Equal(t, "BUNDLE a0 v0 d0", group)

	assert.Equal(t, []string{"bundle0"}, offerer.rtp.Connections())
	assert.Equal(t, []string{"bundle0"}, answerer.rtp.Connections())
	assert.Equal(t, offerer.rtp.LocalSSRC(mediaendpoint.MediaTypeAudio), answerer.rtp.RemoteSSRC(mediaendpoint.MediaTypeAudio))
	assert.Equal(t, answerer.rtp.LocalSSRC(mediaendpoint.MediaTypeVideo), offerer.rtp.RemoteSSRC(mediaendpoint.MediaTypeVideo))

	audio := rtpPacket(t, 111, offerer.rtp.LocalSSRC(mediaendpoint.MediaTypeAudio))
	offerer.manager.send(t, "audio/rtp", audio)
	assert.Equal(t, audio, answerer.manager.expect(t, "audio/rtp"))

	video := rtpPacket(t, 96, answerer.rtp.LocalSSRC(mediaendpoint.MediaTypeVideo))
	answerer.manager.send(t, "video/rtp", video)
	assert.Equal(t, video, offerer.manager.expect(t, "video/rtp"))

	// a receiver report about the answerer's video reaches the answerer's
	// video rtcp sink
	rr, err := (&rtcp.ReceiverReport{
		SSRC:    offerer.rtp.LocalSSRC(mediaendpoint.MediaTypeVideo),
		Reports: []rtcp.ReceptionReport{{SSRC: answerer.rtp.LocalSSRC(mediaendpoint.MediaTypeVideo)}},
	}).Marshal()
	require.NoError(t, err)
	offerer.manager.send(t, "video/rtcp", rr)
	assert.Equal(t, rr, answerer.manager.expect(t, "video/rtcp"))

	offerer.manager.send(t, "data", []byte("hello"))
	assert.True(t, bytes.Equal([]byte("hello"), answerer.manager.expect(t, "data")))

	for _, p := range []*peer{offerer, answerer} {
		assert.Eventually(t, func() bool {
			return p.rtp.ConnectionState() == mediaendpoint.ConnectionStateConnected
		}, 5*time.Second, 10*time.Millisecond)
		for i := 0; i < 3; i++ {
			assert.Equal(t, mediaendpoint.MediaStateConnected, p.rtp.MediaState(i))
		}
	}

	require.NoError(t, offerer.rtp.Close())
	require.NoError(t, answerer.rtp.Close())
	assert.Equal(t, mediaendpoint.ConnectionStateDisconnected, offerer.rtp.ConnectionState())
}

func TestE2E_Unbundled(t *testing.T) {
	lim := test.TimeOut(time.Second * 20)
	defer lim.Stop()

	report := test.CheckRoutines(t)
	defer report()

	network := newPipeNetwork(t)
	offerer := newPeer(t, network, false, false)
	answerer := newPeer(t, network, false, false)

	answer := negotiate(t, offerer, answerer)
	_, hasGroup := answer.Attribute(sdp.AttrKeyGroup)
	assert.False(t, hasGroup)

	names := offerer.rtp.Connections()
	assert.Len(t, names, 3)
	kinds := map[mediaendpoint.ConnectionKind]int{}
	for _, name := range names {
		conn, ok := offerer.rtp.Connection(name)
		require.True(t, ok)
		assert.False(t, strings.HasPrefix(name, "bundle"))
		kinds[mediaendpoint.KindOf(conn)]++
	}
	// data rides a single transport
	assert.Equal(t, map[mediaendpoint.ConnectionKind]int{
		mediaendpoint.ConnectionKindRTP:     2,
		mediaendpoint.ConnectionKindRTCPMux: 1,
	}, kinds)

	audio := rtpPacket(t, 111, offerer.rtp.LocalSSRC(mediaendpoint.MediaTypeAudio))
	offerer.manager.send(t, "audio/rtp", audio)
	assert.Equal(t, audio, answerer.manager.expect(t, "audio/rtp"))

	sr, err := (&rtcp.SenderReport{SSRC: offerer.rtp.LocalSSRC(mediaendpoint.MediaTypeAudio)}).Marshal()
	require.NoError(t, err)
	offerer.manager.send(t, "audio/rtcp", sr)
	assert.Equal(t, sr, answerer.manager.expect(t, "audio/rtcp"))

	answerer.manager.send(t, "data", []byte("hello"))
	assert.Equal(t, []byte("hello"), offerer.manager.expect(t, "data"))

	require.NoError(t, offerer.rtp.Close())
	require.NoError(t, answerer.rtp.Close())
}
