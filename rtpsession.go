// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package mediaendpoint

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/mediaendpoint/pkg/demux"
	"github.com/pion/mediaendpoint/pkg/latency"
	"github.com/pion/mediaendpoint/pkg/rtcerr"
	"github.com/pion/randutil"
	"github.com/pion/sdp/v3"
)

const cnameRunes = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ssrcMap holds the SSRCs of the audio and video streams. Local SSRCs are
// fixed when the session is created, remote ones are learnt from the remote
// description.
type ssrcMap struct {
	localAudio, remoteAudio uint32
	localVideo, remoteVideo uint32

	audio, video *SDPMediaConfig
}

func (m *ssrcMap) local(mediaType string) uint32 {
	switch mediaType {
	case MediaTypeAudio:
		return m.localAudio
	case MediaTypeVideo:
		return m.localVideo
	default:
		return 0
	}
}

func (m *ssrcMap) remote(mediaType string) uint32 {
	switch mediaType {
	case MediaTypeAudio:
		return m.remoteAudio
	case MediaTypeVideo:
		return m.remoteVideo
	default:
		return 0
	}
}

func (m *ssrcMap) setRemote(mediaType string, ssrc uint32, negotiated *SDPMediaConfig) {
	switch mediaType {
	case MediaTypeAudio:
		m.remoteAudio, m.audio = ssrc, negotiated
	case MediaTypeVideo:
		m.remoteVideo, m.video = ssrc, negotiated
	}
}

// mediaTypeFor resolves an inbound SSRC, first against the announced remote
// SSRCs, then through the local SSRC the sender reports on over RTCP.
func (m *ssrcMap) mediaTypeFor(ssrc uint32, pairs *demux.RTCPDemuxer) (string, bool) {
	switch {
	case m.remoteAudio != 0 && ssrc == m.remoteAudio:
		return MediaTypeAudio, true
	case m.remoteVideo != 0 && ssrc == m.remoteVideo:
		return MediaTypeVideo, true
	}

	if pairs == nil {
		return "", false
	}

	local, ok := pairs.LocalSSRCPair(ssrc)
	switch {
	case !ok:
		return "", false
	case local == m.localAudio:
		return MediaTypeAudio, true
	case local == m.localVideo:
		return MediaTypeVideo, true
	default:
		return "", false
	}
}

// mediaEndpoints are the manager sinks an m-line of a BUNDLE connection
// delivers to.
type mediaEndpoints struct {
	rtp  io.Writer
	rtcp io.Writer
}

type connectionRecord struct {
	name      string
	kind      ConnectionKind
	conn      RTPConnection
	connected bool
	medias    []int

	bundleConfigured bool
	rtpDemux         *demux.SSRCDemuxer
	rtcpDemux        *demux.RTCPDemuxer
	sinks            map[string]mediaEndpoints
}

// BaseRTPSession maps negotiated m-lines onto connections, wires them to
// the RTPSessionManager endpoints and aggregates their connectivity.
type BaseRTPSession struct {
	mu sync.Mutex

	sdpSession *SDPSession
	manager    RTPSessionManager
	factory    ConnectionFactory

	started    bool
	conns      map[string]*connectionRecord
	pairings   []*mediaPairing
	ssrcs      ssrcMap
	cname      string
	state      ConnectionState
	unroutable map[uint32]struct{}

	latencyStats bool

	onConnectionStateChangeHandler func(ConnectionState)
	onLatencyHandler               func(string, latency.Stat)

	closed          atomicBool
	pumps           sync.WaitGroup
	closers         []io.Closer
	removeMediaHook func()

	metrics       *metrics
	loggerFactory logging.LoggerFactory
	log           logging.LeveledLogger
}

// NewBaseRTPSession creates the transport side of sdpSession. Every RTP
// m-line the session offers or accepts announces the session's local SSRC
// for its media type.
func (api *API) NewBaseRTPSession(
	sdpSession *SDPSession,
	manager RTPSessionManager,
	factory ConnectionFactory,
) (*BaseRTPSession, error) {
	switch {
	case sdpSession == nil:
		return nil, &rtcerr.InvalidParameterError{Err: ErrNilDescription}
	case manager == nil:
		return nil, &rtcerr.InvalidParameterError{Err: ErrNoSessionManager}
	case factory == nil:
		return nil, &rtcerr.InvalidParameterError{Err: ErrNoConnectionFactory}
	}

	cname, err := randutil.GenerateCryptoRandomString(cnameLength, cnameRunes)
	if err != nil {
		return nil, err
	}

	r := randutil.NewMathRandomGenerator()
	ssrcs := ssrcMap{localAudio: r.Uint32()}
	for ssrcs.localVideo == 0 || ssrcs.localVideo == ssrcs.localAudio {
		ssrcs.localVideo = r.Uint32()
	}

	loggerFactory := api.settingEngine.loggerFactory()
	s := &BaseRTPSession{
		sdpSession:    sdpSession,
		manager:       manager,
		factory:       factory,
		conns:         map[string]*connectionRecord{},
		ssrcs:         ssrcs,
		cname:         cname,
		state:         ConnectionStateDisconnected,
		unroutable:    map[uint32]struct{}{},
		latencyStats:  api.settingEngine.stats.Latency,
		metrics:       api.metrics,
		loggerFactory: loggerFactory,
		log:           loggerFactory.NewLogger("rtpsession"),
	}
	s.removeMediaHook = sdpSession.Agent().OnMedia(s.addLocalSSRC)

	return s, nil
}

func (s *BaseRTPSession) addLocalSSRC(media *SDPMediaConfig) {
	if !strings.Contains(media.Protocol(), "RTP") {
		return
	}

	if ssrc := s.ssrcs.local(media.MediaType()); ssrc != 0 {
		media.Media.WithValueAttribute(sdp.AttrKeySSRC, fmt.Sprintf("%d cname:%s", ssrc, s.cname))
	}
}

// StartTransportSend creates and wires the connections of every active
// negotiated m-line. An m-line that cannot be wired is logged and skipped.
// It panics if the negotiated and remote descriptions differ in m-line
// count, which negotiation never produces.
func (s *BaseRTPSession) StartTransportSend(offerer bool) error {
	negotiated, remote, _, err := s.sdpSession.negotiatedState()
	if err != nil {
		return err
	}

	negotiatedMsg, err := NewSDPMessageContextFromDescription(negotiated)
	if err != nil {
		return err
	}
	remoteMsg, err := NewSDPMessageContextFromDescription(remote)
	if err != nil {
		return err
	}

	negotiatedMedias, remoteMedias := negotiatedMsg.Medias(), remoteMsg.Medias()
	if len(negotiatedMedias) != len(remoteMedias) {
		panic(fmt.Sprintf("negotiated %d media, remote %d", len(negotiatedMedias), len(remoteMedias))) //nolint
	}

	s.mu.Lock()
	switch {
	case s.closed.get():
		s.mu.Unlock()

		return ErrSessionClosed
	case s.started:
		s.mu.Unlock()

		return ErrTransportStarted
	}
	s.started = true
	s.pairings = make([]*mediaPairing, len(negotiatedMedias))
	for i, media := range negotiatedMedias {
		s.pairings[i] = newMediaPairing(media)
		if ssrc, ok := firstSSRC(remoteMedias[i].Media); ok {
			s.ssrcs.setRemote(media.MediaType(), ssrc, media)
		}
	}
	pairings := s.pairings
	s.mu.Unlock()

	active := localConnectionActive(remote, offerer)
	for _, pairing := range pairings {
		if pairing.media.IsInactive() {
			s.log.Debugf("Media %d is inactive, not wiring", pairing.media.ID)

			continue
		}

		if err := s.wireMedia(pairing, active); err != nil {
			s.log.Warnf("Media %d (%s) not wired: %v", pairing.media.ID, pairing.media.MediaType(), err)
		}
	}

	s.mu.Lock()
	changed, state := s.updateConnectionStateLocked()
	handler := s.onConnectionStateChangeHandler
	s.mu.Unlock()

	if changed {
		s.emitConnectionStateChange(handler, state)
	}

	return nil
}

// localConnectionActive decides whether the local side initiates the
// connections: it is active when the remote side is passive, and otherwise
// the answerer dials.
func localConnectionActive(remote *sdp.SessionDescription, offerer bool) bool {
	switch connectionRoleFromRemoteSDP(remote) {
	case sdp.ConnectionRolePassive:
		return true
	case sdp.ConnectionRoleActive:
		return false
	default:
		return !offerer
	}
}

// connectionName is "bundle<group id>" for BUNDLE members, the id of the
// handler registration otherwise.
func connectionName(media *SDPMediaConfig, handlerID int) string {
	if group := media.Group(); group != nil {
		return group.ConnectionName()
	}

	return strconv.Itoa(handlerID)
}

func (s *BaseRTPSession) wireMedia(pairing *mediaPairing, active bool) error {
	rec, created, err := s.pairConnection(pairing)
	if err == nil {
		err = s.wireConnection(rec, created, pairing, active)
	}
	if err != nil && created {
		s.dropConnection(rec)
	}

	return err
}

// pairConnection finds or creates the connection serving the m-line of
// pairing. The connection is returned even when pairing fails.
func (s *BaseRTPSession) pairConnection(pairing *mediaPairing) (*connectionRecord, bool, error) {
	media := pairing.media
	agent := s.sdpSession.Agent()

	handlerID, ok := agent.HandlerID(media.MediaType(), media.Protocol())
	if !ok {
		return nil, false, fmt.Errorf("%w: %s %s", ErrNoHandler, media.MediaType(), media.Protocol())
	}
	name := connectionName(media, handlerID)

	rec, created, err := s.connectionFor(name, media)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	rec.medias = append(rec.medias, media.ID)
	pairing.connection = name
	err = pairing.fire(mediaEventCreate)
	s.mu.Unlock()

	return rec, created, err
}

func (s *BaseRTPSession) wireConnection(rec *connectionRecord, created bool, pairing *mediaPairing, active bool) error {
	media := pairing.media

	var err error
	if created {
		if err = rec.conn.Add(active); err != nil {
			return fmt.Errorf("add connection %s: %w", rec.name, err)
		}
	}

	switch {
	case media.MediaType() == MediaTypeApplication:
		err = s.wireData(rec, media)
	case rec.kind == ConnectionKindBundle:
		err = s.wireBundle(rec, media)
	case rec.kind == ConnectionKindRTCPMux:
		err = s.wireRTCPMux(rec, media)
	default:
		err = s.wireBasic(rec, media)
	}
	if err != nil {
		return err
	}

	if created {
		if err = rec.conn.SyncSinkState(); err != nil {
			return err
		}
		if err = rec.conn.SyncSrcState(); err != nil {
			return err
		}
		s.watchConnection(rec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err = pairing.fire(mediaEventWire); err != nil {
		return err
	}
	if rec.connected {
		return pairing.fire(mediaEventConnect)
	}

	return nil
}

// dropConnection unregisters a connection whose first m-line could not be
// wired and releases the m-lines paired with it.
func (s *BaseRTPSession) dropConnection(rec *connectionRecord) {
	s.mu.Lock()
	if s.conns[rec.name] == rec {
		delete(s.conns, rec.name)
	}
	for _, id := range rec.medias {
		if err := s.pairings[id].fire(mediaEventRelease); err != nil {
			s.log.Warnf("Media %d: %v", id, err)
		}
		s.pairings[id].connection = ""
	}
	rec.medias = nil
	s.mu.Unlock()

	if err := rec.conn.Close(); err != nil {
		s.log.Warnf("Failed to close connection %s: %v", rec.name, err)
	}
}

// connectionFor returns the connection registered under name, creating it
// when missing. There is never more than one connection per name. Data
// travels on one transport, so unbundled application media gets an
// rtcp-mux connection.
func (s *BaseRTPSession) connectionFor(name string, media *SDPMediaConfig) (*connectionRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.get() {
		return nil, false, ErrSessionClosed
	}
	if rec, ok := s.conns[name]; ok {
		return rec, false, nil
	}

	rec := &connectionRecord{name: name, sinks: map[string]mediaEndpoints{}}

	var err error
	switch {
	case strings.HasPrefix(name, bundleConnectionPrefix):
		rec.kind = ConnectionKindBundle
		rec.conn, err = s.factory.NewBundleConnection(name, media)
	case media.RTCPMux(), media.MediaType() == MediaTypeApplication:
		rec.kind = ConnectionKindRTCPMux
		rec.conn, err = s.factory.NewRTCPMuxConnection(name, media)
	default:
		rec.kind = ConnectionKindRTP
		rec.conn, err = s.factory.NewRTPConnection(name, media)
	}
	if err != nil {
		return nil, false, fmt.Errorf("create %s connection %s: %w", rec.kind, name, err)
	}
	if rec.conn == nil {
		return nil, false, fmt.Errorf("%w: %s", ErrUnsupportedConnection, rec.kind)
	}

	s.conns[name] = rec
	s.metrics.connectionsCreated.WithLabelValues(rec.kind.String()).Inc()
	s.log.Debugf("Created %s connection %s", rec.kind, name)

	return rec, true, nil
}

func (s *BaseRTPSession) watchConnection(rec *connectionRecord) {
	s.mu.Lock()
	collect := s.latencyStats
	s.mu.Unlock()

	rec.conn.SetLatencyCallback(func(stat latency.Stat) {
		s.reportLatency(rec.name, stat)
	})
	rec.conn.CollectLatencyStats(collect)
	rec.conn.OnConnected(func() {
		s.setConnectionConnected(rec, true)
	})
}

// setConnectionConnected records the connectivity of rec and emits a
// connection state change when the aggregate changed.
func (s *BaseRTPSession) setConnectionConnected(rec *connectionRecord, connected bool) {
	s.mu.Lock()
	if s.closed.get() || rec.connected == connected {
		s.mu.Unlock()

		return
	}

	rec.connected = connected
	if connected {
		for _, id := range rec.medias {
			if err := s.pairings[id].fire(mediaEventConnect); err != nil {
				s.log.Warnf("Media %d: %v", id, err)
			}
		}
	}
	changed, state := s.updateConnectionStateLocked()
	handler := s.onConnectionStateChangeHandler
	s.mu.Unlock()

	s.log.Debugf("Connection %s connected=%t", rec.name, connected)
	if changed {
		s.emitConnectionStateChange(handler, state)
	}
}

func (s *BaseRTPSession) updateConnectionStateLocked() (bool, ConnectionState) {
	state := ConnectionStateConnected
	if len(s.conns) == 0 {
		state = ConnectionStateDisconnected
	}
	for _, rec := range s.conns {
		if !rec.connected {
			state = ConnectionStateDisconnected

			break
		}
	}

	if state == s.state {
		return false, state
	}
	s.state = state
	s.metrics.stateChanges.WithLabelValues(state.String()).Inc()

	return true, state
}

func (s *BaseRTPSession) emitConnectionStateChange(handler func(ConnectionState), state ConnectionState) {
	s.log.Infof("Connection state changed: %s", state)
	if handler != nil {
		handler(state)
	}
}

// onNewSSRC routes an inbound SSRC of a BUNDLE connection to the m-line it
// belongs to, falling back to the manager's custom SSRC management.
func (s *BaseRTPSession) onNewSSRC(rec *connectionRecord, ssrc uint32) bool {
	s.mu.Lock()
	mediaType, ok := s.ssrcs.mediaTypeFor(ssrc, rec.rtcpDemux)
	endpoints, wired := rec.sinks[mediaType]
	s.mu.Unlock()

	if ok && wired {
		rec.rtpDemux.Route(ssrc, endpoints.rtp)
		rec.rtcpDemux.Route(ssrc, endpoints.rtcp)
		s.log.Debugf("SSRC %d on %s routed to %s", ssrc, rec.name, mediaType)

		return true
	}

	if s.manager.CustomSSRCManagement(s, rec.rtpDemux, ssrc) {
		return true
	}

	s.routingError(rec.name, ssrc)

	return false
}

func (s *BaseRTPSession) routingError(name string, ssrc uint32) {
	s.mu.Lock()
	_, logged := s.unroutable[ssrc]
	s.unroutable[ssrc] = struct{}{}
	s.mu.Unlock()

	if logged {
		return
	}
	s.metrics.routingErrors.Inc()
	s.log.Warnf("No media for SSRC %d on %s, dropping its packets", ssrc, name)
}

func (s *BaseRTPSession) reportLatency(name string, stat latency.Stat) {
	s.metrics.latency.WithLabelValues(name).Observe(stat.Last.Seconds())

	s.mu.Lock()
	handler := s.onLatencyHandler
	s.mu.Unlock()

	if handler != nil {
		handler(name, stat)
	}
}

// OnConnectionStateChange sets an event handler which is called when the
// aggregated connectivity changes. It is called without any session lock
// held and may call back into the session.
func (s *BaseRTPSession) OnConnectionStateChange(f func(ConnectionState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnectionStateChangeHandler = f
}

// OnLatency sets an event handler receiving the latency samples of every
// connection, with the connection name.
func (s *BaseRTPSession) OnLatency(f func(connection string, stat latency.Stat)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLatencyHandler = f
}

// SetLatencyStatsEnabled turns latency collection on or off for every
// connection, current and future.
func (s *BaseRTPSession) SetLatencyStatsEnabled(enabled bool) {
	s.mu.Lock()
	s.latencyStats = enabled
	conns := s.connectionsLocked()
	s.mu.Unlock()

	for _, conn := range conns {
		conn.CollectLatencyStats(enabled)
	}
}

func (s *BaseRTPSession) connectionsLocked() []RTPConnection {
	conns := make([]RTPConnection, 0, len(s.conns))
	for _, rec := range s.conns {
		conns = append(conns, rec.conn)
	}

	return conns
}

// ConnectionState returns the aggregated connectivity.
func (s *BaseRTPSession) ConnectionState() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Connection returns the connection registered under name.
func (s *BaseRTPSession) Connection(name string) (RTPConnection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.conns[name]
	if !ok {
		return nil, false
	}

	return rec.conn, true
}

// Connections returns the names of the registered connections, sorted.
func (s *BaseRTPSession) Connections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.conns))
	for name := range s.conns {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// MediaState returns the pairing state of the negotiated m-line at index.
func (s *BaseRTPSession) MediaState(index int) MediaState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.pairings) {
		return MediaStateUnknown
	}

	return s.pairings[index].state()
}

// MediaConnection returns the name of the connection serving the negotiated
// m-line at index.
func (s *BaseRTPSession) MediaConnection(index int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.pairings) || s.pairings[index].connection == "" {
		return "", false
	}

	return s.pairings[index].connection, true
}

// LocalSSRC returns the SSRC announced for the local stream of mediaType.
func (s *BaseRTPSession) LocalSSRC(mediaType string) uint32 {
	return s.ssrcs.local(mediaType)
}

// RemoteSSRC returns the SSRC announced by the remote side for mediaType,
// zero when unknown.
func (s *BaseRTPSession) RemoteSSRC(mediaType string) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ssrcs.remote(mediaType)
}

// CNAME returns the RTCP canonical name of the session.
func (s *BaseRTPSession) CNAME() string {
	return s.cname
}

// Close releases every connection and stops the packet pumps.
func (s *BaseRTPSession) Close() error {
	if s.closed.swap(true) {
		return nil
	}
	s.removeMediaHook()

	s.mu.Lock()
	conns := s.connectionsLocked()
	closers := s.closers
	s.closers = nil
	for _, pairing := range s.pairings {
		if err := pairing.fire(mediaEventRelease); err != nil {
			s.log.Warnf("Media %d: %v", pairing.media.ID, err)
		}
	}
	s.conns = map[string]*connectionRecord{}
	changed, state := s.updateConnectionStateLocked()
	handler := s.onConnectionStateChangeHandler
	s.mu.Unlock()

	var errs []error
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.pumps.Wait()

	if changed {
		s.emitConnectionStateChange(handler, state)
	}

	return errors.Join(errs...)
}
