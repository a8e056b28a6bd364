// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package mediaendpoint

import (
	"io"

	"github.com/pion/mediaendpoint/pkg/demux"
	"github.com/pion/mediaendpoint/pkg/latency"
)

// RTPConnection is a transport endpoint carrying the packets of one or more
// m-lines. Sinks take packets to send, srcs deliver received packets, one
// packet per Write or Read.
type RTPConnection interface {
	// Add attaches the connection to the session. active is true when the
	// local side initiates the connection.
	Add(active bool) error
	SyncSinkState() error
	SyncSrcState() error

	RequestRTPSink() (io.Writer, error)
	RequestRTPSrc() (io.Reader, error)
	RequestRTCPSink() (io.Writer, error)
	RequestRTCPSrc() (io.Reader, error)
	RequestDataSink() (io.Writer, error)
	RequestDataSrc() (io.Reader, error)

	// OnConnected sets a handler fired once, when the connection first
	// becomes connected. It fires immediately when already connected.
	OnConnected(f func())
	IsConnected() bool

	SetLatencyCallback(f func(latency.Stat))
	CollectLatencyStats(enable bool)

	Close() error
}

// RTCPMuxConnection carries RTP and RTCP on the RTP sink and src.
type RTCPMuxConnection interface {
	RTPConnection
	rtcpMux()
}

// BundleConnection carries the RTP and RTCP of several m-lines on the RTP
// sink and src.
type BundleConnection interface {
	RTPConnection
	bundle()
}

// RTCPMuxMarker is embedded by RTCPMuxConnection implementations.
type RTCPMuxMarker struct{}

func (RTCPMuxMarker) rtcpMux() {}

// BundleMarker is embedded by BundleConnection implementations.
type BundleMarker struct{}

func (BundleMarker) bundle() {}

// ConnectionFactory creates the connections a BaseRTPSession wires. The
// media is the first m-line using the connection.
type ConnectionFactory interface {
	NewRTPConnection(name string, media *SDPMediaConfig) (RTPConnection, error)
	NewRTCPMuxConnection(name string, media *SDPMediaConfig) (RTCPMuxConnection, error)
	NewBundleConnection(name string, media *SDPMediaConfig) (BundleConnection, error)
}

// RTPSessionManager provides the local endpoints the packets of each m-line
// are exchanged with.
type RTPSessionManager interface {
	RequestRTPSink(s *BaseRTPSession, media *SDPMediaConfig) (io.Writer, error)
	RequestRTPSrc(s *BaseRTPSession, media *SDPMediaConfig) (io.Reader, error)
	RequestRTCPSink(s *BaseRTPSession, media *SDPMediaConfig) (io.Writer, error)
	RequestRTCPSrc(s *BaseRTPSession, media *SDPMediaConfig) (io.Reader, error)

	// CustomSSRCManagement is asked to route an inbound bundled SSRC that
	// matches no negotiated media. It returns true when it routed ssrc on
	// the demuxer.
	CustomSSRCManagement(s *BaseRTPSession, d *demux.SSRCDemuxer, ssrc uint32) bool
}

// DataSessionManager is implemented by managers that also take the data
// channel packets of application m-lines.
type DataSessionManager interface {
	RequestDataSink(s *BaseRTPSession, media *SDPMediaConfig) (io.Writer, error)
	RequestDataSrc(s *BaseRTPSession, media *SDPMediaConfig) (io.Reader, error)
}

// ConnectionKind is the topology of a connection.
type ConnectionKind int

const (
	// ConnectionKindUnknown is the enum's zero-value
	ConnectionKindUnknown ConnectionKind = iota

	// ConnectionKindRTP uses separate RTP and RTCP transports.
	ConnectionKindRTP

	// ConnectionKindRTCPMux multiplexes RTP and RTCP on one transport.
	ConnectionKindRTCPMux

	// ConnectionKindBundle multiplexes several m-lines on one transport.
	ConnectionKindBundle
)

func (k ConnectionKind) String() string {
	switch k {
	case ConnectionKindRTP:
		return "rtp"
	case ConnectionKindRTCPMux:
		return "rtcp-mux"
	case ConnectionKindBundle:
		return "bundle"
	default:
		return unknownStr
	}
}

// KindOf returns the topology of conn.
func KindOf(conn RTPConnection) ConnectionKind {
	switch conn.(type) {
	case BundleConnection:
		return ConnectionKindBundle
	case RTCPMuxConnection:
		return ConnectionKindRTCPMux
	case nil:
		return ConnectionKindUnknown
	default:
		return ConnectionKindRTP
	}
}
