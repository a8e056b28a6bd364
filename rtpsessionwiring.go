// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package mediaendpoint

import (
	"errors"
	"fmt"
	"io"

	"github.com/pion/mediaendpoint/internal/mux"
	"github.com/pion/mediaendpoint/pkg/demux"
)

type managerEndpoints struct {
	rtpSink, rtcpSink io.Writer
	rtpSrc, rtcpSrc   io.Reader
}

func (s *BaseRTPSession) requestManagerEndpoints(media *SDPMediaConfig) (e managerEndpoints, err error) {
	if e.rtpSink, err = s.manager.RequestRTPSink(s, media); err != nil {
		return e, fmt.Errorf("rtp sink: %w", err)
	}
	if e.rtcpSink, err = s.manager.RequestRTCPSink(s, media); err != nil {
		return e, fmt.Errorf("rtcp sink: %w", err)
	}
	if e.rtpSrc, err = s.manager.RequestRTPSrc(s, media); err != nil {
		return e, fmt.Errorf("rtp src: %w", err)
	}
	if e.rtcpSrc, err = s.manager.RequestRTCPSrc(s, media); err != nil {
		return e, fmt.Errorf("rtcp src: %w", err)
	}

	return e, nil
}

// wireBasic pumps RTP and RTCP over their own connection endpoints.
func (s *BaseRTPSession) wireBasic(rec *connectionRecord, media *SDPMediaConfig) error {
	endpoints, err := s.requestManagerEndpoints(media)
	if err != nil {
		return err
	}

	rtpSrc, err := rec.conn.RequestRTPSrc()
	if err != nil {
		return err
	}
	rtcpSrc, err := rec.conn.RequestRTCPSrc()
	if err != nil {
		return err
	}
	rtpSink, err := rec.conn.RequestRTPSink()
	if err != nil {
		return err
	}
	rtcpSink, err := rec.conn.RequestRTCPSink()
	if err != nil {
		return err
	}

	s.pump(rec.name, rtpSrc, true, writeTo(endpoints.rtpSink))
	s.pump(rec.name, rtcpSrc, true, writeTo(endpoints.rtcpSink))
	s.pump(rec.name, endpoints.rtpSrc, false, writeTo(rtpSink))
	s.pump(rec.name, endpoints.rtcpSrc, false, writeTo(rtcpSink))

	return nil
}

// wireRTCPMux pumps RTP and RTCP over the connection RTP endpoints and
// splits inbound packets by type (RFC 5761).
func (s *BaseRTPSession) wireRTCPMux(rec *connectionRecord, media *SDPMediaConfig) error {
	endpoints, err := s.requestManagerEndpoints(media)
	if err != nil {
		return err
	}

	src, err := rec.conn.RequestRTPSrc()
	if err != nil {
		return err
	}
	sink, err := rec.conn.RequestRTPSink()
	if err != nil {
		return err
	}

	s.pump(rec.name, src, true, func(pkt []byte) error {
		switch mux.Classify(pkt) {
		case mux.PacketTypeRTCP:
			_, err := endpoints.rtcpSink.Write(pkt)

			return err
		case mux.PacketTypeRTP:
			_, err := endpoints.rtpSink.Write(pkt)

			return err
		default:
			return errUnexpectedPacket
		}
	})
	s.pump(rec.name, endpoints.rtpSrc, false, writeTo(sink))
	s.pump(rec.name, endpoints.rtcpSrc, false, writeTo(sink))

	return nil
}

// wireBundle adds an m-line to a BUNDLE connection. The first m-line
// installs the SSRC demuxers and the inbound pump shared by the group.
func (s *BaseRTPSession) wireBundle(rec *connectionRecord, media *SDPMediaConfig) error {
	endpoints, err := s.requestManagerEndpoints(media)
	if err != nil {
		return err
	}

	sink, err := rec.conn.RequestRTPSink()
	if err != nil {
		return err
	}

	s.mu.Lock()
	configure := !rec.bundleConfigured
	if configure {
		rec.bundleConfigured = true
		rec.rtpDemux = demux.NewSSRCDemuxer(s.loggerFactory)
		rec.rtcpDemux = demux.NewRTCPDemuxer(s.loggerFactory)
	}
	rec.sinks[media.MediaType()] = mediaEndpoints{rtp: endpoints.rtpSink, rtcp: endpoints.rtcpSink}
	s.mu.Unlock()

	if configure {
		src, err := rec.conn.RequestRTPSrc()
		if err != nil {
			return err
		}

		newSSRC := func(ssrc uint32) bool { return s.onNewSSRC(rec, ssrc) }
		rec.rtpDemux.OnNewSSRC(newSSRC)
		rec.rtcpDemux.OnNewSSRC(newSSRC)
		s.pump(rec.name, src, true, s.demuxBundle(rec))
	}

	s.pump(rec.name, endpoints.rtpSrc, false, writeTo(sink))
	s.pump(rec.name, endpoints.rtcpSrc, false, writeTo(sink))

	return nil
}

func (s *BaseRTPSession) demuxBundle(rec *connectionRecord) func([]byte) error {
	return func(pkt []byte) error {
		var err error
		switch mux.Classify(pkt) {
		case mux.PacketTypeRTCP:
			err = rec.rtcpDemux.Demux(pkt)
		case mux.PacketTypeRTP:
			err = rec.rtpDemux.Demux(pkt)
		default:
			return errUnexpectedPacket
		}

		// unroutable SSRCs are reported once by onNewSSRC
		if errors.Is(err, demux.ErrUnknownSSRC) {
			return nil
		}

		return err
	}
}

// wireData pumps data channel packets when the manager takes them.
func (s *BaseRTPSession) wireData(rec *connectionRecord, media *SDPMediaConfig) error {
	manager, ok := s.manager.(DataSessionManager)
	if !ok {
		return fmt.Errorf("%w: manager takes no data", ErrUnsupportedConnection)
	}

	managerSink, err := manager.RequestDataSink(s, media)
	if err != nil {
		return err
	}
	managerSrc, err := manager.RequestDataSrc(s, media)
	if err != nil {
		return err
	}
	src, err := rec.conn.RequestDataSrc()
	if err != nil {
		return err
	}
	sink, err := rec.conn.RequestDataSink()
	if err != nil {
		return err
	}

	s.pump(rec.name, src, true, writeTo(managerSink))
	s.pump(rec.name, managerSrc, false, writeTo(sink))

	return nil
}

var errUnexpectedPacket = errors.New("neither rtp nor rtcp")

func writeTo(w io.Writer) func([]byte) error {
	return func(pkt []byte) error {
		_, err := w.Write(pkt)

		return err
	}
}

// pump reads packets from src until it fails and hands them to handle.
// owned srcs belong to connections, which unblock them when closed; manager
// srcs are closed by Close when they are io.Closers and are not waited for
// otherwise.
func (s *BaseRTPSession) pump(name string, src io.Reader, owned bool, handle func([]byte) error) {
	wait := owned
	if closer, ok := src.(io.Closer); ok && !owned {
		s.mu.Lock()
		closed := s.closed.get()
		if !closed {
			s.closers = append(s.closers, closer)
		}
		s.mu.Unlock()

		if closed {
			_ = closer.Close()

			return
		}
		wait = true
	}

	if wait {
		s.pumps.Add(1)
	}
	go func() {
		if wait {
			defer s.pumps.Done()
		}

		buf := make([]byte, receiveMTU)
		for {
			n, err := src.Read(buf)
			if err != nil {
				if !s.closed.get() && !errors.Is(err, io.EOF) {
					s.log.Warnf("%s: read failed: %v", name, err)
				}

				return
			}

			if err := handle(buf[:n]); err != nil {
				if s.closed.get() {
					return
				}
				s.log.Tracef("%s: dropped packet: %v", name, err)
			}
		}
	}()
}
