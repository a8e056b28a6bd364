// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package demux

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/rtcp"
)

var errNoSenderSSRC = errors.New("demux: rtcp packet carries no sender ssrc")

// RTCPDemuxer routes compound RTCP packets by the SSRC of their sender and
// learns which local SSRC each remote sender reports on. That pairing lets a
// remote SSRC that was never announced in SDP be matched to local media.
type RTCPDemuxer struct {
	lock      sync.RWMutex
	pairs     map[uint32]uint32
	routes    map[uint32]io.Writer
	onNewSSRC NewSSRCHandler

	log logging.LeveledLogger
}

// NewRTCPDemuxer creates a new RTCPDemuxer.
func NewRTCPDemuxer(loggerFactory logging.LoggerFactory) *RTCPDemuxer {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	return &RTCPDemuxer{
		pairs:  map[uint32]uint32{},
		routes: map[uint32]io.Writer{},
		log:    loggerFactory.NewLogger("demux"),
	}
}

// OnNewSSRC sets the handler fired for sender SSRCs without a route.
func (d *RTCPDemuxer) OnNewSSRC(f NewSSRCHandler) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.onNewSSRC = f
}

// Route installs w as the destination of RTCP sent by remoteSSRC.
func (d *RTCPDemuxer) Route(remoteSSRC uint32, w io.Writer) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.routes[remoteSSRC] = w
}

// LocalSSRCPair returns the local SSRC the remote sender remoteSSRC reported
// on in its last sender or receiver report.
func (d *RTCPDemuxer) LocalSSRCPair(remoteSSRC uint32) (uint32, bool) {
	d.lock.RLock()
	defer d.lock.RUnlock()
	local, ok := d.pairs[remoteSSRC]

	return local, ok
}

// Demux learns SSRC pairs from buf and writes it to the writer routed for
// its sender. Pairs are learnt even if the packet cannot be routed.
func (d *RTCPDemuxer) Demux(buf []byte) error {
	pkts, err := rtcp.Unmarshal(buf)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPacket, err)
	}

	d.learn(pkts)

	sender, ok := senderSSRC(pkts)
	if !ok {
		return errNoSenderSSRC
	}

	w, err := d.resolve(sender)
	if err != nil {
		return err
	}

	_, err = w.Write(buf)

	return err
}

func (d *RTCPDemuxer) learn(pkts []rtcp.Packet) {
	d.lock.Lock()
	defer d.lock.Unlock()

	for _, pkt := range pkts {
		var (
			remote  uint32
			reports []rtcp.ReceptionReport
		)
		switch p := pkt.(type) {
		case *rtcp.SenderReport:
			remote, reports = p.SSRC, p.Reports
		case *rtcp.ReceiverReport:
			remote, reports = p.SSRC, p.Reports
		default:
			continue
		}

		if len(reports) == 0 {
			continue
		}
		if prev, ok := d.pairs[remote]; !ok || prev != reports[0].SSRC {
			d.log.Debugf("ssrc pair remote %d local %d", remote, reports[0].SSRC)
		}
		d.pairs[remote] = reports[0].SSRC
	}
}

func (d *RTCPDemuxer) resolve(ssrc uint32) (io.Writer, error) {
	d.lock.RLock()
	w, ok := d.routes[ssrc]
	onNewSSRC := d.onNewSSRC
	d.lock.RUnlock()
	if ok {
		return w, nil
	}

	if onNewSSRC == nil || !onNewSSRC(ssrc) {
		return nil, fmt.Errorf("%w %d", ErrUnknownSSRC, ssrc)
	}

	d.lock.RLock()
	w, ok = d.routes[ssrc]
	d.lock.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %d", ErrUnknownSSRC, ssrc)
	}

	return w, nil
}

// senderSSRC returns the SSRC of the originator of a compound packet, taken
// from its first packet that names one.
func senderSSRC(pkts []rtcp.Packet) (uint32, bool) {
	for _, pkt := range pkts {
		switch p := pkt.(type) {
		case *rtcp.SenderReport:
			return p.SSRC, true
		case *rtcp.ReceiverReport:
			return p.SSRC, true
		case *rtcp.SourceDescription:
			if len(p.Chunks) > 0 {
				return p.Chunks[0].Source, true
			}
		case *rtcp.Goodbye:
			if len(p.Sources) > 0 {
				return p.Sources[0], true
			}
		case *rtcp.PictureLossIndication:
			return p.SenderSSRC, true
		case *rtcp.FullIntraRequest:
			return p.SenderSSRC, true
		case *rtcp.TransportLayerNack:
			return p.SenderSSRC, true
		case *rtcp.ReceiverEstimatedMaximumBitrate:
			return p.SenderSSRC, true
		}
	}

	return 0, false
}
