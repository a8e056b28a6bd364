// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package demux routes packets received on a shared (BUNDLE) transport to
// per-stream writers, keyed by SSRC.
package demux

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/rtp"
)

var (
	// ErrUnknownSSRC is returned when no route exists for a packet's SSRC and
	// the new SSRC handler did not install one.
	ErrUnknownSSRC = errors.New("demux: no route for ssrc")

	// ErrInvalidPacket is returned for packets that do not parse.
	ErrInvalidPacket = errors.New("demux: invalid packet")
)

// NewSSRCHandler is called the first time a packet arrives for an SSRC that
// has no route. It returns true if it installed a route for ssrc.
type NewSSRCHandler func(ssrc uint32) bool

// SSRCDemuxer routes RTP packets to writers by SSRC.
type SSRCDemuxer struct {
	lock      sync.RWMutex
	routes    map[uint32]io.Writer
	onNewSSRC NewSSRCHandler

	log logging.LeveledLogger
}

// NewSSRCDemuxer creates a new SSRCDemuxer.
func NewSSRCDemuxer(loggerFactory logging.LoggerFactory) *SSRCDemuxer {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	return &SSRCDemuxer{
		routes: map[uint32]io.Writer{},
		log:    loggerFactory.NewLogger("demux"),
	}
}

// OnNewSSRC sets the handler fired for SSRCs without a route.
func (d *SSRCDemuxer) OnNewSSRC(f NewSSRCHandler) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.onNewSSRC = f
}

// Route installs w as the destination of packets carrying ssrc, replacing
// any previous route.
func (d *SSRCDemuxer) Route(ssrc uint32, w io.Writer) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.routes[ssrc] = w
}

// Unroute removes the route of ssrc.
func (d *SSRCDemuxer) Unroute(ssrc uint32) {
	d.lock.Lock()
	defer d.lock.Unlock()
	delete(d.routes, ssrc)
}

// Writer returns the destination of ssrc.
func (d *SSRCDemuxer) Writer(ssrc uint32) (io.Writer, bool) {
	d.lock.RLock()
	defer d.lock.RUnlock()
	w, ok := d.routes[ssrc]

	return w, ok
}

// SSRCs returns the routed SSRCs in ascending order.
func (d *SSRCDemuxer) SSRCs() []uint32 {
	d.lock.RLock()
	defer d.lock.RUnlock()

	ssrcs := make([]uint32, 0, len(d.routes))
	for ssrc := range d.routes {
		ssrcs = append(ssrcs, ssrc)
	}
	sort.Slice(ssrcs, func(i, j int) bool { return ssrcs[i] < ssrcs[j] })

	return ssrcs
}

// Demux writes pkt to the writer routed for its SSRC. The new SSRC handler
// runs without the demuxer lock held, so it may call Route.
func (d *SSRCDemuxer) Demux(pkt []byte) error {
	header := rtp.Header{}
	if _, err := header.Unmarshal(pkt); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPacket, err)
	}

	w, err := d.resolve(header.SSRC)
	if err != nil {
		return err
	}

	_, err = w.Write(pkt)

	return err
}

func (d *SSRCDemuxer) resolve(ssrc uint32) (io.Writer, error) {
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

	if w, ok = d.Writer(ssrc); !ok {
		return nil, fmt.Errorf("%w %d", ErrUnknownSSRC, ssrc)
	}
	d.log.Debugf("new ssrc %d routed", ssrc)

	return w, nil
}
