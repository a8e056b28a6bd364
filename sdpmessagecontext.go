// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package mediaendpoint

import (
	"fmt"
	"strings"

	"github.com/pion/mediaendpoint/pkg/rtcerr"
	"github.com/pion/sdp/v3"
)

const (
	sessionUsername = "-"
	sessionName     = "Kurento Media Server"
	networkTypeIN   = "IN"
	addressTypeIP4  = "IP4"
	addressTypeIP6  = "IP6"
	defaultIPv4     = "0.0.0.0"
	defaultIPv6     = "::"
)

// SDPMediaConfig is one m-line of a message, with its index and mid.
type SDPMediaConfig struct {
	ID    int
	MID   string
	Media *sdp.MediaDescription

	group *SDPMediaGroup
}

// Group returns the BUNDLE group the m-line belongs to, or nil.
func (c *SDPMediaConfig) Group() *SDPMediaGroup {
	return c.group
}

// MediaType returns the media type of the m-line.
func (c *SDPMediaConfig) MediaType() string {
	return c.Media.MediaName.Media
}

// Protocol returns the transport protocol of the m-line.
func (c *SDPMediaConfig) Protocol() string {
	return mediaProtocol(c.Media)
}

// IsInactive reports whether the m-line is rejected or inactive.
func (c *SDPMediaConfig) IsInactive() bool {
	return isMediaInactive(c.Media)
}

// RTCPMux reports whether the m-line negotiated rtcp-mux.
func (c *SDPMediaConfig) RTCPMux() bool {
	return hasPropertyAttribute(c.Media, sdp.AttrKeyRTCPMux)
}

// SDPMediaGroup is a BUNDLE group.
type SDPMediaGroup struct {
	ID     int
	Medias []*SDPMediaConfig
}

// ConnectionName returns the name of the connection shared by the group.
func (g *SDPMediaGroup) ConnectionName() string {
	return fmt.Sprintf("%s%d", bundleConnectionPrefix, g.ID)
}

// Contains reports whether media is a member of the group.
func (g *SDPMediaGroup) Contains(media *SDPMediaConfig) bool {
	for _, m := range g.Medias {
		if m.ID == media.ID {
			return true
		}
	}

	return false
}

// Add makes media a member of the group. Adding a member twice is a no-op.
func (g *SDPMediaGroup) Add(media *SDPMediaConfig) {
	if g.Contains(media) {
		return
	}
	g.Medias = append(g.Medias, media)
	media.group = g
}

func (g *SDPMediaGroup) attribute() sdp.Attribute {
	value := semanticTokenBundle
	for _, m := range g.Medias {
		value += " " + m.MID
	}

	return sdp.NewAttribute(sdp.AttrKeyGroup, value)
}

// SDPMessageContext is a message under construction: session attributes,
// ordered m-lines and BUNDLE groups.
type SDPMessageContext struct {
	useIPv6    bool
	attributes []sdp.Attribute
	medias     []*SDPMediaConfig
	groups     []*SDPMediaGroup
}

// NewSDPMessageContext creates an empty message.
func NewSDPMessageContext(useIPv6 bool) *SDPMessageContext {
	return &SDPMessageContext{useIPv6: useIPv6}
}

// NewSDPMessageContextFromDescription rebuilds a message context from a
// parsed description, recovering mids and BUNDLE groups.
func NewSDPMessageContextFromDescription(desc *sdp.SessionDescription) (*SDPMessageContext, error) {
	if desc == nil {
		return nil, &rtcerr.InvalidParameterError{Err: ErrNilDescription}
	}

	ctx := &SDPMessageContext{
		useIPv6: desc.Origin.AddressType == addressTypeIP6,
	}
	for _, a := range desc.Attributes {
		if a.Key != sdp.AttrKeyGroup {
			ctx.attributes = append(ctx.attributes, a)
		}
	}

	for _, media := range desc.MediaDescriptions {
		ctx.AddMedia(media, mediaMID(media))
	}

	for _, mids := range bundleGroups(desc) {
		group := ctx.AddGroup()
		for _, mid := range mids {
			if media := ctx.MediaByMID(mid); media != nil {
				group.Add(media)
			}
		}
	}

	return ctx, nil
}

// AddMedia appends an m-line. A non-empty mid is set as the mid attribute.
func (c *SDPMessageContext) AddMedia(media *sdp.MediaDescription, mid string) *SDPMediaConfig {
	if mid != "" && mediaMID(media) == "" {
		media.Attributes = append([]sdp.Attribute{sdp.NewAttribute(sdp.AttrKeyMID, mid)}, media.Attributes...)
	}

	config := &SDPMediaConfig{
		ID:    len(c.medias),
		MID:   mid,
		Media: media,
	}
	c.medias = append(c.medias, config)

	return config
}

// AddGroup creates a new, empty BUNDLE group.
func (c *SDPMessageContext) AddGroup() *SDPMediaGroup {
	group := &SDPMediaGroup{ID: len(c.groups)}
	c.groups = append(c.groups, group)

	return group
}

// Medias returns the m-lines in order.
func (c *SDPMessageContext) Medias() []*SDPMediaConfig {
	return c.medias
}

// Groups returns the BUNDLE groups.
func (c *SDPMessageContext) Groups() []*SDPMediaGroup {
	return c.groups
}

// MediaByMID returns the m-line tagged mid, or nil.
func (c *SDPMessageContext) MediaByMID(mid string) *SDPMediaConfig {
	for _, m := range c.medias {
		if m.MID != "" && m.MID == mid {
			return m
		}
	}

	return nil
}

// NextMID returns an unused mid for mediaType: its first letter followed by
// a counter, "a0", "v0", "d0" for audio, video and application.
func (c *SDPMessageContext) NextMID(mediaType string) string {
	prefix := midPrefix(mediaType)
	for i := 0; ; i++ {
		mid := fmt.Sprintf("%s%d", prefix, i)
		if c.MediaByMID(mid) == nil {
			return mid
		}
	}
}

func midPrefix(mediaType string) string {
	switch mediaType {
	case MediaTypeAudio:
		return "a"
	case MediaTypeVideo:
		return "v"
	case MediaTypeApplication:
		return "d"
	default:
		return strings.ToLower(mediaType)
	}
}

// Pack builds the session description: session defaults, the BUNDLE group
// attributes, then the m-lines in order.
func (c *SDPMessageContext) Pack() (*sdp.SessionDescription, error) {
	addressType, address := addressTypeIP4, defaultIPv4
	if c.useIPv6 {
		addressType, address = addressTypeIP6, defaultIPv6
	}

	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       sessionUsername,
			SessionID:      0,
			SessionVersion: 0,
			NetworkType:    networkTypeIN,
			AddressType:    addressType,
			UnicastAddress: address,
		},
		SessionName: sessionName,
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: networkTypeIN,
			AddressType: addressType,
			Address:     &sdp.Address{Address: address},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	for _, group := range c.groups {
		if len(group.Medias) > 0 {
			desc.Attributes = append(desc.Attributes, group.attribute())
		}
	}
	desc.Attributes = append(desc.Attributes, c.attributes...)

	for _, media := range c.medias {
		if media.Media == nil {
			return nil, &rtcerr.InvalidParameterError{
				Err: fmt.Errorf("%w: media %d", ErrNilDescription, media.ID),
			}
		}
		desc.MediaDescriptions = append(desc.MediaDescriptions, media.Media)
	}

	return desc, nil
}
