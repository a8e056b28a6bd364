// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package mediaendpoint

import (
	"github.com/pion/sdp/v3"
)

// connectionRoleFromSetup parses an RFC 4145 a=setup value. An absent
// attribute means active.
func connectionRoleFromSetup(value string, present bool) sdp.ConnectionRole {
	if !present {
		return sdp.ConnectionRoleActive
	}

	switch value {
	case sdp.ConnectionRoleActive.String():
		return sdp.ConnectionRoleActive
	case sdp.ConnectionRolePassive.String():
		return sdp.ConnectionRolePassive
	case sdp.ConnectionRoleActpass.String():
		return sdp.ConnectionRoleActpass
	case sdp.ConnectionRoleHoldconn.String():
		return sdp.ConnectionRoleHoldconn
	default:
		return 0
	}
}

// answerConnectionRole picks the answerer's role for an offered role: the
// answerer takes the opposite side, and becomes active when the offerer lets
// it choose. Anything else puts the connection on hold.
func answerConnectionRole(offered sdp.ConnectionRole) sdp.ConnectionRole {
	switch offered {
	case sdp.ConnectionRoleActive:
		return sdp.ConnectionRolePassive
	case sdp.ConnectionRolePassive:
		return sdp.ConnectionRoleActive
	case sdp.ConnectionRoleActpass:
		return sdp.ConnectionRoleActive
	default:
		return sdp.ConnectionRoleHoldconn
	}
}

// connectionRoleFromRemoteSDP returns the first setup role announced by a
// remote description, used to decide which side of a connection dials.
func connectionRoleFromRemoteSDP(desc *sdp.SessionDescription) sdp.ConnectionRole {
	if desc == nil {
		return 0
	}

	for _, media := range desc.MediaDescriptions {
		if value, ok := media.Attribute(sdp.AttrKeyConnectionSetup); ok {
			return connectionRoleFromSetup(value, true)
		}
	}

	return 0
}
