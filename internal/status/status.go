// Package status defines the wire types shared between the controller
// daemon and the panel: the system status snapshot, the regional profile
// enum for the secure tunnel, the partial apply intent, and the tagged
// envelope pushed over the status websocket.
package status

import "encoding/json"

// Profile selects the regional endpoint configuration for the secure
// tunnel. Values are the literal strings sent on the wire.
type Profile string

const (
	ProfileNL Profile = "nl"
	ProfileUS Profile = "us"
	ProfileSG Profile = "sg"
	ProfileJP Profile = "jp"
)

// Profiles lists the known profiles in display order.
var Profiles = []Profile{ProfileNL, ProfileUS, ProfileSG, ProfileJP}

// Known reports whether p is one of the recognized profile values.
// Unknown values received from the server are ignored, not rejected.
func (p Profile) Known() bool {
	switch p {
	case ProfileNL, ProfileUS, ProfileSG, ProfileJP:
		return true
	}
	return false
}

// ParseProfile validates a raw wire string.
func ParseProfile(raw string) (Profile, bool) {
	p := Profile(raw)
	return p, p.Known()
}

// TunnelState is the observable state of one tunnel. Profile is only
// meaningful for the secure tunnel and may be absent or unrecognized.
type TunnelState struct {
	Active  bool   `json:"active"`
	Profile string `json:"profile,omitempty"`
}

// SystemStatus is the full snapshot mirrored from the controller. WG0
// is the primary WireGuard tunnel, SS the secure tunnel with a
// selectable profile.
type SystemStatus struct {
	WG0 TunnelState `json:"wg0"`
	SS  TunnelState `json:"ss"`
}

// ApplyIntent is a partial change request. Nil fields mean "leave
// unchanged"; the controller merges against its own authoritative state.
type ApplyIntent struct {
	WG0Enabled *bool    `json:"wg0_enabled,omitempty"`
	SSEnabled  *bool    `json:"ss_enabled,omitempty"`
	SSProfile  *Profile `json:"ss_profile,omitempty"`
}

// Empty reports whether the intent requests no change at all.
func (in ApplyIntent) Empty() bool {
	return in.WG0Enabled == nil && in.SSEnabled == nil && in.SSProfile == nil
}

// Message type tags on the push channel. Unknown tags are dropped.
const MsgStatus = "status"

// KeepAliveToken is the literal frame the panel sends periodically to
// keep intermediaries from timing out the status websocket.
const KeepAliveToken = "ping"

// Envelope is the tagged message pushed over /ws/status.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// StatusEnvelope wraps a snapshot for the push channel.
func StatusEnvelope(s SystemStatus) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: MsgStatus, Data: data})
}
