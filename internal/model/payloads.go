package model

import "time"

// MixStartPayload accompanies events.KindMixStart.
type MixStartPayload struct {
	DurationMs int64  `json:"duration"`
	Outgoing   string `json:"outgoingSurface"`
	Incoming   string `json:"incomingSurface"`
}

// ClientSession is a connected Control Server client (spec.md §3).
type ClientSession struct {
	ID          string    `json:"id"`
	PeerAddress string    `json:"peerAddress"`
	ConnectedAt time.Time `json:"connectedAt"`
}
