// Package api defines the WebSocket message envelopes served by the
// memtrack web surface.
package api

import (
	"github.com/kvisser/memtrack"
)

// HelloMessage is the initial payload sent on WebSocket connection.
type HelloMessage struct {
	Type       string `json:"type"`
	IntervalMS int    `json:"interval_ms"`
	PID        int    `json:"pid"`
	Output     string `json:"output"`
}

// NewHelloMessage constructs a hello payload.
func NewHelloMessage(intervalMS, pid int, output string) HelloMessage {
	return HelloMessage{
		Type:       "hello",
		IntervalMS: intervalMS,
		PID:        pid,
		Output:     output,
	}
}

// SampleMessage wraps a captured memory sample for transport.
type SampleMessage struct {
	Type string `json:"type"`
	memtrack.Sample
}

// NewSampleMessage constructs a sample payload.
func NewSampleMessage(sample memtrack.Sample) SampleMessage {
	return SampleMessage{
		Type:   "sample",
		Sample: sample,
	}
}

// StatsMessage wraps monitor activity counters for transport.
type StatsMessage struct {
	Type string `json:"type"`
	memtrack.Stats
}

// NewStatsMessage constructs a stats payload.
func NewStatsMessage(stats memtrack.Stats) StatsMessage {
	return StatsMessage{
		Type:  "stats",
		Stats: stats,
	}
}

// ErrorMessage communicates an error condition to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClientMessage is a generic envelope used for decoding inbound client messages.
type ClientMessage struct {
	Type string `json:"type"`
}

// PongMessage is the response to a ping.
type PongMessage struct {
	Type string `json:"type"`
}
