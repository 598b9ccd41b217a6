package mirage

import (
	"github.com/danmuck/relayctl/internal/logging"
	"github.com/rs/zerolog"
)

// Sink receives peer state changes and command/result text.
type Sink interface {
	OnPeerUpdate(p PeerSession)
	OnMessage(peerID, text string, dir Direction)
}

type NopSink struct{}

func (NopSink) OnPeerUpdate(PeerSession)            {}
func (NopSink) OnMessage(string, string, Direction) {}

// LogSink writes every sink event as a structured log line.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{log: logging.L("sink")}
}

func (s *LogSink) OnPeerUpdate(p PeerSession) {
	s.log.Debug().
		Str("peer", p.PeerID).
		Str("tier", string(p.Tier)).
		Bool("executing", p.Executing).
		Str("broker", p.Broker).
		Msg("peer_update")
}

func (s *LogSink) OnMessage(peerID, text string, dir Direction) {
	s.log.Info().
		Str("peer", peerID).
		Str("direction", string(dir)).
		Str("text", text).
		Msg("peer_message")
}

// MultiSink fans events out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) OnPeerUpdate(p PeerSession) {
	for _, s := range m {
		s.OnPeerUpdate(p)
	}
}

func (m MultiSink) OnMessage(peerID, text string, dir Direction) {
	for _, s := range m {
		s.OnMessage(peerID, text, dir)
	}
}
