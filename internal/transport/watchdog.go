package transport

import (
	"context"
	"errors"

	"github.com/danmuck/relayctl/internal/observability"
	"github.com/danmuck/relayctl/internal/supervisor"
)

// RunReconnectLoop reconnects every ReconnectInterval while disconnected and
// no attempt is in flight. Exhausting every broker is not fatal.
func (s *Session) RunReconnectLoop(ctx context.Context) error {
	return supervisor.Every(ctx, "transport.reconnect", s.cfg.ReconnectInterval, func(ctx context.Context) error {
		if s.IsConnected() || s.connecting.Load() {
			return nil
		}
		_, err := s.Connect(ctx)
		if err == nil || errors.Is(err, ErrAllBrokersFailed) || ctx.Err() != nil {
			return nil
		}
		return err
	})
}

// RunWatchdog checks every WatchdogInterval whether the session can return
// to the primary broker.
func (s *Session) RunWatchdog(ctx context.Context) error {
	return supervisor.Every(ctx, "transport.watchdog", s.cfg.WatchdogInterval, func(ctx context.Context) error {
		_, err := s.CheckPrimary(ctx)
		return err
	})
}

// CheckPrimary runs one watchdog pass. When connected to a backup and at
// least RecoveryInterval has passed since the last check, it probes the
// primary and switches back if the probe succeeds. The bool reports whether
// a switch was attempted.
func (s *Session) CheckPrimary(ctx context.Context) (bool, error) {
	if s.liveIndex() <= 0 {
		return false, nil
	}
	now := s.clock()
	s.mu.Lock()
	due := now.Sub(s.lastCheck) >= s.cfg.RecoveryInterval
	if due {
		s.lastCheck = now
	}
	s.mu.Unlock()
	if !due {
		return false, nil
	}

	s.log.Info().Str("broker", s.cfg.Brokers[0].Address()).Msg("checking primary broker")
	if !s.probePrimary(ctx) {
		s.log.Info().Msg("primary still unavailable")
		return false, nil
	}
	return true, s.switchToPrimary(ctx)
}

// probePrimary opens and closes a throwaway connection to the primary.
func (s *Session) probePrimary(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()
	conn, err := s.dialer.Dial(probeCtx, s.cfg.Brokers[0], DialOptions{
		ClientID:  s.clientID("probe"),
		Timeout:   s.cfg.ProbeTimeout,
		KeepAlive: s.cfg.KeepAlive,
	}, Handler{})
	if err != nil {
		return false
	}
	conn.Disconnect()
	return true
}

func (s *Session) switchToPrimary(ctx context.Context) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()
	from := s.liveIndex()
	if from == 0 {
		return nil
	}
	s.connecting.Store(true)
	defer s.connecting.Store(false)

	s.log.Info().Str("from", Label(from)).Msg("primary is back, switching")
	s.retire(ctx)
	if s.tryBroker(ctx, 0, s.cfg.SwitchAttempts, s.cfg.PrimaryTimeout) {
		observability.RecordPrimaryMigration(s.cfg.Role)
		s.log.Info().Msg("switched to primary broker")
		s.mu.RLock()
		hooks := append([]HookFunc(nil), s.onMigrate...)
		s.mu.RUnlock()
		for _, fn := range hooks {
			fn(ctx)
		}
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.log.Warn().Msg("switch to primary failed, falling back to full connect")
	if _, err := s.connectLocked(ctx); err != nil && !errors.Is(err, ErrAllBrokersFailed) {
		return err
	}
	return nil
}
