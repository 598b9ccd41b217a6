package ghost

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/relayctl/internal/config"
	"github.com/danmuck/relayctl/internal/logging"
	"github.com/danmuck/relayctl/internal/protocol/session"
	"github.com/danmuck/relayctl/internal/supervisor"
	"github.com/danmuck/relayctl/internal/transport"
	"github.com/rs/zerolog"
)

// ServiceConfig configures one endpoint process.
type ServiceConfig struct {
	// PeerID overrides the generated identity.
	PeerID         string
	Relay          config.RelayConfig
	Channel        session.Config
	Transport      transport.Config
	Heartbeat      HeartbeatConfig
	CommandTimeout time.Duration
	CommandPoll    time.Duration
	// Executor replaces the built-in diagnostic commands when set.
	Executor Executor
}

func DefaultServiceConfig() ServiceConfig {
	tcfg := transport.DefaultConfig()
	tcfg.Role = string(session.RoleEndpoint)
	return ServiceConfig{
		Relay:          config.DefaultRelayConfig(),
		Channel:        session.DefaultConfig(session.RoleEndpoint),
		Transport:      tcfg,
		Heartbeat:      DefaultHeartbeatConfig(),
		CommandTimeout: DefaultCommandTimeout,
		CommandPoll:    DefaultCommandPoll,
	}
}

// Service wires transport, channel, heartbeat and command queue for one
// endpoint.
type Service struct {
	cfg       ServiceConfig
	id        Identity
	transport *transport.Session
	channel   *session.Channel
	heartbeat *HeartbeatMonitor
	queue     *CommandQueue
	log       zerolog.Logger
}

func NewService(cfg ServiceConfig, dialer transport.Dialer) (*Service, error) {
	if err := config.ValidateRelayConfig(cfg.Relay); err != nil {
		return nil, err
	}
	id, err := DetectIdentity(cfg.PeerID)
	if err != nil {
		return nil, err
	}

	tcfg := cfg.Transport
	tcfg.Role = string(session.RoleEndpoint)
	tcfg.ClientID = id.PeerID
	tcfg.Brokers = cfg.Relay.BrokerList()
	sess, err := transport.NewSession(tcfg, dialer)
	if err != nil {
		return nil, err
	}

	ccfg := cfg.Channel
	ccfg.Role = session.RoleEndpoint
	ccfg.Namespace = cfg.Relay.Namespace
	ch, err := session.NewChannel(ccfg, sess)
	if err != nil {
		return nil, err
	}

	exec := cfg.Executor
	if exec == nil {
		exec = NewDiagnosticExecutor(id, cfg.CommandTimeout)
	}
	hb := NewHeartbeatMonitor(cfg.Heartbeat, id, ch, sess.IsConnected)
	q := NewCommandQueue(exec, ch, cfg.CommandPoll)

	ch.SetReceiver(q)
	ch.SetLivenessObserver(hb)
	sess.SetMessageHandler(ch.HandleMessage)
	if err := sess.Subscribe(context.Background(), ch.Subscriptions(id.PeerID)...); err != nil {
		return nil, err
	}
	sess.NotifyOnConnect(func(context.Context) { hb.Reset() })
	sess.NotifyOnDisconnect(func(context.Context) { hb.Reset() })
	sess.NotifyOnMigrate(func(ctx context.Context) { ch.RetransmitPending(ctx) })

	return &Service{
		cfg:       cfg,
		id:        id,
		transport: sess,
		channel:   ch,
		heartbeat: hb,
		queue:     q,
		log:       logging.L("ghost").With().Str("peer", id.PeerID).Logger(),
	}, nil
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve connects and runs every endpoint loop until ctx is done.
func (s *Service) Serve(ctx context.Context) error {
	defer s.transport.Close()
	s.log.Info().
		Str("namespace", s.cfg.Relay.Namespace).
		Str("address", s.id.Address).
		Str("user", s.id.User).
		Str("platform", s.id.Platform).
		Msg("ghost starting")

	g, _ := supervisor.New(ctx)
	g.Go("transport.connect", func(ctx context.Context) error {
		if _, err := s.transport.Connect(ctx); err != nil && !errors.Is(err, transport.ErrAllBrokersFailed) && ctx.Err() == nil {
			s.log.Warn().Err(err).Msg("initial connect failed")
		}
		return nil
	})
	g.Go("transport.reconnect", s.transport.RunReconnectLoop)
	g.Go("transport.watchdog", s.transport.RunWatchdog)
	g.Go("channel.retry", s.channel.RunRetryLoop)
	g.Go("ghost.ping", s.heartbeat.RunPingLoop)
	g.Go("ghost.ack_watch", s.heartbeat.RunAckWatch)
	g.Go("ghost.commands", s.queue.Run)

	err := g.Wait()
	s.log.Info().Msg("ghost shutdown")
	return err
}

func (s *Service) Identity() Identity {
	return s.id
}

func (s *Service) Transport() *transport.Session {
	return s.transport
}

func (s *Service) Channel() *session.Channel {
	return s.channel
}

func (s *Service) Heartbeat() *HeartbeatMonitor {
	return s.heartbeat
}

func (s *Service) Queue() *CommandQueue {
	return s.queue
}
