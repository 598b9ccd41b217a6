package mirage

import (
	"context"
	"errors"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/relayctl/internal/config"
	"github.com/danmuck/relayctl/internal/logging"
	"github.com/danmuck/relayctl/internal/protocol/session"
	"github.com/danmuck/relayctl/internal/supervisor"
	"github.com/danmuck/relayctl/internal/transport"
	"github.com/rs/zerolog"
)

const (
	DefaultControllerID = "mirage"
	DefaultAdminAddr    = "127.0.0.1:7020"
)

// ServiceConfig configures the controller process.
type ServiceConfig struct {
	ID        string
	Relay     config.RelayConfig
	Channel   session.Config
	Transport transport.Config
	Registry  RegistryConfig
	// AdminAddr disables the admin API when empty.
	AdminAddr   string
	CORSOrigins []string
	ArtifactDir string
	// RosterPath, when set, receives a YAML roster on shutdown.
	RosterPath string
	Sink       Sink
}

func DefaultServiceConfig() ServiceConfig {
	tcfg := transport.DefaultConfig()
	tcfg.Role = string(session.RoleController)
	tcfg.WatchdogInterval = 10 * time.Second
	return ServiceConfig{
		ID:          DefaultControllerID,
		Relay:       config.DefaultRelayConfig(),
		Channel:     session.DefaultConfig(session.RoleController),
		Transport:   tcfg,
		Registry:    DefaultRegistryConfig(),
		AdminAddr:   DefaultAdminAddr,
		ArtifactDir: DefaultArtifactDir,
	}
}

// Service wires transport, channel, registry and admin API for the
// controller.
type Service struct {
	cfg       ServiceConfig
	transport *transport.Session
	channel   *session.Channel
	registry  *Registry
	admin     *Admin
	log       zerolog.Logger
}

func NewService(cfg ServiceConfig, dialer transport.Dialer) (*Service, error) {
	if err := config.ValidateRelayConfig(cfg.Relay); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(cfg.ID)
	if id == "" {
		id = DefaultControllerID
	}

	tcfg := cfg.Transport
	tcfg.Role = string(session.RoleController)
	tcfg.ClientID = id
	tcfg.Brokers = cfg.Relay.BrokerList()
	sess, err := transport.NewSession(tcfg, dialer)
	if err != nil {
		return nil, err
	}

	ccfg := cfg.Channel
	ccfg.Role = session.RoleController
	ccfg.Namespace = cfg.Relay.Namespace
	ch, err := session.NewChannel(ccfg, sess)
	if err != nil {
		return nil, err
	}

	sink := cfg.Sink
	if sink == nil {
		sink = NewLogSink()
	}
	reg := NewRegistry(cfg.Registry, ch, sink, NewArtifactStore(cfg.ArtifactDir))
	reg.SetBrokerLabel(func() string { return sess.Status().Label })

	ch.SetReceiver(reg)
	sess.SetMessageHandler(ch.HandleMessage)
	if err := sess.Subscribe(context.Background(), ch.Subscriptions("")...); err != nil {
		return nil, err
	}
	sess.NotifyOnMigrate(func(ctx context.Context) { ch.RetransmitPending(ctx) })

	return &Service{
		cfg:       cfg,
		transport: sess,
		channel:   ch,
		registry:  reg,
		admin:     NewAdmin(id, reg, sess, ch, cfg.CORSOrigins),
		log:       logging.L("mirage").With().Str("id", id).Logger(),
	}, nil
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve connects and runs every controller loop until ctx is done.
func (s *Service) Serve(ctx context.Context) error {
	defer s.transport.Close()
	s.log.Info().
		Str("namespace", s.cfg.Relay.Namespace).
		Str("admin", s.cfg.AdminAddr).
		Int("brokers", len(s.cfg.Relay.Brokers)).
		Msg("mirage starting")

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
	g.Go("mirage.reclassify", s.registry.RunReclassify)
	if addr := strings.TrimSpace(s.cfg.AdminAddr); addr != "" {
		g.Go("mirage.admin", func(ctx context.Context) error {
			return s.admin.Serve(ctx, addr)
		})
	}

	err := g.Wait()
	if path := strings.TrimSpace(s.cfg.RosterPath); path != "" {
		if werr := s.registry.WriteRoster(path); werr != nil {
			s.log.Warn().Err(werr).Str("path", path).Msg("roster export failed")
		} else {
			s.log.Info().Str("path", path).Msg("roster exported")
		}
	}
	s.log.Info().Msg("mirage shutdown")
	return err
}

// Dispatch sends command to peerID through the registry.
func (s *Service) Dispatch(ctx context.Context, peerID, command string) (session.Envelope, error) {
	return s.registry.Dispatch(ctx, peerID, command)
}

func (s *Service) Transport() *transport.Session {
	return s.transport
}

func (s *Service) Channel() *session.Channel {
	return s.channel
}

func (s *Service) Registry() *Registry {
	return s.registry
}

func (s *Service) Admin() *Admin {
	return s.admin
}
