package main

import (
	"fmt"
	"os"

	"github.com/danmuck/relayctl/internal/ghost"
	"github.com/danmuck/relayctl/internal/logging"
	"github.com/danmuck/relayctl/internal/observability"
	"github.com/danmuck/relayctl/internal/transport/mqtt"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "ghostctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("ghostctl", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to ghostctl config.toml")
	relayPath := flags.StringP("relay", "r", "", "path to relay.toml (overrides relay_config)")
	level := flags.String("log-level", "", "log level: trace|debug|info|warn|error")
	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	logger := observability.InitLogger("ghostctl")
	if *level != "" && !logging.SetLevel(*level) {
		return fmt.Errorf("invalid log level %q", *level)
	}

	cfg, err := loadServiceConfig(*configPath, *relayPath)
	if err != nil {
		return err
	}
	svc, err := ghost.NewService(cfg, mqtt.NewDialer())
	if err != nil {
		return err
	}
	logger.Info().Str("peer", svc.Identity().PeerID).Msg("ghostctl ready")
	return svc.Run()
}
