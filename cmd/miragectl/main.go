package main

import (
	"fmt"
	"os"

	"github.com/danmuck/relayctl/internal/logging"
	"github.com/danmuck/relayctl/internal/mirage"
	"github.com/danmuck/relayctl/internal/observability"
	"github.com/danmuck/relayctl/internal/transport/mqtt"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "miragectl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("miragectl", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to miragectl config.toml")
	relayPath := flags.StringP("relay", "r", "", "path to relay.toml (overrides relay_config)")
	adminAddr := flags.String("admin", "", "admin API listen address (overrides admin_addr)")
	level := flags.String("log-level", "", "log level: trace|debug|info|warn|error")
	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	logger := observability.InitLogger("miragectl")
	if *level != "" && !logging.SetLevel(*level) {
		return fmt.Errorf("invalid log level %q", *level)
	}

	cfg, err := loadServiceConfig(*configPath, *relayPath)
	if err != nil {
		return err
	}
	if flags.Changed("admin") {
		cfg.AdminAddr = *adminAddr
	}
	svc, err := mirage.NewService(cfg, mqtt.NewDialer())
	if err != nil {
		return err
	}
	logger.Info().Str("id", cfg.ID).Str("admin", cfg.AdminAddr).Msg("miragectl ready")
	return svc.Run()
}
