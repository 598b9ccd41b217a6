package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/relayctl/internal/config"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("configgen", pflag.ContinueOnError)
	kind := flags.StringP("kind", "k", "mirage", "config kind: relay|mirage|ghost")
	output := flags.StringP("output", "o", "", "output path for config template")
	validate := flags.Bool("validate", false, "validate an existing config file")
	input := flags.StringP("input", "i", "", "config path for validation (defaults to per-kind cmd path)")
	force := flags.Bool("force", false, "overwrite existing config file")
	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	def, err := defaultPath(*kind)
	if err != nil {
		return err
	}

	if *validate {
		path := *input
		if path == "" {
			path = def
		}
		if err := validateFile(*kind, path); err != nil {
			return err
		}
		fmt.Printf("validated %s config at %s\n", *kind, path)
		return nil
	}

	target := *output
	if target == "" {
		target = def
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		return err
	}
	fmt.Printf("wrote %s config template to %s\n", *kind, target)
	return nil
}

func defaultPath(kind string) (string, error) {
	switch kind {
	case "relay":
		return "cmd/relay.toml", nil
	case "mirage":
		return "cmd/miragectl/config.toml", nil
	case "ghost":
		return "cmd/ghostctl/config.toml", nil
	default:
		return "", fmt.Errorf("unknown kind: %s", kind)
	}
}

// validateFile loads relay files fully and checks role files for keys the
// template does not know.
func validateFile(kind, path string) error {
	if kind == "relay" {
		_, err := config.LoadRelayConfig(path)
		return err
	}
	tmpl, err := config.Template(kind)
	if err != nil {
		return err
	}
	known := map[string]any{}
	if _, err := toml.Decode(uncommentKeys(tmpl), &known); err != nil {
		return fmt.Errorf("parse %s template: %w", kind, err)
	}
	got := map[string]any{}
	if _, err := toml.DecodeFile(path, &got); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	var unknown []string
	for key := range got {
		if _, ok := known[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%s: unknown keys: %s", path, strings.Join(unknown, ", "))
	}
	return nil
}

// uncommentKeys turns "# key = value" lines back into assignments so
// optional template keys count as known.
func uncommentKeys(tmpl string) string {
	lines := strings.Split(tmpl, "\n")
	for i, line := range lines {
		rest, ok := strings.CutPrefix(strings.TrimSpace(line), "# ")
		if ok && strings.Contains(rest, " = ") {
			lines[i] = rest
		}
	}
	return strings.Join(lines, "\n")
}
