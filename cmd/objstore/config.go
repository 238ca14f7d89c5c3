package main

import (
	"flag"
	"fmt"

	"github.com/KilimcininKorOglu/objstore/internal/config"
)

// configCmd handles the config command.
func (c *cli) configCmd(args []string) int {
	if len(args) == 0 {
		printConfigUsage(c.stdout)
		return 0
	}

	switch args[0] {
	case "-h", "--help", "help":
		printConfigUsage(c.stdout)
		return 0
	case "validate":
		return c.configValidateCmd(args[1:])
	case "init":
		return c.configInitCmd(args[1:])
	case "show":
		return c.configShowCmd(args[1:])
	default:
		fmt.Fprintf(c.stderr, "Unknown config subcommand: %s\n", args[0])
		fmt.Fprintln(c.stderr, "Run 'objstore config help' for usage.")
		return 1
	}
}

// configValidateCmd handles the config validate subcommand.
func (c *cli) configValidateCmd(args []string) int {
	fs := flag.NewFlagSet("config validate", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	configFile := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *configFile == "" {
		fmt.Fprintln(c.stderr, "Error: -config is required")
		return 1
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(c.stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	if errs := config.ValidateConfig(cfg); len(errs) > 0 {
		fmt.Fprintln(c.stderr, "Configuration errors:")
		for _, e := range errs {
			fmt.Fprintf(c.stderr, "  - %s\n", e)
		}
		return 1
	}

	fmt.Fprintln(c.stdout, "Configuration is valid")
	return 0
}

// configInitCmd prints the default configuration.
func (c *cli) configInitCmd(args []string) int {
	fs := flag.NewFlagSet("config init", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	return c.printConfig(config.DefaultConfig())
}

// configShowCmd prints the effective configuration after environment
// substitution and defaults.
func (c *cli) configShowCmd(args []string) int {
	fs := flag.NewFlagSet("config show", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	configFile := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg := config.DefaultConfig()
	if *configFile != "" {
		var err error
		if cfg, err = config.LoadConfig(*configFile); err != nil {
			fmt.Fprintf(c.stderr, "Error loading config: %v\n", err)
			return 1
		}
	}
	return c.printConfig(cfg)
}

func (c *cli) printConfig(cfg *config.Config) int {
	data, err := cfg.Marshal()
	if err != nil {
		return c.fail(err)
	}
	_, _ = c.stdout.Write(data)
	return 0
}
