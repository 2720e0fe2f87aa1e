package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"platter/internal/client"
	"platter/internal/config"
)

// commandContext carries lazily resolved configuration and the daemon client
// shared by all subcommands.
type commandContext struct {
	configFlag *string
	apiFlag    *string

	cfg        *config.Config
	configPath string
}

func newCommandContext(configFlag, apiFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag, apiFlag: apiFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	path := ""
	if c.configFlag != nil {
		path = *c.configFlag
	}
	cfg, resolvedPath, _, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	c.configPath = resolvedPath
	return cfg, nil
}

// clientValue resolves the daemon API address: the --api flag wins, then the
// configured bind address.
func (c *commandContext) clientValue() (*client.Client, error) {
	if c.apiFlag != nil && strings.TrimSpace(*c.apiFlag) != "" {
		return client.New(*c.apiFlag), nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, fmt.Errorf("no api address configured; set paths.api_bind or pass --api")
	}
	return client.New(bind), nil
}

func newRootCommand() *cobra.Command {
	var apiFlag string
	var configFlag string

	ctx := newCommandContext(&configFlag, &apiFlag)

	rootCmd := &cobra.Command{
		Use:           "platter",
		Short:         "Control the Platter audio service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&apiFlag, "api", "", "Daemon API address (host:port)")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newStartCommand(ctx))
	rootCmd.AddCommand(newStopCommand(ctx))
	rootCmd.AddCommand(newEnableCommand(ctx))
	rootCmd.AddCommand(newDisableCommand(ctx))
	rootCmd.AddCommand(newOutputsCommand(ctx))
	rootCmd.AddCommand(newDefaultsCommand(ctx))
	rootCmd.AddCommand(newWatchCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
