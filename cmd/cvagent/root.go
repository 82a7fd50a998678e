package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ChamsBouzaiene/cvagent/internal/config"
	"github.com/ChamsBouzaiene/cvagent/internal/factory"
	"github.com/ChamsBouzaiene/cvagent/internal/logging"
)

const app = "cvagent"

// Actual version can be specified in build command.
var version = "unknown"

// cli carries the state shared by every subcommand.
type cli struct {
	v       *viper.Viper
	cfgFile string
}

func newRootCmd() *cobra.Command {
	return (&cli{v: config.NewViper()}).rootCmd()
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           app,
		Short:         "cvagent ingests resumes and answers recruiting questions about the candidates",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "a YAML config file (defaults and CVAGENT_* variables apply without one)")
	root.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	root.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	_ = c.v.BindPFlag("log.debug", root.PersistentFlags().Lookup("debug"))
	_ = c.v.BindPFlag("log.json", root.PersistentFlags().Lookup("json"))

	root.AddCommand(
		c.newServeCmd(),
		c.newAskCmd(),
		c.newIngestCmd(),
		c.newAnswerCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version: %s\n", app, version)
		},
	}
}

// load reads the configuration and builds the logger.
func (c *cli) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(c.v, c.cfgFile)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log.JSON, cfg.Log.Debug)
	if err != nil {
		return nil, nil, fmt.Errorf("creating a logger: %w", err)
	}
	return cfg, logger, nil
}

// open loads the configuration and assembles the application. The caller
// closes the app and syncs the logger.
func (c *cli) open(ctx context.Context) (*factory.App, *zap.Logger, error) {
	cfg, logger, err := c.load()
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("starting", zap.String("version", version), zap.String("config", c.cfgFile))

	a, err := factory.New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return a, logger, nil
}

func closeApp(a *factory.App, logger *zap.Logger) {
	if err := a.Close(); err != nil {
		logger.Warn("closing backends", zap.Error(err))
	}
	_ = logger.Sync()
}
