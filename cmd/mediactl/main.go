// Command mediactl is the operator tool for the media acquisition service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/batilieri/multichat-system-sub001/internal/config"
	"github.com/batilieri/multichat-system-sub001/internal/container"
	"github.com/batilieri/multichat-system-sub001/pkg/utils"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:          "mediactl",
		Short:        "Operate the multi-tenant media acquisition pipeline",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default $CONFIG_PATH or configs/config.yaml)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging on stderr")

	root.AddCommand(
		newCredentialsCmd(opts),
		newReprocessCmd(opts),
		newReconcileCmd(opts),
		newStatusCmd(opts),
		newReportCmd(opts),
	)
	return root
}

// withContainer runs fn against a container with storage, database and
// services initialized but no workers or HTTP server.
func withContainer(ctx context.Context, opts *rootOptions, fn func(c *container.Container) error) error {
	path := opts.configPath
	if path == "" {
		path = config.ConfigPathFromEnv("configs/config.yaml")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	containerCfg, err := cfg.ToContainerConfig()
	if err != nil {
		return err
	}

	logger, err := utils.NewCLILogger(opts.verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	c, err := container.NewContainer(containerCfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := c.Close(); closeErr != nil {
			logger.Warn("Container shutdown reported errors", zap.Error(closeErr))
		}
	}()

	if err := c.StartCore(ctx); err != nil {
		return err
	}
	return fn(c)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
