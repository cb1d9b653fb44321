// Package main implements the issuescope command: the visualization and chat
// server, the dataset importer and the NATS ingest worker.
package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/WessleyAI/issuescope/pkg/config"
)

// app carries what every subcommand shares once the root has run.
type app struct {
	envFile string
	cfg     config.Config
	logger  *slog.Logger
	out     io.Writer
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}
	root := &cobra.Command{
		Use:          "issuescope",
		Short:        "Explore GitHub issues on an urgency map and discuss them with an assistant",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd.ErrOrStderr())
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&a.envFile, "env-file", "", "dotenv file to load (default .env when present)")
	root.AddCommand(a.serveCmd(), a.importCmd(), a.workerCmd(), schemaCmd())
	return root
}

func (a *app) load(logOut io.Writer) error {
	cfg, err := config.Load(viper.New(), a.envFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = config.NewLogger(logOut, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(a.logger)
	return nil
}
