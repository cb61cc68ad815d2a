// Command lnregtest brings up a local regtest network of one bitcoind and
// several lightningd nodes, prints how to reach them and tears everything
// down on ctrl-c.
package main

import (
	"context"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var (
	envFile string
	nodes   int
	verbose bool
	upOpts  upOptions

	rootCmd = &cobra.Command{
		Use:   "lnregtest",
		Short: "Run a throwaway bitcoind + lightningd regtest network",
		Long: `lnregtest starts one regtest bitcoind and a number of Core Lightning
nodes connected to the first one. Everything lives in temporary directories
that are removed again on exit.`,
		SilenceUsage: true,
	}

	upCmd = &cobra.Command{
		Use:   "up",
		Short: "Start the network and block until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv(envFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("nodes") {
				env.Lightningd.Nodes = nodes
			}
			if err := env.validate(); err != nil {
				return err
			}
			return runUp(cmd.Context(), env, upOpts, cmd.OutOrStdout(), newLogger())
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the lnregtest version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version())
		},
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	upCmd.Flags().StringVarP(&envFile, "file", "f", "", "YAML env file")
	upCmd.Flags().IntVarP(&nodes, "nodes", "n", 2, "number of lightningd nodes")
	upCmd.Flags().StringVar(&upOpts.HTTPAddr, "http", "", "serve /healthz, /nodes and /metrics on this address")
	upCmd.Flags().StringVar(&upOpts.Traces, "traces", "none", "trace exporter: none, stdout or otlp")
	upCmd.Flags().StringVar(&upOpts.OTLPEndpoint, "otlp-endpoint", "localhost:4317", "collector address for --traces=otlp")

	rootCmd.AddCommand(upCmd, versionCmd)
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" {
		return "devel"
	}
	return info.Main.Version
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
