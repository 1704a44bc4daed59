// Command funnelctl validates, exports and imports funnel documents and reads
// the publish snapshot archive.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ignite/funnel-studio/internal/config"
	"github.com/ignite/funnel-studio/internal/pkg/logger"
)

type commonFlags struct {
	configPath string
	verbose    bool
}

func (f *commonFlags) load() (*config.Config, error) {
	cfg, err := config.LoadFromEnv(f.configPath)
	if err != nil {
		return nil, err
	}
	level := logger.WARN
	if f.verbose {
		level = logger.DEBUG
	}
	logger.Configure(level, cfg.Log.Development, cfg.Log.Redact())
	return cfg, nil
}

func rootCmd() *cobra.Command {
	flags := &commonFlags{}
	cmd := cobra.Command{
		Use:           "funnelctl",
		Short:         "Work with funnel documents outside the editor.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "config/config.yaml", "path to the configuration file")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log debug output to stderr")

	cmd.AddCommand(
		validateCmd(),
		exportCmd(flags),
		importCmd(flags),
		archiveCmd(flags),
	)
	return &cmd
}

func main() {
	root := rootCmd()
	err := root.Execute()
	logger.Sync()
	if err != nil {
		root.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
