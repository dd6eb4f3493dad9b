// Command hookrelay runs the event relay server and the hook adapter the
// host tool invokes for every lifecycle event.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Strob0t/hookrelay/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "hookrelay",
		Short:         "Relay host-tool hook events to observers and session storage",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigFile, "path to the YAML config file (optional)")

	root.AddCommand(newServeCmd(&configPath), newHookCmd(&configPath))
	return root
}
