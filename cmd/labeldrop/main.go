package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "labeldrop: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "labeldrop",
		Short: "LabelDrop label generation and development CLI",
		Long: `labeldrop composes marketplace labels with trust-code DataMatrix symbols offline,
inspects the template registry and validates codes. The stack commands drive the
docker compose development environment.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&composeFile, "compose-file", "f", "docker-compose.yml", "Compose file to use for stack commands")
	cmd.AddCommand(
		newGenerateCmd(),
		newTemplatesCmd(),
		newCheckCodeCmd(),
	)
	cmd.AddCommand(newStackCommands()...)
	return cmd
}
