package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/veilnet-io/veilnet/internal/interfaces/cli/migrate"
	"github.com/veilnet-io/veilnet/internal/interfaces/cli/server"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "veilnet",
		Short: "veilnet - proxy credential distribution service",
		Long:  `veilnet manages subscriber access keys across a fleet of proxy nodes and serves client configuration over a tokenized endpoint.`,
	}

	rootCmd.AddCommand(
		server.NewCommand(),
		migrate.NewCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
