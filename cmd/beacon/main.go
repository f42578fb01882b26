package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/marshallshelly/beaconauth-plugin/adapters/sqlstore"
	"github.com/marshallshelly/beaconauth-plugin/plugins/oauth/providers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "beacon",
		Short:        "BeaconAuth server and schema tooling",
		SilenceUsage: true,
	}

	root.AddCommand(newServeCmd(), newSchemaCmd(), newProvidersCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var envFiles []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the auth routes over HTTP",
		Long: `Serve the user routes and the OAuth providers configured in the environment.

A provider is enabled by setting <PROVIDER>_CLIENT_ID, e.g. GITHUB_CLIENT_ID
and GITHUB_CLIENT_SECRET.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(nil, envFiles...)
			if err != nil {
				return err
			}

			srv, err := newServer(cmd.Context(), cfg, nil, prometheus.NewRegistry())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", cfg.Addr)
			return srv.run(cmd.Context(), cfg.Addr)
		},
	}

	cmd.Flags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files to load before reading the environment")
	return cmd
}

func newSchemaCmd() *cobra.Command {
	var adapter string

	cmd := &cobra.Command{
		Use:     "schema",
		Aliases: []string{"generate"},
		Short:   "Print the SQL schema of an adapter",
		Example: "  beacon schema --adapter postgres > schema.sql",
		RunE: func(cmd *cobra.Command, args []string) error {
			sql, err := sqlstore.SchemaSQL(adapter)
			if err != nil {
				return fmt.Errorf("invalid adapter %q: must be one of postgres, mysql, sqlite, mssql", adapter)
			}
			fmt.Fprint(cmd.OutOrStdout(), sql)
			return nil
		},
	}

	cmd.Flags().StringVar(&adapter, "adapter", "", "database adapter (postgres, mysql, sqlite, mssql)")
	cmd.MarkFlagRequired("adapter")
	return cmd
}

func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List the supported OAuth providers and their variables",
		Run: func(cmd *cobra.Command, args []string) {
			for _, id := range providers.IDs() {
				prefix := strings.ToUpper(id)
				fmt.Fprintf(cmd.OutOrStdout(), "%-11s %s_CLIENT_ID %s_CLIENT_SECRET\n", id, prefix, prefix)
			}
		},
	}
}
