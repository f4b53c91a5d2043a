package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chtzvt/csvjob/cmd/csvjob/config"
	"github.com/chtzvt/csvjob/internal/secrets"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// Storage credentials (for example storage.s3.access_key_id_secret) name
// secrets managed by these commands.
func newSecretsCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "secrets", Short: "Manage encrypted storage credentials"}
	cmd.AddCommand(
		secretsGenClusterKeyCmd(),
		secretsListCmd(g),
		secretsAddCmd(g),
		secretsRemoveCmd(g),
	)
	return cmd
}

// withSecrets runs fn against the secrets store described by the config.
func withSecrets(g *globalOptions, fn func(*secrets.Store) error) error {
	cfg, err := config.LoadConfig(g.cfgFile)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if cfg.Secrets.ClusterKey == "" {
		return errors.New("secrets.cluster_key is not configured")
	}
	env, err := newEnv(cfg, nil)
	if err != nil {
		return fmt.Errorf("boot failure: %w", err)
	}
	defer env.Close()
	return fn(env.secrets)
}

func secretsGenClusterKeyCmd() *cobra.Command {
	var keyFile string
	cmd := &cobra.Command{
		Use:   "genkey",
		Short: "Generate a new base64-encoded cluster key",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, encoded, err := secrets.GenerateClusterKey()
			if err != nil {
				return fmt.Errorf("failed to generate key: %w", err)
			}
			if err := os.WriteFile(keyFile, []byte(encoded+"\n"), 0o600); err != nil {
				return fmt.Errorf("failed to write key file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cluster key written to %s\n", keyFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyFile, "key-file", "cluster.key", "Base64 cluster key file")
	return cmd
}

func secretsListCmd(g *globalOptions) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List secrets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSecrets(g, func(s *secrets.Store) error {
				keys, err := s.List(cmd.Context(), prefix)
				if err != nil {
					return err
				}
				printSecretsTable(cmd.OutOrStdout(), keys)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Prefix filter")
	return cmd
}

func secretsAddCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <key>",
		Short: "Add or update a secret (reads value from stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			val, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			val = []byte(strings.TrimRight(string(val), "\r\n"))
			return withSecrets(g, func(s *secrets.Store) error {
				if err := s.Set(cmd.Context(), args[0], val); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Secret %q set\n", args[0])
				return nil
			})
		},
	}
}

func secretsRemoveCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <key>",
		Short: "Delete a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSecrets(g, func(s *secrets.Store) error {
				if err := s.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Secret %q deleted\n", args[0])
				return nil
			})
		},
	}
}

func printSecretsTable(w io.Writer, keys []string) {
	if len(keys) == 0 {
		fmt.Fprintln(w, "No secrets found")
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Key"})
	for _, k := range keys {
		table.Append([]string{k})
	}
	table.Render()
}
