package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"

	"radar-engine/internal/secrets"
)

var secretValue string

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage credentials in the OS keychain",
	Long: `Store credentials in the OS keychain instead of config.yml or .env.
Kinds: forum, smtp, imap, telegram, ai. The entry is keyed by the
username/host currently in config, so set those first.`,
}

var secretsSetCmd = &cobra.Command{
	Use:   "set <kind>",
	Short: "Store a credential (reads stdin without --value)",
	Example: `  radar secrets set forum --value hunter2
  echo "$ANTHROPIC_API_KEY" | radar secrets set ai`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := secrets.ParseKind(args[0])
		if err != nil {
			return err
		}
		v := secretValue
		if v == "" {
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read secret from stdin: %w", err)
			}
			v = strings.TrimSpace(line)
		}
		account := secrets.Account(cfg, kind)
		if err := secrets.Set(account, v); err != nil {
			return err
		}
		fmt.Printf("Stored %s\n", account)
		return nil
	},
}

var secretsDeleteCmd = &cobra.Command{
	Use:   "delete <kind>",
	Short: "Remove a stored credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := secrets.ParseKind(args[0])
		if err != nil {
			return err
		}
		account := secrets.Account(cfg, kind)
		if err := secrets.Delete(account); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return err
		}
		fmt.Printf("Deleted %s\n", account)
		return nil
	},
}

func init() {
	secretsSetCmd.Flags().StringVar(&secretValue, "value", "", "secret value (prefer stdin)")
	secretsCmd.AddCommand(secretsSetCmd)
	secretsCmd.AddCommand(secretsDeleteCmd)
	rootCmd.AddCommand(secretsCmd)
}
