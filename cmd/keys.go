package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/compresr/session-gateway/internal/config"
	"github.com/compresr/session-gateway/internal/models"
	"github.com/compresr/session-gateway/internal/quota"
	"github.com/compresr/session-gateway/internal/utils"
)

var (
	keyTier      string
	keyLimit     int64
	keyValidDays int
	keyValue     string
	keyShowFull  bool
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage caller credentials",
	Long: `Commands for administering caller credentials in the configured store.

With storage.driver=memory nothing persists between runs.`,
}

var keysAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a pending credential",
	Long: `Create a pending credential. Its validity window starts on first use.

Examples:
  session-gateway keys add --tier plus --limit 500
  session-gateway keys add --key team-a-0001 --valid-days 90`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withCredentialStore(cmd, func(ctx context.Context, cfg *config.Config, s quota.Store) error {
			days := keyValidDays
			if days == 0 {
				days = cfg.Storage.ValidDays
			}
			c, err := addKey(ctx, s, keyValue, models.ParseTier(keyTier), keyLimit, days)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), c.Key)
			return nil
		})
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List credentials with usage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withCredentialStore(cmd, func(ctx context.Context, _ *config.Config, s quota.Store) error {
			creds, err := s.List(ctx)
			if err != nil {
				return err
			}
			writeKeyTable(cmd.OutOrStdout(), creds, keyShowFull)
			return nil
		})
	},
}

var keysDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Revoke a credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCredentialStore(cmd, func(ctx context.Context, _ *config.Config, s quota.Store) error {
			if err := s.SetStatus(ctx, args[0], quota.StatusDeleted); err != nil {
				return fmt.Errorf("delete %s: %w", utils.MaskKey(args[0]), err)
			}
			printSuccess("deleted " + utils.MaskKey(args[0]))
			return nil
		})
	},
}

var keysResetCmd = &cobra.Command{
	Use:   "reset <key>",
	Short: "Reset a credential's usage to zero",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCredentialStore(cmd, func(ctx context.Context, _ *config.Config, s quota.Store) error {
			if err := s.ResetUsage(ctx, args[0]); err != nil {
				return fmt.Errorf("reset %s: %w", utils.MaskKey(args[0]), err)
			}
			printSuccess("usage reset for " + utils.MaskKey(args[0]))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysAddCmd, keysListCmd, keysDeleteCmd, keysResetCmd)

	keysAddCmd.Flags().StringVar(&keyTier, "tier", "basic", "Entitlement tier: basic, plus")
	keysAddCmd.Flags().Int64Var(&keyLimit, "limit", 100, "Request quota (0 = unlimited)")
	keysAddCmd.Flags().IntVar(&keyValidDays, "valid-days", 0, "Validity after activation (default storage.valid_days)")
	keysAddCmd.Flags().StringVar(&keyValue, "key", "", "Explicit key (default: generated)")
	keysListCmd.Flags().BoolVar(&keyShowFull, "show-keys", false, "Print keys unmasked")
}

// withCredentialStore loads config, opens the credential store, runs fn, and closes it.
func withCredentialStore(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, s quota.Store) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage.Driver == config.DriverMemory {
		printWarn("storage.driver is memory; changes are not persisted")
	}
	ctx := cmd.Context()
	s, err := openCredentialStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	return fn(ctx, cfg, s)
}

// addKey stores a new pending credential. An empty key is generated.
func addKey(ctx context.Context, s quota.Store, key string, tier models.Tier, limit int64, validDays int) (*quota.Credential, error) {
	if key == "" {
		key = "sk-" + strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	_, err := s.Get(ctx, key)
	switch {
	case err == nil:
		return nil, fmt.Errorf("credential %s already exists", utils.MaskKey(key))
	case !errors.Is(err, quota.ErrNotFound):
		return nil, fmt.Errorf("lookup credential: %w", err)
	}
	c := quota.NewCredential(key, tier, limit, validDays)
	if err := s.Put(ctx, c); err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}
	return c, nil
}

// writeKeyTable prints credentials as an aligned table.
func writeKeyTable(out io.Writer, creds []quota.Credential, showFull bool) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tTIER\tSTATUS\tUSAGE\tEXPIRES")
	for _, c := range creds {
		key := utils.MaskKeyShort(c.Key)
		if showFull {
			key = c.Key
		}
		limit := "unlimited"
		if c.Limit > 0 {
			limit = fmt.Sprintf("%d", c.Limit)
		}
		expires := "-"
		if !c.ExpiresAt.IsZero() {
			expires = c.ExpiresAt.Format(time.DateOnly)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%s\t%s\n", key, c.Tier, c.Status, c.Usage, limit, expires)
	}
	_ = tw.Flush()
}
