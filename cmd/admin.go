package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/compresr/session-gateway/internal/auth"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrative helpers",
}

var adminTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the status and audit endpoints",
	Long: `Issue an HS256 token signed with admin.jwt_secret.

Examples:
  session-gateway admin token --subject ops --ttl 24h`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		admin := auth.NewAdmin(cfg.Admin.JWTSecret)
		if !admin.Enabled() {
			return errors.New("admin.jwt_secret is not set; admin endpoints are open")
		}
		tok, err := admin.Issue(tokenSubject, tokenTTL)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(adminTokenCmd)
	adminTokenCmd.Flags().StringVar(&tokenSubject, "subject", "admin", "Token subject")
	adminTokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
}
