// Command session-gateway runs the multi-tenant chat session gateway.
//
// DESIGN: cobra root with three command groups:
//   - serve:   load config, open stores, run the HTTP server until SIGINT/SIGTERM
//   - keys:    credential administration against the configured store
//   - version: print the build version
//
// .env files are loaded before any command runs so ${VAR} references in the
// YAML config resolve.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

var (
	configFlag string
	debugFlag  bool
)

var rootCmd = &cobra.Command{
	Use:           "session-gateway",
	Short:         "Multi-tenant chat session gateway",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadEnvFiles()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "config", "Config name or path to a YAML file")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false, "Enable debug logging")
	rootCmd.AddCommand(versionCmd)
}

// loadEnvFiles loads .env from the working directory, then the user config dir.
// Variables already set in the environment win.
func loadEnvFiles() {
	candidates := []string{".env"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "session-gateway", ".env"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError(err.Error())
		os.Exit(1)
	}
}
