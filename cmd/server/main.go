// Package main is the entry point of the project portal.
//
//	server            run the HTTP server (same as "server serve")
//	server serve      run the HTTP server
//	server migrate    apply the project database migrations
//	server users      list registered usernames
//
// Configuration comes from PORTAL_* environment variables, a .env file and
// an optional --config file (see internal/config).
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile string
	envFile    string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Project portal HTTP server",
	Long: `server runs the project portal: account registration and login backed by
a local credential store, static pages, and a proxy to the remote project
service.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
	RunE:          runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml, toml or json)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default .env)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(usersCmd)
}
