package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile    string
	groupName     string
	memberID      string
	transportKind string
	redisAddr     string
	pgDSN         string
	logLevel      string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quasar",
		Short: "Quasar - group remote invocation service",
		Long:  "Dispatch one call to every member of a process group and reduce the answers to a single value",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&groupName, "group", "quasar", "Group name")
	rootCmd.PersistentFlags().StringVar(&memberID, "member-id", "", "Local member ID")
	rootCmd.PersistentFlags().StringVar(&transportKind, "transport", "redis", "Group transport (redis, grpc, inmem)")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", "localhost:6379", "Redis address")
	rootCmd.PersistentFlags().StringVar(&pgDSN, "pg-dsn", "", "Postgres DSN for dispatch history")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level")

	rootCmd.AddCommand(
		daemonCmd(),
		callCmd(),
		membersCmd(),
		historyCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
