package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "assetguard",
		Short: "assetguard - access policy model for the notification asset bucket",
		Long: `assetguard encodes the asset bucket's access policy: public-read objects,
an app credential that may only change ACLs on images, single-use pre-signed
uploads and CORS limited to the application origin. It emulates the bucket
locally and checks any S3-compatible endpoint against the model.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringP("data-dir", "d", "./data", "Data directory path")
	rootCmd.PersistentFlags().StringP("log-level", "", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringP("endpoint", "e", "", "S3 endpoint URL (empty targets AWS)")
	rootCmd.PersistentFlags().StringP("bucket", "b", "notify-assets", "Asset bucket name")
	rootCmd.PersistentFlags().StringP("region", "r", "us-east-1", "Bucket region")
	rootCmd.PersistentFlags().StringP("app-origin", "", "http://localhost:3000", "Application origin allowed by CORS")

	rootCmd.AddCommand(
		newEmulateCommand(),
		newCheckCommand(),
		newInspectCommand(),
		newPolicyCommand(),
		newPresignCommand(),
		newHistoryCommand(),
		newVersionCommand(),
	)

	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "assetguard %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func setupLogging(level string) {
	logrus.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}
