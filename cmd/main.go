package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"speech-capture-service/internal/config"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "speech-capture",
	Short: "Speech capture service: records microphone audio and transcribes it",
	Long: `speech-capture records one session at a time from an input device,
persists the audio to disk and streams it to a speech recognizer, publishing
partial and final transcripts to Kafka, NATS and websocket subscribers.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "speech-capture %s (%s)\n", version, commit)
	},
}

func loadConfig() (*config.Config, error) {
	return config.LoadFile(configPath)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_FILE"), "YAML config file; environment variables override it")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
