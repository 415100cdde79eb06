package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/sahilchouksey/study-textbook-api/client"
	"github.com/spf13/cobra"
)

var (
	serverURL    string
	token        string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "textbookctl",
	Short: "Upload textbooks and follow their processing",
	Long: `textbookctl calls a running textbook API.

Examples:
  textbookctl upload --title "Biology 101" biology.pdf
  textbookctl status <textbook-id>
  textbookctl watch <textbook-id>`,
	SilenceUsage: true,
}

func init() {
	// .env is optional
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("TEXTBOOK_API_URL", "http://localhost:8080"), "API server URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("TEXTBOOK_API_TOKEN"), "bearer token")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "yaml", "output format: yaml or json")

	rootCmd.AddCommand(uploadCmd, statusCmd, watchCmd)
}

func newClient() *client.Client {
	return client.New(serverURL, token)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
