// vaultchat fetches an Azure OpenAI API key from Azure Key Vault and uses it
// to talk to a chat deployment.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"

	"github.com/jkaninda/vaultchat/internal/failure"
)

var rootCmd = &cobra.Command{
	Use:   "vaultchat",
	Short: "vaultchat: Azure OpenAI chat with the API key kept in Azure Key Vault.",
	Long: `vaultchat loads appsettings.json, authenticates to Azure, reads the Azure
OpenAI API key from Key Vault and issues one synchronous and one streaming
chat request against the configured deployment.

Exit codes:
  0    success
  1    unexpected failure
  2    configuration missing
  3    authentication failure
  4    access denied
  5    service error
  6    empty secret
  130  interrupted`,
	RunE:          runFlow, // Default to run.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	addRunFlags(rootCmd)
	rootCmd.AddCommand(runCmd, validateCmd, historyCmd, versionCmd)
	// .env never overrides variables already set in the environment.
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(failure.ExitCode(err))
	}
}
