package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/vaultchat/internal/agent"
	"github.com/jkaninda/vaultchat/internal/bootstrap"
)

var (
	configDir    string
	prompt       string
	streamPrompt string
	timeoutSecs  int
	logLevel     string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch the API key and issue the chat requests (default)",
	Long: `Load configuration, select a credential, read the API key from Key Vault,
then send one synchronous and one streaming request to Azure OpenAI.

Credential selection:
  AZURE_TENANT_ID, AZURE_CLIENT_ID and AZURE_CLIENT_SECRET all set
      ClientSecretCredential
  otherwise
      DefaultAzureCredential (managed identity, Azure CLI, ...)

Examples:
  vaultchat
  vaultchat run --config-dir /etc/vaultchat --timeout 60
  vaultchat run --prompt "Tell me a joke about Go" --stream-prompt "Another one"`,
	RunE: runFlow,
}

func init() {
	addRunFlags(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configDir, "config-dir", "", "directory containing appsettings.json (default $VAULTCHAT_CONFIG_DIR or .)")
	cmd.Flags().StringVar(&prompt, "prompt", agent.DefaultPrompts.Once, "prompt for the synchronous request")
	cmd.Flags().StringVar(&streamPrompt, "stream-prompt", agent.DefaultPrompts.Streaming, "prompt for the streaming request")
	cmd.Flags().IntVar(&timeoutSecs, "timeout", 0, "overall timeout in seconds (0 = none)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "override Logging:Level (debug, info, warn, error)")
}

// resolveConfigDir prefers --config-dir, then VAULTCHAT_CONFIG_DIR, then the
// working directory. Evaluated at run time so .env values apply.
func resolveConfigDir() string {
	if configDir != "" {
		return configDir
	}
	return goutils.Env("VAULTCHAT_CONFIG_DIR", ".")
}

func runFlow(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := bootstrap.NewRunner(cmd.OutOrStdout(), os.Stderr, version, bootstrap.DefaultDeps())
	return runner.Run(ctx, bootstrap.Options{
		ConfigDir: resolveConfigDir(),
		Prompts:   agent.Prompts{Once: prompt, Streaming: streamPrompt},
		LogLevel:  logLevel,
		Timeout:   time.Duration(timeoutSecs) * time.Second,
	})
}
