package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/spf13/cobra"

	"github.com/jkaninda/vaultchat/internal/audit"
	"github.com/jkaninda/vaultchat/internal/bootstrap"
	"github.com/jkaninda/vaultchat/internal/config"
	"github.com/jkaninda/vaultchat/internal/credential"
	"github.com/jkaninda/vaultchat/internal/failure"
	"github.com/jkaninda/vaultchat/internal/observability"
)

// vaultScope is the token audience for Azure Key Vault.
const vaultScope = "https://vault.azure.net/.default"

var validateOnline bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check configuration and credential selection without calling the model",
	Long: `Load and validate appsettings.json, report which credential would be used
and check the audit store when it is enabled. With --online, also acquire a
Key Vault token to prove the credential works. The secret is never read.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&configDir, "config-dir", "", "directory containing appsettings.json (default $VAULTCHAT_CONFIG_DIR or .)")
	validateCmd.Flags().BoolVar(&validateOnline, "online", false, "acquire a Key Vault token")
}

func runValidate(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	cfg, err := config.Load(resolveConfigDir())
	if err != nil {
		bootstrap.Diagnose(os.Stderr, err)
		return err
	}
	logger := bootstrap.NewLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	fmt.Fprintf(out, "config:      %s\n", cfg.Source)
	fmt.Fprintf(out, "endpoint:    %s\n", cfg.AzureOpenAI.Endpoint)
	fmt.Fprintf(out, "deployment:  %s\n", cfg.AzureOpenAI.DeploymentName)
	fmt.Fprintf(out, "vault:       %s\n", cfg.AzureOpenAI.KeyVault.VaultURI)
	fmt.Fprintf(out, "secret name: %s\n", cfg.AzureOpenAI.KeyVault.SecretName)
	printKeys(out, cfg.Values.Keys())

	choice := credential.Resolve(os.LookupEnv)
	if choice.Partial() {
		fmt.Fprintf(out, "warning:     incomplete service principal environment, missing %v\n", choice.Missing)
	}
	fmt.Fprintf(out, "[Auth] Using: %s\n", choice.Label())

	timeout := time.Duration(cfg.Request.TimeoutSeconds) * time.Second
	checker := observability.NewHealthChecker(timeout, logger)

	var cred azcore.TokenCredential
	checker.AddCheck("credential", func(context.Context) error {
		var err error
		cred, err = choice.TokenCredential()
		return err
	})
	if validateOnline {
		checker.AddCheck("vault token", func(ctx context.Context) error {
			if cred == nil {
				return fmt.Errorf("no credential")
			}
			if _, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{vaultScope}}); err != nil {
				return failure.AuthenticationFailure("credential.token", err)
			}
			return nil
		})
	}
	if cfg.Audit.Enabled {
		checker.AddCheck("audit store", func(ctx context.Context) error {
			store, err := audit.Open(cfg.Audit, logger)
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Ping(ctx)
		})
	}

	status := checker.Run(ctx)
	for _, c := range status.Checks {
		if c.Err != nil {
			fmt.Fprintf(out, "%-4s %s: %s\n", c.Status, c.Name, c.Message)
			continue
		}
		fmt.Fprintf(out, "%-4s %s\n", c.Status, c.Name)
	}
	if !status.OK() {
		err := status.FirstError()
		bootstrap.Diagnose(os.Stderr, err)
		return err
	}
	fmt.Fprintln(out, "configuration is valid")
	return nil
}

// printKeys lists the effective configuration keys. Values are left out
// since some of them, such as the audit DSN, carry credentials.
func printKeys(w io.Writer, keys []string) {
	fmt.Fprintf(w, "keys:        %d set\n", len(keys))
	for _, k := range keys {
		fmt.Fprintf(w, "  %s\n", k)
	}
}
