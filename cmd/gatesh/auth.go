package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gatesh-dev/gatesh/internal/auth"
	"github.com/gatesh-dev/gatesh/internal/config"
	clierrors "github.com/gatesh-dev/gatesh/internal/errors"
	"github.com/gatesh-dev/gatesh/internal/output"
	"github.com/gatesh-dev/gatesh/internal/prompt"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage AI provider credentials",
		Long:  `Store the API key the AI backend uses to reach your provider.`,
	}

	cmd.AddCommand(newAuthLoginCmd())
	cmd.AddCommand(newAuthStatusCmd())
	cmd.AddCommand(newAuthLogoutCmd())

	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var apiKeyFlag string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store your AI provider API key",
		Long: `Store the API key for the configured AI provider.

The key is stored securely in your system's keyring (macOS Keychain,
Windows Credential Manager, or Linux Secret Service), falling back to
a file under your user config directory.

You can also set the GATESH_API_KEY environment variable.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			prompter := prompt.New(out)
			provider := config.Load().Provider()

			if key := os.Getenv("GATESH_API_KEY"); key != "" {
				out.Info("GATESH_API_KEY environment variable is set")
				out.Muted("Environment variable takes precedence over stored credentials")
				out.Println()
			}

			var apiKey string
			if apiKeyFlag != "" {
				apiKey = apiKeyFlag
			} else {
				if !prompter.CanPrompt() {
					return &clierrors.CLIError{
						Message: "Cannot prompt for input in a non-interactive session",
						Hint:    "Set GATESH_API_KEY or pass --api-key",
						Code:    clierrors.ExitUsage,
					}
				}

				var err error

				apiKey, err = prompter.Password(fmt.Sprintf("Enter your %s API key", provider))
				if err != nil {
					return fmt.Errorf("read api key prompt: %w", err)
				}
			}

			if apiKey == "" {
				return clierrors.New(clierrors.ExitUsage, "API key cannot be empty")
			}

			if err := auth.StoreAPIKey(provider, apiKey); err != nil {
				return clierrors.Wrap(clierrors.ExitConfig, "store credentials", err)
			}

			out.Success("Stored API key for provider %s", provider)

			return nil
		},
	}

	cmd.Flags().StringVar(&apiKeyFlag, "api-key", "", "API key for non-interactive login (prefer GATESH_API_KEY env var to avoid shell history exposure)")

	return cmd
}

// AuthStatus represents credential status for JSON output.
type AuthStatus struct {
	Provider string `json:"provider"`
	Source   string `json:"source"`
	Present  bool   `json:"present"`
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show credential status",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			provider := config.Load().Provider()

			source, apiKey := auth.GetCredentials(provider)

			if out.JSON {
				return out.PrintJSON(AuthStatus{
					Provider: provider,
					Source:   string(source),
					Present:  apiKey != "",
				})
			}

			if apiKey == "" {
				out.Warning("No credentials found for provider %s", provider)
				out.Info("Run 'gatesh auth login' to store an API key")

				return nil
			}

			out.Success("Credentials found")
			out.Print("Provider: %s\n", provider)
			out.Print("Source:   %s\n", source)

			return nil
		},
	}
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear stored credentials",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			provider := config.Load().Provider()

			if err := auth.DeleteAPIKey(provider); err != nil {
				// If key doesn't exist, that's fine
				if strings.Contains(err.Error(), "not found") {
					out.Muted("No stored credentials found")
					return nil
				}

				return clierrors.Wrap(clierrors.ExitConfig, "clear credentials", err)
			}

			out.Success("Removed stored credentials for provider %s", provider)

			if os.Getenv("GATESH_API_KEY") != "" {
				out.Println()
				out.Warning("GATESH_API_KEY environment variable is still set")
			}

			return nil
		},
	}
}
