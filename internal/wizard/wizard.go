// Package wizard provides the initialization wizard for the gatesh CLI.
//
// The wizard guides users through first-time setup:
//  1. Welcome message
//  2. AI provider selection
//  3. API key input and storage
//  4. Sandbox shell check
//  5. Next steps guidance
package wizard

import (
	"context"
	"fmt"
	"os"

	"github.com/gatesh-dev/gatesh/internal/auth"
	"github.com/gatesh-dev/gatesh/internal/config"
	"github.com/gatesh-dev/gatesh/internal/output"
	"github.com/gatesh-dev/gatesh/internal/prompt"
)

// providers the backend helper knows how to drive.
var providers = []string{"openai", "anthropic"}

// Wizard handles the initialization flow.
type Wizard struct {
	out      *output.Writer
	prompter *prompt.Prompter
	force    bool
}

// New creates a new initialization wizard.
func New(out *output.Writer, force bool) *Wizard {
	return &Wizard{
		out:      out,
		prompter: prompt.New(out),
		force:    force,
	}
}

// Run executes the initialization wizard.
func (w *Wizard) Run(ctx context.Context) error {
	w.out.Println("Welcome to Gatesh!")
	w.out.Println("==================")
	w.out.Println()
	w.out.Println("Gatesh is an interactive shell that dry-runs unknown commands in")
	w.out.Println("a sandbox, validates them against a security gateway, and asks an")
	w.out.Println("AI backend when your input reads like plain English.")
	w.out.Println()

	cfg := config.Load()

	// Check for existing credentials
	source, existingKey := auth.GetCredentials(cfg.Provider())
	if existingKey != "" && !w.force {
		w.out.Warning("Existing credentials found (via %s)", source)

		if !w.prompter.CanPrompt() {
			w.out.Println()
			w.out.Info("Run with --force to overwrite existing credentials")
			return nil
		}

		overwrite, err := w.prompter.Confirm("Overwrite existing credentials?", false)
		if err != nil {
			return err
		}
		if !overwrite {
			w.out.Println()
			w.out.Success("Keeping existing credentials")
			w.showNextSteps()
			return nil
		}
		w.out.Println()
	}

	if !w.prompter.CanPrompt() {
		w.out.Failure("Cannot run init wizard in non-interactive mode")
		w.out.Println()
		w.out.Info("Either:")
		w.out.Print("  1. Set GATESH_API_KEY environment variable\n")
		w.out.Print("  2. Run 'gatesh auth login' interactively\n")
		return nil
	}

	// Step 1: provider
	w.out.Println("Step 1: AI Provider")
	w.out.Println("-------------------")

	idx, err := w.prompter.Select("Which provider should the backend use?", providers)
	if err != nil {
		return fmt.Errorf("failed to select provider: %w", err)
	}

	provider := providers[idx]

	if err := cfg.Set("ai.provider", provider); err != nil {
		w.out.Warning("Failed to save provider to config: %s", err.Error())
	} else {
		w.out.Success("Provider: %s", provider)
	}

	// Step 2: API key
	w.out.Println()
	w.out.Println("Step 2: Authentication")
	w.out.Println("----------------------")
	w.out.Print("Enter your %s API key.\n", provider)
	w.out.Muted("The key is stored in your OS keyring and only ever handed to the backend helper.")
	w.out.Println()

	apiKey, err := w.prompter.Password("API Key")
	if err != nil {
		return fmt.Errorf("failed to read API key: %w", err)
	}

	if apiKey == "" {
		w.out.Failure("API key cannot be empty")
		return nil
	}

	w.out.Println()
	spin := w.out.Spinner("Storing credentials")
	spin.Start()

	if storeErr := auth.StoreAPIKey(provider, apiKey); storeErr != nil {
		spin.StopWithFailure("Failed to store credentials")
		w.out.Muted("%s", storeErr.Error())
		return nil
	}

	spin.StopWithSuccess("Credentials stored securely")

	// Step 3: sandbox shell
	w.out.Println()
	w.out.Println("Step 3: Sandbox Shell")
	w.out.Println("---------------------")

	if _, statErr := os.Stat(cfg.SandboxShell()); statErr != nil {
		w.out.Warning("Sandbox shell %s not found; commands will escalate to the gateway", cfg.SandboxShell())
		w.out.Info("Point sandbox.shell at a bash binary with 'gatesh config set sandbox.shell <path>'")
	} else {
		w.out.Success("Sandbox shell: %s", cfg.SandboxShell())
	}

	w.out.Println()
	w.out.Success("Gatesh is ready!")
	w.showNextSteps()

	return nil
}

func (w *Wizard) showNextSteps() {
	w.out.Println()
	w.out.Println("Next steps:")
	w.out.Println("  gatesh doctor      Check your setup")
	w.out.Println("  gatesh             Start the shell")
	w.out.Println("  gatesh --help      See all commands")
}
