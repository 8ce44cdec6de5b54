package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg := Load()

	if got := cfg.BackendCommand(); got != DefaultBackendCommand {
		t.Errorf("backend.command = %q", got)
	}

	if got := cfg.GatewayCommand(); got != DefaultGatewayCommand {
		t.Errorf("gateway.command = %q", got)
	}

	if got := cfg.SandboxTimeout(); got != DefaultSandboxTimeout {
		t.Errorf("sandbox.timeout = %d", got)
	}

	if got := cfg.Provider(); got != DefaultProvider {
		t.Errorf("ai.provider = %q", got)
	}

	if got := cfg.Verbose(); got != 0 {
		t.Errorf("verbose = %d", got)
	}
}

func TestLoad_SocketPathsUnderHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := Load()

	if got := cfg.BackendSocket(); got != filepath.Join(home, ".gatesh.sock") {
		t.Errorf("backend.socket = %q", got)
	}

	if got := cfg.GatewaySocket(); got != filepath.Join(home, ".gatesh-gateway.sock") {
		t.Errorf("gateway.socket = %q", got)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("GATESH_AI_MODEL", "gpt-4o")
	t.Setenv("GATESH_SANDBOX_TIMEOUT", "9")

	cfg := Load()

	if got := cfg.Model(); got != "gpt-4o" {
		t.Errorf("ai.model = %q", got)
	}

	if got := cfg.SandboxTimeout(); got != 9 {
		t.Errorf("sandbox.timeout = %d", got)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".config", "gatesh")
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	yaml := "ai:\n  provider: anthropic\nverbose: 2\n"
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := Load()

	if got := cfg.Provider(); got != "anthropic" {
		t.Errorf("ai.provider = %q", got)
	}

	if got := cfg.Verbose(); got != 2 {
		t.Errorf("verbose = %d", got)
	}
}

func TestSet_Persists(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := Load()

	if err := cfg.Set("verbose", 1); err != nil {
		t.Fatalf("set: %v", err)
	}

	reloaded := Load()
	if got := reloaded.Verbose(); got != 1 {
		t.Errorf("verbose after reload = %d", got)
	}
}

func TestEnvBeatsConfigFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".config", "gatesh")
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte("ai:\n  model: from-file\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("GATESH_AI_MODEL", "from-env")

	cfg := Load()

	if got := cfg.Model(); got != "from-env" {
		t.Errorf("ai.model = %q, want env to win", got)
	}
}
