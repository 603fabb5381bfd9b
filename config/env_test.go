package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("AS_STR", "hello")
	t.Setenv("AS_INT", "42")
	t.Setenv("AS_BAD_INT", "forty")
	t.Setenv("AS_FLOAT", "0.5")
	t.Setenv("AS_DUR", "250ms")
	t.Setenv("AS_BOOL", "yes")

	if got := EnvOr("AS_STR", "x"); got != "hello" {
		t.Errorf("EnvOr=%q", got)
	}
	if got := EnvOr("AS_UNSET", "x"); got != "x" {
		t.Errorf("EnvOr default=%q", got)
	}
	if got := EnvInt("AS_INT", 1); got != 42 {
		t.Errorf("EnvInt=%d", got)
	}
	if got := EnvInt("AS_BAD_INT", 1); got != 1 {
		t.Errorf("EnvInt bad=%d", got)
	}
	if got := EnvFloat("AS_FLOAT", 1); got != 0.5 {
		t.Errorf("EnvFloat=%v", got)
	}
	if got := EnvDuration("AS_DUR", time.Second); got != 250*time.Millisecond {
		t.Errorf("EnvDuration=%v", got)
	}
	if !EnvBool("AS_BOOL", false) || EnvBool("AS_UNSET", false) {
		t.Error("EnvBool")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("AS_DOTENV_A=from-file\nAS_DOTENV_B=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AS_DOTENV_B", "from-env")
	// Registers cleanup for the variable the file sets.
	t.Setenv("AS_DOTENV_A", "")
	os.Unsetenv("AS_DOTENV_A")

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("AS_DOTENV_A"); got != "from-file" {
		t.Fatalf("A=%q", got)
	}
	if got := os.Getenv("AS_DOTENV_B"); got != "from-env" {
		t.Fatalf("B=%q, existing variables must win", got)
	}
}
