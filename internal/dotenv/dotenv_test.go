package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bidder.env")
	body := "CCA_TEST_RPC_URL=https://rpc.example\nCCA_TEST_OWNER=from-file\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	t.Setenv("CCA_TEST_OWNER", "from-env")
	t.Setenv("CCA_TEST_RPC_URL", "")
	os.Unsetenv("CCA_TEST_RPC_URL")

	if err := Load(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got := os.Getenv("CCA_TEST_RPC_URL"); got != "https://rpc.example" {
		t.Fatalf("file value not loaded: %q", got)
	}
	if got := os.Getenv("CCA_TEST_OWNER"); got != "from-env" {
		t.Fatalf("existing env overwritten: %q", got)
	}
}

func TestLookup(t *testing.T) {
	t.Setenv("CCA_TEST_A", "  ")
	t.Setenv("CCA_TEST_B", " second ")
	if got := Lookup("CCA_TEST_MISSING", "CCA_TEST_A", "CCA_TEST_B"); got != "second" {
		t.Fatalf("got %q", got)
	}
	if got := Lookup("CCA_TEST_MISSING"); got != "" {
		t.Fatalf("got %q", got)
	}
}
