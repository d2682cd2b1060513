package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSettingsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	store, err := OpenSettings(path)
	if err != nil {
		t.Fatalf("OpenSettings: %v", err)
	}
	if store.GatewayToken() != "" || store.ActiveModel() != "" {
		t.Error("fresh store should be empty")
	}

	if err := store.SetGatewayToken("tok-1"); err != nil {
		t.Fatalf("SetGatewayToken: %v", err)
	}
	if err := store.SetActiveModel("claude-sonnet"); err != nil {
		t.Fatalf("SetActiveModel: %v", err)
	}

	reopened, err := OpenSettings(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := reopened.GatewayToken(); got != "tok-1" {
		t.Errorf("token = %q, want tok-1", got)
	}
	if got := reopened.ActiveModel(); got != "claude-sonnet" {
		t.Errorf("model = %q, want claude-sonnet", got)
	}
}

func TestSettingsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenSettings(path); err == nil {
		t.Fatal("expected error for malformed settings file")
	}
}
