package credentials

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

type memStore struct {
	token  string
	setErr error
}

func (m *memStore) GatewayToken() string { return m.token }
func (m *memStore) SetGatewayToken(t string) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.token = t
	return nil
}

type recordingClient struct {
	updates []string
}

func (r *recordingClient) UpdateToken(token string) { r.updates = append(r.updates, token) }

func writeTokenFile(t *testing.T, root, content string) {
	t.Helper()
	path := filepath.Join(root, ConfigRelPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestRefreshSwapsChangedToken(t *testing.T) {
	root := t.TempDir()
	writeTokenFile(t, root, `{"gateway":{"auth":{"token":"fresh"},"port":18789}}`)

	store := &memStore{token: "stale"}
	client := &recordingClient{}
	r := NewRefresher(root, store, client, nil)

	changed, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !changed {
		t.Fatal("Refresh = false, want true for changed token")
	}
	if store.token != "fresh" {
		t.Errorf("persisted token = %q, want fresh", store.token)
	}
	if len(client.updates) != 1 || client.updates[0] != "fresh" {
		t.Errorf("client updates = %v, want [fresh]", client.updates)
	}
}

func TestRefreshNoChangeForSameToken(t *testing.T) {
	root := t.TempDir()
	writeTokenFile(t, root, `{"gateway":{"auth":{"token":"same"}}}`)

	store := &memStore{token: "same"}
	client := &recordingClient{}
	r := NewRefresher(root, store, client, nil)

	changed, err := r.Refresh(context.Background())
	if err != nil || changed {
		t.Fatalf("Refresh = (%v, %v), want (false, nil)", changed, err)
	}
	if len(client.updates) != 0 {
		t.Errorf("client updated with identical token: %v", client.updates)
	}
}

func TestRefreshToleratesBrokenSources(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, root string)
	}{
		{"missing_file", func(*testing.T, string) {}},
		{"malformed_json", func(t *testing.T, root string) {
			writeTokenFile(t, root, `{not json`)
		}},
		{"missing_nested_keys", func(t *testing.T, root string) {
			writeTokenFile(t, root, `{"gateway":{"port":18789}}`)
		}},
		{"empty_token", func(t *testing.T, root string) {
			writeTokenFile(t, root, `{"gateway":{"auth":{"token":""}}}`)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			tt.prepare(t, root)

			store := &memStore{token: "current"}
			client := &recordingClient{}
			r := NewRefresher(root, store, client, nil)

			changed, err := r.Refresh(context.Background())
			if err != nil {
				t.Fatalf("Refresh must not fail on broken sources: %v", err)
			}
			if changed {
				t.Error("Refresh = true, want false (no token found)")
			}
			if store.token != "current" {
				t.Errorf("store token mutated to %q", store.token)
			}
		})
	}
}
