package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Cloud.Endpoint != "https://speech.googleapis.com" {
		t.Fatalf("expected default cloud endpoint, got %q", cfg.Cloud.Endpoint)
	}
	if cfg.Cloud.APIVersion != "v1beta1" {
		t.Fatalf("expected default api version, got %q", cfg.Cloud.APIVersion)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AURA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("AURA_BUS_USERNAME", "alice")
	t.Setenv("AURA_BUS_PASSWORD", "secret")
	t.Setenv("AURA_BUS_TLS_INSECURE", "true")
	t.Setenv("AURA_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("AURA_BUS_STORE_DIR", "/var/lib/aura/nats")
	t.Setenv("AURA_NODE_ID", "test-node")
	t.Setenv("AURA_NODE_ROLE", "gateway")
	t.Setenv("AURA_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("AURA_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("AURA_CLOUD_ENDPOINT", "http://localhost:9800")
	t.Setenv("AURA_CLOUD_API_KEY", "test-key")
	t.Setenv("AURA_CLOUD_SPEECH_CONTEXT", "aura, gateway")
	t.Setenv("AURA_CLOUD_MAX_ALTERNATIVES", "5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.StoreDir != "/var/lib/aura/nats" {
		t.Fatalf("expected store dir override, got %q", cfg.Bus.StoreDir)
	}
	if cfg.Node.ID != "test-node" {
		t.Fatalf("expected node id override")
	}
	if cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store retention mode override")
	}
	if cfg.Cloud.Endpoint != "http://localhost:9800" {
		t.Fatalf("expected cloud endpoint override, got %q", cfg.Cloud.Endpoint)
	}
	if cfg.Cloud.APIKey != "test-key" {
		t.Fatalf("expected cloud api key override")
	}
	if len(cfg.Cloud.SpeechContext) != 2 || cfg.Cloud.SpeechContext[1] != "gateway" {
		t.Fatalf("expected speech context override, got %v", cfg.Cloud.SpeechContext)
	}
	if cfg.Cloud.MaxAlternatives != 5 {
		t.Fatalf("expected max alternatives override, got %d", cfg.Cloud.MaxAlternatives)
	}
}

func TestValidateRejectsBadCloudSettings(t *testing.T) {
	t.Setenv("AURA_CLOUD_MAX_ALTERNATIVES", "31")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for max_alternatives > 30")
	}
}

func TestValidateCloudModeNeedsCredentials(t *testing.T) {
	t.Setenv("AURA_ASR_ENABLED", "true")
	t.Setenv("AURA_ASR_MODE", "cloud")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error when cloud mode has no credentials")
	}
}
