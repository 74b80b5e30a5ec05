package config

import "testing"

func validConfig() Config {
	return Config{
		HTTP: HTTPConfig{Port: 8080},
		KV: KVConfig{
			Addrs: []string{"localhost:6379"},
		},
		Tiles: TilesConfig{
			Backend: "fs",
			Dir:     "data/tiles",
		},
	}
}

func TestValidate_InvalidBudgetAction(t *testing.T) {
	cfg := validConfig()
	cfg.Encoder = EncoderConfig{
		APIKey:  "test-key",
		BaseURL: "https://api.example.com/v1/",
		Budget: BudgetConfig{
			DailyTokenLimit: 1000000,
			Action:          "invalid_action",
		},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for invalid budget action")
	}

	expected := `encoder.budget.action must be "warn" or "reject", got "invalid_action"`
	if err.Error() != expected {
		t.Errorf("unexpected error message:\ngot:  %q\nwant: %q", err.Error(), expected)
	}
}

func TestValidate_ValidBudgetActions(t *testing.T) {
	validActions := []string{"", "warn", "reject"}

	for _, action := range validActions {
		t.Run("action="+action, func(t *testing.T) {
			cfg := validConfig()
			cfg.Encoder = EncoderConfig{
				APIKey: "test-key",
				Budget: BudgetConfig{
					Action: action,
				},
			}

			err := cfg.Validate()
			if err != nil {
				t.Fatalf("unexpected error for valid action %q: %v", action, err)
			}
		})
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidate_MissingKVAddrs(t *testing.T) {
	cfg := validConfig()
	cfg.KV.Addrs = nil

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for missing kv addrs")
	}
}

func TestValidate_TilesBackend(t *testing.T) {
	t.Run("unknown backend", func(t *testing.T) {
		cfg := validConfig()
		cfg.Tiles.Backend = "gcs"
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error for unknown tiles backend")
		}
	})

	t.Run("fs without dir", func(t *testing.T) {
		cfg := validConfig()
		cfg.Tiles.Dir = ""
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error for fs backend without dir")
		}
	})

	t.Run("minio without endpoint", func(t *testing.T) {
		cfg := validConfig()
		cfg.Tiles = TilesConfig{
			Backend: "minio",
			Minio:   MinioConfig{Bucket: "tiles"},
		}
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error for minio backend without endpoint")
		}
	})

	t.Run("minio without bucket", func(t *testing.T) {
		cfg := validConfig()
		cfg.Tiles = TilesConfig{
			Backend: "minio",
			Minio:   MinioConfig{Endpoint: "localhost:9000"},
		}
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error for minio backend without bucket")
		}
	})

	t.Run("minio complete", func(t *testing.T) {
		cfg := validConfig()
		cfg.Tiles = TilesConfig{
			Backend: "minio",
			Minio:   MinioConfig{Endpoint: "localhost:9000", Bucket: "tiles"},
		}
		if err := cfg.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestValidate_QueryBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Query.NMSIoU = 1.2
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for nms_iou out of range")
	}

	cfg = validConfig()
	cfg.Query.MinProposals = 300
	cfg.Query.MaxProposals = 200
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for min_proposals above max_proposals")
	}
}

func TestValidate_CategoriesRequireVersion(t *testing.T) {
	cfg := validConfig()
	cfg.Classify = ClassifyConfig{
		Categories: []CategoryConfig{{Label: "galaxy", Prompt: "a photo of a galaxy"}},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for categories without a version")
	}

	cfg.Classify.Version = "v1"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 10 {
		t.Errorf("expected ReadTimeoutSec=10, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.HTTP.WriteTimeoutSec != 10 {
		t.Errorf("expected WriteTimeoutSec=10, got %d", cfg.HTTP.WriteTimeoutSec)
	}
	if cfg.HTTP.ShutdownSec != 10 {
		t.Errorf("expected ShutdownSec=10, got %d", cfg.HTTP.ShutdownSec)
	}
	if cfg.KV.Driver != "valkey" {
		t.Errorf("expected Driver='valkey', got %q", cfg.KV.Driver)
	}
	if cfg.KV.ReadinessTimeout != 10 {
		t.Errorf("expected ReadinessTimeout=10, got %d", cfg.KV.ReadinessTimeout)
	}
	if cfg.Tiles.Backend != "fs" {
		t.Errorf("expected Backend='fs', got %q", cfg.Tiles.Backend)
	}
	if cfg.Tiles.Dir != "data/tiles" {
		t.Errorf("expected Dir='data/tiles', got %q", cfg.Tiles.Dir)
	}
	if cfg.Tiles.CacheBytes != 256<<20 {
		t.Errorf("expected CacheBytes=%d, got %d", int64(256<<20), cfg.Tiles.CacheBytes)
	}
	if cfg.Tiles.MetaTTLSec != 300 {
		t.Errorf("expected MetaTTLSec=300, got %d", cfg.Tiles.MetaTTLSec)
	}
	if cfg.Encoder.Provider != "openai" {
		t.Errorf("expected Provider='openai', got %q", cfg.Encoder.Provider)
	}
	if cfg.Encoder.CacheSize != 1024 {
		t.Errorf("expected CacheSize=1024, got %d", cfg.Encoder.CacheSize)
	}
	if cfg.Encoder.CacheTTLSec != 86400 {
		t.Errorf("expected CacheTTLSec=86400, got %d", cfg.Encoder.CacheTTLSec)
	}
	if cfg.Query.ResultTTLSec != 60 {
		t.Errorf("expected ResultTTLSec=60, got %d", cfg.Query.ResultTTLSec)
	}
}

func TestApplyDefaults_NoOverride(t *testing.T) {
	cfg := Config{
		HTTP:    HTTPConfig{ReadTimeoutSec: 30, WriteTimeoutSec: 60, ShutdownSec: 5},
		KV:      KVConfig{Driver: "redis", ReadinessTimeout: 15},
		Tiles:   TilesConfig{Backend: "minio", CacheBytes: 1 << 20, MetaTTLSec: 60},
		Encoder: EncoderConfig{Provider: "nebius", CacheSize: 16, CacheTTLSec: 600},
		Query:   QueryConfig{ResultTTLSec: 5},
	}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 30 {
		t.Errorf("expected ReadTimeoutSec=30, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.HTTP.WriteTimeoutSec != 60 {
		t.Errorf("expected WriteTimeoutSec=60, got %d", cfg.HTTP.WriteTimeoutSec)
	}
	if cfg.KV.Driver != "redis" {
		t.Errorf("expected Driver='redis', got %q", cfg.KV.Driver)
	}
	if cfg.Tiles.Backend != "minio" {
		t.Errorf("expected Backend='minio', got %q", cfg.Tiles.Backend)
	}
	if cfg.Tiles.Dir != "" {
		t.Errorf("expected empty Dir for minio backend, got %q", cfg.Tiles.Dir)
	}
	if cfg.Encoder.Provider != "nebius" {
		t.Errorf("expected Provider='nebius', got %q", cfg.Encoder.Provider)
	}
	if cfg.Query.ResultTTLSec != 5 {
		t.Errorf("expected ResultTTLSec=5, got %d", cfg.Query.ResultTTLSec)
	}
}
