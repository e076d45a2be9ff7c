package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.DatabaseDriver != "sqlite" {
		t.Fatalf("expected sqlite driver, got %q", cfg.DatabaseDriver)
	}
	if cfg.ImageProbeTTL != 30*time.Second {
		t.Fatalf("expected 30s probe ttl, got %s", cfg.ImageProbeTTL)
	}
	if cfg.TxTimeout != 30*time.Second || cfg.TxLockWait != 5*time.Second {
		t.Fatalf("unexpected transaction bounds: %s / %s", cfg.TxTimeout, cfg.TxLockWait)
	}
	if cfg.UploadsPublicPrefix != "/uploads" {
		t.Fatalf("unexpected uploads prefix %q", cfg.UploadsPublicPrefix)
	}
	if cfg.IsDevelopment() {
		t.Fatalf("expected production environment by default")
	}
}

func TestLoadValidationFailures(t *testing.T) {
	testCases := []struct {
		name  string
		apply func(values map[string]any)
	}{
		{
			name:  "missing-secret",
			apply: func(values map[string]any) { delete(values, "auth.signing_secret") },
		},
		{
			name:  "unknown-driver",
			apply: func(values map[string]any) { values["database.driver"] = "oracle" },
		},
		{
			name:  "unknown-store-mode",
			apply: func(values map[string]any) { values["images.store_mode"] = "sometimes" },
		},
		{
			name: "s3-without-bucket",
			apply: func(values map[string]any) {
				values["storage.driver"] = "s3"
				values["s3.region"] = "eu-west-1"
			},
		},
		{
			name:  "relative-upload-prefix",
			apply: func(values map[string]any) { values["uploads.public_prefix"] = "uploads" },
		},
		{
			name:  "zero-attempts",
			apply: func(values map[string]any) { values["transactions.max_attempts"] = 0 },
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			values := map[string]any{"auth.signing_secret": "secret"}
			testCase.apply(values)
			configViper := NewViper()
			for key, value := range values {
				configViper.Set(key, value)
			}
			if _, err := Load(configViper); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
