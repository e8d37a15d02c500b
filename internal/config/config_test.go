package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/medicare-plus/frontdesk/internal/apperr"
)

func TestLoadDefaultsAndEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("GATEWAY_TIMEOUT", "3s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" || cfg.Store.Driver != DriverMemory {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "b:9092" {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.SMS.Timeout != 3*time.Second {
		t.Errorf("timeout = %s", cfg.SMS.Timeout)
	}
	if cfg.SMS.DefaultCountryCode != "+91" {
		t.Errorf("country code = %q", cfg.SMS.DefaultCountryCode)
	}
}

func TestValidateListsEveryMissingGatewayKey(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")
	t.Setenv("PUBLIC_BASE_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	err = cfg.Validate()
	if !errors.Is(err, apperr.ErrConfiguration) {
		t.Fatalf("err = %v, want configuration", err)
	}
	for _, key := range []string{"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_FROM_NUMBER", "PUBLIC_BASE_URL"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not name %s", err, key)
		}
	}
	if err := cfg.ValidateStore(); err != nil {
		t.Errorf("store-only validation: %v", err)
	}
}

func TestValidateComplete(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_AUTH_TOKEN", "token")
	t.Setenv("TWILIO_FROM_NUMBER", "+15550001111")
	t.Setenv("PUBLIC_BASE_URL", "https://clinic.example")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	cfg.Artifacts.Driver = ArtifactMinIO
	if err := cfg.ValidateDelivery(); !errors.Is(err, apperr.ErrConfiguration) {
		t.Errorf("minio without endpoint: %v", err)
	}
}

func TestValidateMinIOWithoutPresignNeedsPublicURL(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_AUTH_TOKEN", "token")
	t.Setenv("TWILIO_FROM_NUMBER", "+15550001111")
	t.Setenv("PUBLIC_BASE_URL", "https://clinic.example")
	t.Setenv("ARTIFACT_DRIVER", "minio")
	t.Setenv("MINIO_ENDPOINT", "minio:9000")
	t.Setenv("MINIO_ACCESS_KEY", "access")
	t.Setenv("MINIO_SECRET_KEY", "secret")
	t.Setenv("MINIO_PRESIGN_TTL", "0s")
	t.Setenv("MINIO_PUBLIC_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	err = cfg.ValidateDelivery()
	if !errors.Is(err, apperr.ErrConfiguration) || !strings.Contains(err.Error(), "MINIO_PUBLIC_URL") {
		t.Fatalf("err = %v, want MINIO_PUBLIC_URL reported", err)
	}

	cfg.Artifacts.MinIOPublicURL = "https://files.clinic.example"
	if err := cfg.ValidateDelivery(); err != nil {
		t.Errorf("with public url: %v", err)
	}

	cfg.Artifacts.MinIOPublicURL = ""
	cfg.Artifacts.MinIOPresignTTL = 15 * time.Minute
	if err := cfg.ValidateDelivery(); err != nil {
		t.Errorf("with presigning: %v", err)
	}
}
