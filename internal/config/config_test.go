package config

import (
	"testing"

	"github.com/nucleus/datapipe/pkg/staging"
)

func TestLoadEnvironmentDefaults(t *testing.T) {
	env := LoadEnvironment()
	if env.Driver != "pgx" {
		t.Fatalf("default driver = %q", env.Driver)
	}
	if env.EndpointURL != "localhost:9000" {
		t.Fatalf("default endpoint = %q", env.EndpointURL)
	}
	if env.UseSSL {
		t.Fatal("ssl must default off")
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("DATAPIPE_DB_DRIVER", "postgres")
	t.Setenv("DATAPIPE_DB_DSN", "postgres://localhost/dp")
	t.Setenv("DATAPIPE_S3_USE_SSL", "true")
	t.Setenv("DATAPIPE_S3_RATE_LIMIT", "25.5")
	t.Setenv("DATAPIPE_S3_RATE_BURST", "8")
	t.Setenv("DATAPIPE_S3_RATE_BURST_BOGUS", "notanint")

	env := LoadEnvironment()
	if env.Driver != "postgres" || env.DSN != "postgres://localhost/dp" {
		t.Fatalf("connection = %+v", env.Connection())
	}
	if !env.UseSSL || env.RateLimit != 25.5 || env.RateBurst != 8 {
		t.Fatalf("s3 settings = %+v", env)
	}
}

func TestLoadEnvironmentIgnoresMalformedValues(t *testing.T) {
	t.Setenv("DATAPIPE_S3_RATE_BURST", "many")
	t.Setenv("DATAPIPE_S3_USE_SSL", "yep")
	env := LoadEnvironment()
	if env.RateBurst != 0 || env.UseSSL {
		t.Fatalf("malformed values must fall back to defaults: %+v", env)
	}
}

func TestObjectStoreSelection(t *testing.T) {
	local := &Environment{LocalRoot: t.TempDir()}
	store, err := local.ObjectStore()
	if err != nil {
		t.Fatalf("ObjectStore: %v", err)
	}
	if _, ok := store.(*staging.LocalStore); !ok {
		t.Fatalf("store type %T, want local", store)
	}

	remote := &Environment{
		EndpointURL:     "http://localhost:9000",
		AccessKeyID:     "k",
		SecretAccessKey: "s",
	}
	store, err = remote.ObjectStore()
	if err != nil {
		t.Fatalf("ObjectStore: %v", err)
	}
	if _, ok := store.(*staging.S3Client); !ok {
		t.Fatalf("store type %T, want s3", store)
	}
}
