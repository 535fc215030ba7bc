package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("duckbench-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Engine.MaxConnections != 4 {
		t.Fatalf("Engine.MaxConnections = %d", cfg.Engine.MaxConnections)
	}
	if cfg.Engine.SessionRetries != 3 {
		t.Fatalf("Engine.SessionRetries = %d", cfg.Engine.SessionRetries)
	}
	if cfg.Engine.QueryTimeout != 30*time.Second {
		t.Fatalf("Engine.QueryTimeout = %s", cfg.Engine.QueryTimeout)
	}
	if cfg.Engine.MaxResultRows != 10000 {
		t.Fatalf("Engine.MaxResultRows = %d", cfg.Engine.MaxResultRows)
	}
	if cfg.Engine.DefaultPageSize != 100 {
		t.Fatalf("Engine.DefaultPageSize = %d", cfg.Engine.DefaultPageSize)
	}
	if cfg.ObjectStore.Endpoint != "localhost:9000" {
		t.Fatalf("ObjectStore.Endpoint = %q", cfg.ObjectStore.Endpoint)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{"DUCKBENCH_PROFILE": "prod"})
	cfg, err := Load("duckbench-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
	if cfg.ObjectStore.AutoCreateBucket {
		t.Fatal("ObjectStore.AutoCreateBucket should default to false in prod")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"DUCKBENCH_PROFILE":                        "test",
		"DUCKBENCH_SERVICE_NAME":                   "duckbench-custom",
		"DUCKBENCH_HTTP_ADDR":                      ":9999",
		"DUCKBENCH_HTTP_READ_TIMEOUT":              "2s",
		"DUCKBENCH_LOG_LEVEL":                      "error",
		"DUCKBENCH_ENGINE_DB_PATH":                 "/tmp/bench.db",
		"DUCKBENCH_ENGINE_MAX_CONNECTIONS":         "2",
		"DUCKBENCH_ENGINE_SESSION_RETRIES":         "5",
		"DUCKBENCH_ENGINE_SESSION_RETRY_BACKOFF":   "100ms",
		"DUCKBENCH_ENGINE_QUERY_TIMEOUT":           "45s",
		"DUCKBENCH_ENGINE_MAX_RESULT_ROWS":         "2500",
		"DUCKBENCH_ENGINE_DEFAULT_PAGE_SIZE":       "50",
		"DUCKBENCH_OBJECTSTORE_ENDPOINT":           "s3.example.com",
		"DUCKBENCH_OBJECTSTORE_BUCKET":             "bench-prod",
		"DUCKBENCH_OBJECTSTORE_USE_SSL":            "true",
		"DUCKBENCH_OBJECTSTORE_AUTO_CREATE_BUCKET": "false",
	})
	cfg, err := Load("duckbench-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "duckbench-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP.ReadTimeout = %s", cfg.HTTP.ReadTimeout)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Engine.DBPath != "/tmp/bench.db" {
		t.Fatalf("Engine.DBPath = %q", cfg.Engine.DBPath)
	}
	if cfg.Engine.MaxConnections != 2 {
		t.Fatalf("Engine.MaxConnections = %d", cfg.Engine.MaxConnections)
	}
	if cfg.Engine.SessionRetries != 5 {
		t.Fatalf("Engine.SessionRetries = %d", cfg.Engine.SessionRetries)
	}
	if cfg.Engine.SessionRetryBackoff != 100*time.Millisecond {
		t.Fatalf("Engine.SessionRetryBackoff = %s", cfg.Engine.SessionRetryBackoff)
	}
	if cfg.Engine.QueryTimeout != 45*time.Second {
		t.Fatalf("Engine.QueryTimeout = %s", cfg.Engine.QueryTimeout)
	}
	if cfg.Engine.MaxResultRows != 2500 {
		t.Fatalf("Engine.MaxResultRows = %d", cfg.Engine.MaxResultRows)
	}
	if cfg.Engine.DefaultPageSize != 50 {
		t.Fatalf("Engine.DefaultPageSize = %d", cfg.Engine.DefaultPageSize)
	}
	if cfg.ObjectStore.Endpoint != "s3.example.com" {
		t.Fatalf("ObjectStore.Endpoint = %q", cfg.ObjectStore.Endpoint)
	}
	if cfg.ObjectStore.Bucket != "bench-prod" {
		t.Fatalf("ObjectStore.Bucket = %q", cfg.ObjectStore.Bucket)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL = false, want true")
	}
	if cfg.ObjectStore.AutoCreateBucket {
		t.Fatal("ObjectStore.AutoCreateBucket = true, want false")
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"DUCKBENCH_PROFILE": "oops"},
		{"DUCKBENCH_HTTP_READ_TIMEOUT": "NaN"},
		{"DUCKBENCH_ENGINE_MAX_CONNECTIONS": "oops"},
		{"DUCKBENCH_ENGINE_MAX_CONNECTIONS": "0"},
		{"DUCKBENCH_ENGINE_QUERY_TIMEOUT": "soon"},
		{"DUCKBENCH_OBJECTSTORE_USE_SSL": "not-bool"},
		{"DUCKBENCH_LOG_LEVEL": "verbose"},
	}
	for _, env := range tests {
		_, err := Load("duckbench-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
