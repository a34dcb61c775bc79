package otel

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = abc ,broken, =x,tenant=vault")
	if len(headers) != 2 || headers["api-key"] != "abc" || headers["tenant"] != "vault" {
		t.Fatalf("unexpected headers %v", headers)
	}
}

func TestFromEnvDisabledWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg := FromEnv("vaultd", "test")
	if cfg.Metrics || cfg.Traces {
		t.Fatalf("exporters must stay off without an endpoint")
	}
	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestFromEnvEnabled(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")
	cfg := FromEnv("vaultd", "prod")
	if !cfg.Metrics || !cfg.Traces || !cfg.Insecure || cfg.Endpoint != "collector:4318" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), Config{Metrics: true}); err == nil {
		t.Fatalf("expected error without service name")
	}
}

func TestFromEnvSampleRatio(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")
	if cfg := FromEnv("vaultd", ""); cfg.SampleRatio != 0.25 {
		t.Fatalf("unexpected sample ratio %v", cfg.SampleRatio)
	}
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "lots")
	if cfg := FromEnv("vaultd", ""); cfg.SampleRatio != 0 {
		t.Fatalf("expected invalid ratio to be ignored, got %v", cfg.SampleRatio)
	}
}
