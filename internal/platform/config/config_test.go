package config

import "testing"

func TestGetEnv_FallsBackToDefaultWhenUnset(t *testing.T) {
	t.Setenv("JOBMESH_TEST_STRING", "")
	if got := GetEnv("JOBMESH_TEST_STRING", "fallback", nil); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestGetEnv_ReturnsConfiguredValue(t *testing.T) {
	t.Setenv("JOBMESH_TEST_STRING", "configured")
	if got := GetEnv("JOBMESH_TEST_STRING", "fallback", nil); got != "configured" {
		t.Fatalf("expected configured, got %q", got)
	}
}

func TestGetEnvAsInt_FallsBackOnUnparsableValue(t *testing.T) {
	t.Setenv("JOBMESH_TEST_INT", "not-a-number")
	if got := GetEnvAsInt("JOBMESH_TEST_INT", 42, nil); got != 42 {
		t.Fatalf("expected fallback 42, got %d", got)
	}
}

func TestGetEnvAsInt_ParsesConfiguredValue(t *testing.T) {
	t.Setenv("JOBMESH_TEST_INT", "7")
	if got := GetEnvAsInt("JOBMESH_TEST_INT", 42, nil); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
}

func TestGetEnvAsBool_RecognizesTruthyAndFalsyForms(t *testing.T) {
	cases := map[string]bool{
		"1": true, "true": true, "yes": true, "on": true,
		"0": false, "false": false, "no": false, "off": false,
	}
	for raw, want := range cases {
		t.Setenv("JOBMESH_TEST_BOOL", raw)
		if got := GetEnvAsBool("JOBMESH_TEST_BOOL", !want, nil); got != want {
			t.Fatalf("GetEnvAsBool(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestGetEnvAsBool_FallsBackOnUnrecognizedValue(t *testing.T) {
	t.Setenv("JOBMESH_TEST_BOOL", "maybe")
	if got := GetEnvAsBool("JOBMESH_TEST_BOOL", true, nil); got != true {
		t.Fatalf("expected fallback true, got %v", got)
	}
}

func TestGetEnvAsDurationMS_InterpretsValueAsMilliseconds(t *testing.T) {
	t.Setenv("JOBMESH_TEST_DURATION", "1500")
	got := GetEnvAsDurationMS("JOBMESH_TEST_DURATION", 0, nil)
	if got.Milliseconds() != 1500 {
		t.Fatalf("expected 1500ms, got %v", got)
	}
}

func TestLoadCoordinatorConfig_AppliesDocumentedDefaults(t *testing.T) {
	cfg := LoadCoordinatorConfig(nil)
	if cfg.DBMaxOpenConns != 20 || cfg.DBMaxIdleConns != 5 {
		t.Fatalf("unexpected pool defaults: %+v", cfg)
	}
	if cfg.BotRetentionDays != 30 {
		t.Fatalf("expected 30 day default retention, got %d", cfg.BotRetentionDays)
	}
	if cfg.ClaimedJobTimeoutSeconds != 300 || cfg.ProcessingJobTimeoutSeconds != 600 {
		t.Fatalf("unexpected timeout defaults: %+v", cfg)
	}
}

func TestLoadAgentConfig_AppliesDocumentedDefaults(t *testing.T) {
	cfg := LoadAgentConfig(nil)
	if cfg.CoordinatorURL != "http://localhost:8080" {
		t.Fatalf("unexpected default coordinator url: %q", cfg.CoordinatorURL)
	}
	if cfg.CBFailureThreshold != 5 || cfg.CBHalfOpenMaxCalls != 3 {
		t.Fatalf("unexpected breaker defaults: %+v", cfg)
	}
	if cfg.RetryMaxAttempts != 20 {
		t.Fatalf("expected 20 max retry attempts, got %d", cfg.RetryMaxAttempts)
	}
}
