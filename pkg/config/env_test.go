package config

import (
	"testing"
	"time"

	"github.com/shiftwatch/shiftwatch/pkg/common"
)

func TestRegisterEnvName(t *testing.T) {
	if err := RegisterEnvNameForConfigKey(common.COMMON_CONFIG_KEYS_COUNT, "count"); err != nil {
		t.Fatal(err)
	}
}

func TestEnvConfigGetAndUpdate(t *testing.T) {
	env := map[string]string{
		"SW_HOST": "first.example.com",
	}
	cfg := NewEnvConfig(func(key string) string { return env[key] })

	if host := cfg.Get(common.HostKey).Value(); host != "first.example.com" {
		t.Errorf("host = %q", host)
	}

	env["SW_HOST"] = "second.example.com"
	cfg.Update(t.Context())

	if host := cfg.Get(common.HostKey).Value(); host != "second.example.com" {
		t.Errorf("host after update = %q", host)
	}
}

func TestConfigValueHelpers(t *testing.T) {
	env := map[string]string{
		"SW_VERBOSE":              "1",
		"SW_PORT":                 "3000",
		"SW_RECONCILE_INTERVAL":   "90s",
		"SW_HEALTHCHECK_INTERVAL": "broken",
	}
	cfg := NewEnvConfig(func(key string) string { return env[key] })

	if !AsBool(cfg.Get(common.VerboseKey)) {
		t.Error("verbose should be true")
	}

	if port := AsInt(cfg.Get(common.PortKey), 8080); port != 3000 {
		t.Errorf("port = %v", port)
	}

	if d := AsDuration(cfg.Get(common.ReconcileIntervalKey), time.Minute); d != 90*time.Second {
		t.Errorf("reconcile interval = %v", d)
	}

	if d := AsDuration(cfg.Get(common.HealthCheckIntervalKey), time.Minute); d != time.Minute {
		t.Errorf("fallback duration = %v", d)
	}
}
