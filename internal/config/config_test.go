package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()

	tmpfile, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

func TestLoad(t *testing.T) {
	path := writeTempConfig(t, `
launcher:
  paths:
    - /srv/medias
  mute: false
  disableRTSP: true
  longLimit: 120
  rtspStartupTimeout: 5s
  encodingFormats:
    - container: webm
      audio: opus
      video: vp9

server:
  port: 9090
  host: "127.0.0.1"

redis:
  enabled: true
  host: "cache"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if len(cfg.Launcher.Paths) != 1 || cfg.Launcher.Paths[0] != "/srv/medias" {
		t.Errorf("Expected paths [/srv/medias], got %v", cfg.Launcher.Paths)
	}
	if cfg.Launcher.Mute {
		t.Error("Expected mute to be false")
	}
	if !cfg.Launcher.DisableRTSP {
		t.Error("Expected RTSP to be disabled")
	}
	if cfg.Launcher.LongLimit != 120 {
		t.Errorf("Expected longLimit 120, got %d", cfg.Launcher.LongLimit)
	}
	if cfg.Launcher.RTSPStartupTimeout != 5*time.Second {
		t.Errorf("Expected rtsp startup timeout 5s, got %v", cfg.Launcher.RTSPStartupTimeout)
	}
	if len(cfg.Launcher.EncodingFormats) != 1 || cfg.Launcher.EncodingFormats[0].Video != "vp9" {
		t.Errorf("Unexpected encoding formats %+v", cfg.Launcher.EncodingFormats)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Host != "cache" {
		t.Errorf("Unexpected redis config %+v", cfg.Redis)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}

	if cfg.Launcher.GenerateExpectations != "auto" {
		t.Errorf("Expected generateExpectations auto, got %s", cfg.Launcher.GenerateExpectations)
	}
	if cfg.Launcher.HTTPServerPort != 8079 {
		t.Errorf("Expected http server port 8079, got %d", cfg.Launcher.HTTPServerPort)
	}
	if cfg.Launcher.LongLimit != 300 {
		t.Errorf("Expected longLimit 300, got %d", cfg.Launcher.LongLimit)
	}
	if !cfg.Launcher.Mute {
		t.Error("Expected mute by default")
	}
	if cfg.Webhook.Enabled || cfg.Webhook.MaxRetries != 3 {
		t.Errorf("Expected webhooks disabled with 3 retries, got %+v", cfg.Webhook)
	}
}

func TestLoadWithFlagOverride(t *testing.T) {
	v := viper.New()
	v.Set("launcher.disableRTSP", true)

	cfg, err := LoadWith(v, "")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if !cfg.Launcher.DisableRTSP {
		t.Error("Expected override to disable RTSP")
	}
}

func TestValidateRejectsBadExpectationMode(t *testing.T) {
	path := writeTempConfig(t, `
launcher:
  generateExpectations: sometimes
`)

	if _, err := Load(path); err == nil {
		t.Error("Expected error for invalid generateExpectations")
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Error("Expected error when loading nonexistent file")
	}
}
