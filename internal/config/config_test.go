package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Server.IdentityHeader != "X-User-ID" {
		t.Fatalf("unexpected server defaults %+v", cfg.Server)
	}
	if cfg.Media.Workers != 2 || len(cfg.Media.ICEServers) != 1 {
		t.Fatalf("unexpected media defaults %+v", cfg.Media)
	}
	if cfg.Broadcast.HeartbeatInterval != 30*time.Second || cfg.Limits.JoinInterval != 10*time.Second {
		t.Fatalf("durations not decoded: %+v %+v", cfg.Broadcast, cfg.Limits)
	}
	if cfg.Store.Driver != "memory" || cfg.Store.HistoryLimit != 200 {
		t.Fatalf("unexpected store defaults %+v", cfg.Store)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
media:
  workers: 3
  ice_servers:
    - urls: ["turn:turn.example.org:3478"]
      username: u
      credential: p
store:
  driver: redis
  redis:
    addr: redis:6379
log:
  level: debug
`)
	t.Setenv("LIVEROOM_MEDIA_WORKERS", "4")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("file value lost: %d", cfg.Server.Port)
	}
	if cfg.Media.Workers != 4 {
		t.Fatalf("env override ignored: %d", cfg.Media.Workers)
	}
	if len(cfg.Media.ICEServers) != 1 || cfg.Media.ICEServers[0].Username != "u" || cfg.Media.ICEServers[0].URLs[0] != "turn:turn.example.org:3478" {
		t.Fatalf("ice servers not decoded: %+v", cfg.Media.ICEServers)
	}
	if cfg.Store.Driver != "redis" || cfg.Store.Redis.Addr != "redis:6379" || cfg.Log.Level != "debug" {
		t.Fatalf("unexpected %+v %+v", cfg.Store, cfg.Log)
	}
}

func TestValidate(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 70000
media:
  workers: 0
store:
  driver: cassandra
`)
	_, err := LoadFile(path)
	if err == nil {
		t.Fatalf("invalid config accepted")
	}
	for _, want := range []string{"server.port", "media.workers", "store.driver"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}
