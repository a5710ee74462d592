package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	c, err := Parse([]byte("target:\n  url: http://localhost:8080\n"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Server.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", c.Server.Port, DefaultPort)
	}
	if c.Playback.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", c.Playback.Timeout)
	}
	if c.Recorder.TestAttr != "data-test" {
		t.Errorf("TestAttr = %q, want data-test", c.Recorder.TestAttr)
	}
	if got := c.ActionConfig().BaseURL; got != "http://localhost:8080" {
		t.Errorf("BaseURL = %q", got)
	}
}

func TestParse_Full(t *testing.T) {
	data := []byte(`
name: shop
target:
  url: http://localhost:3000
  defaultPathname: /home
server:
  port: 9000
playback:
  timeout: 2s
  retryDelay: 100ms
recorder:
  xhrFilter: method != "OPTIONS"
actions:
  - action: login
    label: log in
    code: cy.login({{ js .args.user }})
    params:
      - key: user
        label: User
    calls:
      - method: get
        args: ["#user"]
        chain:
          - method: type
            args: ["{{ .args.user }}"]
`)
	c, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if c.Playback.Timeout != 2*time.Second || c.Playback.RetryDelay != 100*time.Millisecond {
		t.Errorf("playback = %+v", c.Playback)
	}
	if c.Server.Port != 9000 {
		t.Errorf("Port = %d, want 9000", c.Server.Port)
	}
	f, err := c.XHRFilter()
	if err != nil || f == nil {
		t.Fatalf("XHRFilter = %v, %v", f, err)
	}
	reg, err := c.Registry()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Lookup("login"); err != nil {
		t.Errorf("host action not registered: %v", err)
	}
	if got := c.CodecOptions().DefaultPathname; got != "/home" {
		t.Errorf("DefaultPathname = %q, want /home", got)
	}
}

func TestParse_UnknownField(t *testing.T) {
	if _, err := Parse([]byte("target:\n  url: http://x\n  proxy: true\n")); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad filter":  "target:\n  url: http://x\nrecorder:\n  xhrFilter: 'method +'\n",
		"bad driver":  "target:\n  url: http://x\nstorage:\n  driver: redis\n",
		"bad remote":  "target:\n  url: http://x\nremote:\n  - name: r\n",
		"remote name": "target:\n  url: http://x\nremote:\n  - url: http://r\n",
	}
	for name, data := range tests {
		if _, err := Parse([]byte(data)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestParse_Empty(t *testing.T) {
	c, err := Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	if c.Target.URL != "http://localhost:3000" {
		t.Errorf("URL = %q", c.Target.URL)
	}
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, FileName), []byte("name: found\ntarget:\n  url: http://localhost:1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	c, err := Discover(nested)
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.Name != "found" {
		t.Fatalf("Discover = %+v", c)
	}
	if c.StorageDSN() != filepath.Join(c.Root, "templates") {
		t.Errorf("StorageDSN = %q", c.StorageDSN())
	}
}

func TestDiscover_None(t *testing.T) {
	c, err := Discover(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Errorf("expected nil config, got %+v", c)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvTargetURL: "http://app:4000",
		EnvPort:      "7000",
		EnvLogLevel:  "debug",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	c := Default()
	if err := c.ApplyEnv(lookup); err != nil {
		t.Fatal(err)
	}
	if c.Target.URL != "http://app:4000" || c.Server.Port != 7000 || c.Log.Level != "debug" {
		t.Errorf("config = %+v", c)
	}

	env[EnvPort] = "abc"
	if err := Default().ApplyEnv(lookup); err == nil {
		t.Error("expected error for bad port")
	}
}
