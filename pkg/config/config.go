// Package config loads stepwise.yaml, the project configuration: where the
// application under test lives, how the recorder and player behave, and
// which extra actions the project defines.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/stepwise/pkg/kernel/actions"
	"github.com/ormasoftchile/stepwise/pkg/kernel/codec"
	"github.com/ormasoftchile/stepwise/pkg/kernel/playback"
	"github.com/ormasoftchile/stepwise/pkg/kernel/resolve"
	"github.com/ormasoftchile/stepwise/pkg/kernel/xhr"
)

// FileName is the project configuration file looked up by Discover.
const FileName = "stepwise.yaml"

// DefaultPort is the dev-server port when none is configured.
const DefaultPort = 2468

// Environment variables that override file settings.
const (
	EnvTargetURL = "STEPWISE_TARGET_URL"
	EnvPort      = "STEPWISE_PORT"
	EnvLogLevel  = "STEPWISE_LOG_LEVEL"
)

// Config is the decoded stepwise.yaml.
type Config struct {
	Name     string               `yaml:"name,omitempty"`
	Target   TargetConfig         `yaml:"target"`
	Server   ServerConfig         `yaml:"server,omitempty"`
	Log      LogConfig            `yaml:"log,omitempty"`
	Recorder RecorderConfig       `yaml:"recorder,omitempty"`
	Playback PlaybackConfig       `yaml:"playback,omitempty"`
	Export   ExportConfig         `yaml:"export,omitempty"`
	Storage  StorageConfig        `yaml:"storage,omitempty"`
	Browser  BrowserConfig        `yaml:"browser,omitempty"`
	Actions  []actions.HostAction `yaml:"actions,omitempty"`
	Remote   []RemoteConfig       `yaml:"remote,omitempty"`

	// Root is the directory holding the configuration file. Set after
	// loading, not from YAML.
	Root string `yaml:"-"`
}

// TargetConfig locates the application under test.
type TargetConfig struct {
	URL             string `yaml:"url"`
	DefaultPathname string `yaml:"defaultPathname,omitempty"`
	// OriginHost restricts where visit() may go. Empty means the URL host.
	OriginHost string `yaml:"originHost,omitempty"`
	// TestModeProbe is fetched before recording starts; a non-2xx answer
	// means the application is not running in test mode.
	TestModeProbe string `yaml:"testModeProbe,omitempty"`
}

// ServerConfig configures the dev-server API.
type ServerConfig struct {
	Port int  `yaml:"port,omitempty"`
	Open bool `yaml:"open,omitempty"`
}

// LogConfig selects the zap logger.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// RecorderConfig tunes click resolution and request observation.
type RecorderConfig struct {
	TestAttr string  `yaml:"testAttr,omitempty"`
	Cutoff   float64 `yaml:"cutoff,omitempty"`
	// XHRFilter is an expr-lang boolean over method, pathname and href.
	XHRFilter string `yaml:"xhrFilter,omitempty"`
	// ReservedStoragePrefix marks local storage keys a reset leaves alone.
	ReservedStoragePrefix string `yaml:"reservedStoragePrefix,omitempty"`
	// TrackLocation records a location assertion when a confirmed step
	// follows a page change.
	TrackLocation bool `yaml:"trackLocation,omitempty"`
}

// PlaybackConfig tunes the playback engine.
type PlaybackConfig struct {
	Timeout             time.Duration `yaml:"timeout,omitempty"`
	RetryDelay          time.Duration `yaml:"retryDelay,omitempty"`
	AdvanceDelay        time.Duration `yaml:"advanceDelay,omitempty"`
	ErrorBannerSelector string        `yaml:"errorBannerSelector,omitempty"`
}

// ExportConfig tunes generated scripts.
type ExportConfig struct {
	HelpersModule string `yaml:"helpersModule,omitempty"`
}

// StorageConfig selects the template store.
type StorageConfig struct {
	Driver string `yaml:"driver,omitempty"` // fs | sqlite
	DSN    string `yaml:"dsn,omitempty"`
}

// BrowserConfig configures the Chrome instance used for recording.
type BrowserConfig struct {
	Headless bool   `yaml:"headless,omitempty"`
	ExecPath string `yaml:"execPath,omitempty"`
}

// RemoteConfig names a remote action provider: an HTTP endpoint or a
// command speaking JSON-RPC on stdio.
type RemoteConfig struct {
	Name    string   `yaml:"name"`
	URL     string   `yaml:"url,omitempty"`
	Command []string `yaml:"command,omitempty"`
}

// Default returns the configuration used when no stepwise.yaml exists.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	ac := actions.DefaultConfig()
	if c.Target.URL == "" {
		c.Target.URL = ac.BaseURL
	}
	if c.Target.DefaultPathname == "" {
		c.Target.DefaultPathname = ac.DefaultPathname
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Recorder.TestAttr == "" {
		c.Recorder.TestAttr = resolve.DefaultTestAttr
	}
	if c.Recorder.Cutoff == 0 {
		c.Recorder.Cutoff = resolve.DefaultCutoff
	}
	if c.Recorder.ReservedStoragePrefix == "" {
		c.Recorder.ReservedStoragePrefix = ac.ReservedStoragePrefix
	}
	if c.Playback.Timeout == 0 {
		c.Playback.Timeout = playback.DefaultTimeout
	}
	if c.Playback.RetryDelay == 0 {
		c.Playback.RetryDelay = playback.DefaultRetryDelay
	}
	if c.Playback.ErrorBannerSelector == "" {
		c.Playback.ErrorBannerSelector = playback.DefaultErrorBannerSelector
	}
	if c.Export.HelpersModule == "" {
		c.Export.HelpersModule = codec.DefaultOptions().HelpersModule
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "fs"
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = "templates"
	}
}

// Load reads and strictly decodes a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	c.Root = filepath.Dir(abs)
	return c, nil
}

// Parse strictly decodes configuration YAML and fills in defaults.
func Parse(data []byte) (*Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Discover walks up from startPath to find the nearest stepwise.yaml.
// Returns nil (no error) if none is found.
func Discover(startPath string) (*Config, error) {
	abs, err := filepath.Abs(startPath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	dir := abs
	if !info.IsDir() {
		dir = filepath.Dir(abs)
	}

	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return Load(candidate)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Resolve loads path when given, else discovers a configuration from
// startDir, else falls back to Default. Environment overrides apply last.
func Resolve(path, startDir string) (*Config, error) {
	var (
		c   *Config
		err error
	)
	if path != "" {
		c, err = Load(path)
	} else {
		c, err = Discover(startDir)
	}
	if err != nil {
		return nil, err
	}
	if c == nil {
		c = Default()
		if abs, err := filepath.Abs(startDir); err == nil {
			c.Root = abs
		}
	}
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return c, nil
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvTargetURL); ok && v != "" {
		c.Target.URL = v
	}
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 {
			return fmt.Errorf("%s: invalid port %q", EnvPort, v)
		}
		c.Server.Port = port
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
	return c.Validate()
}

// Validate checks settings that would fail later in a confusing way.
func (c *Config) Validate() error {
	if c.Target.URL == "" {
		return fmt.Errorf("target.url is required")
	}
	if _, err := c.ActionConfig().StartURL(); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	if _, err := xhr.CompileFilter(c.Recorder.XHRFilter); err != nil {
		return fmt.Errorf("recorder.xhrFilter: %w", err)
	}
	switch c.Storage.Driver {
	case "fs", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q (want fs or sqlite)", c.Storage.Driver)
	}
	for i, r := range c.Remote {
		if r.Name == "" {
			return fmt.Errorf("remote[%d]: name is required", i)
		}
		if (r.URL == "") == (len(r.Command) == 0) {
			return fmt.Errorf("remote %s: exactly one of url or command is required", r.Name)
		}
	}
	return nil
}

// ActionConfig returns the environment builtin actions run in.
func (c *Config) ActionConfig() actions.Config {
	ac := actions.DefaultConfig()
	ac.BaseURL = c.Target.URL
	ac.DefaultPathname = c.Target.DefaultPathname
	ac.OriginHost = c.Target.OriginHost
	ac.ReservedStoragePrefix = c.Recorder.ReservedStoragePrefix
	ac.ErrorBannerSelector = c.Playback.ErrorBannerSelector
	return ac
}

// CodecOptions returns the script header settings.
func (c *Config) CodecOptions() codec.Options {
	return codec.Options{
		BaseURL:             c.Target.URL,
		DefaultPathname:     c.Target.DefaultPathname,
		HelpersModule:       c.Export.HelpersModule,
		ErrorBannerSelector: c.Playback.ErrorBannerSelector,
	}
}

// EngineConfig returns engine settings. Clock, trace and logger are left
// for the caller.
func (c *Config) EngineConfig() playback.Config {
	return playback.Config{
		Timeout:             c.Playback.Timeout,
		RetryDelay:          c.Playback.RetryDelay,
		AdvanceDelay:        c.Playback.AdvanceDelay,
		ErrorBannerSelector: c.Playback.ErrorBannerSelector,
	}
}

// ResolverOptions returns click resolution settings.
func (c *Config) ResolverOptions() []resolve.Option {
	return []resolve.Option{
		resolve.WithTestAttr(c.Recorder.TestAttr),
		resolve.WithCutoff(c.Recorder.Cutoff),
	}
}

// XHRFilter compiles the request filter. Nil means every request is kept.
func (c *Config) XHRFilter() (*xhr.Filter, error) {
	return xhr.CompileFilter(c.Recorder.XHRFilter)
}

// Registry builds the action registry: builtins plus the configured host
// actions.
func (c *Config) Registry() (*actions.Registry, error) {
	reg := actions.NewBuiltinRegistry(c.ActionConfig())
	if err := actions.RegisterHostActions(reg, c.Actions); err != nil {
		return nil, err
	}
	return reg, nil
}

// StorageDSN resolves a relative filesystem DSN against Root.
func (c *Config) StorageDSN() string {
	dsn := c.Storage.DSN
	if c.Root != "" && !filepath.IsAbs(dsn) && dsn != ":memory:" {
		return filepath.Join(c.Root, dsn)
	}
	return dsn
}
