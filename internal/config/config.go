// Package config implements the Configurator: it loads and validates
// runtime options into an immutable RunConfig snapshot.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/dbashand/dbreplicate/internal/runerr"
)

// Mode selects between a real sync and a read-only analysis pass.
type Mode string

const (
	ModeSync    Mode = "sync"
	ModeDryRun  Mode = "dry-run"
)

// ConflictPolicy selects the Loader's behavior on a uniqueness violation.
type ConflictPolicy string

const (
	ConflictError  ConflictPolicy = "error"
	ConflictSkip   ConflictPolicy = "skip"
	ConflictUpdate ConflictPolicy = "update"
)

var validLogLevels = map[string]bool{"error": true, "warn": true, "info": true, "debug": true}
var validConflictPolicies = map[ConflictPolicy]bool{ConflictError: true, ConflictSkip: true, ConflictUpdate: true}
var validModes = map[Mode]bool{ModeSync: true, ModeDryRun: true}

// RunConfig is the immutable snapshot produced by Load. Every field is
// populated and validated before the engine proceeds past INIT.
type RunConfig struct {
	UpstreamBaseURL    string
	UpstreamDatabaseID int64
	UpstreamUsername   string
	UpstreamPassword   string

	TargetHost       string
	TargetPort       int
	TargetName       string
	TargetUsername   string
	TargetPassword   string
	TargetTLSEnabled bool

	ConnectTimeoutMs int
	BatchSize        int
	LogLevel         string
	ConflictPolicy   ConflictPolicy
	EnableRollback   bool
	ContinueOnError  bool
	Mode             Mode
}

// env is a tiny abstraction over variable lookup so Load's behavior is
// independent of variable iteration order (the Configurator round-trip
// property in the testable-properties list): every field is read by name,
// never by ranging over the environment. Process environment wins over the
// optional .env file.
type env struct {
	fromFile map[string]string
}

func newEnv(envFilePath string) env {
	fromFile, _ := godotenv.Read(envFilePath)
	return env{fromFile: fromFile}
}

func (e env) get(name string) (string, bool) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v, true
	}
	if v, ok := e.fromFile[name]; ok && v != "" {
		return v, true
	}
	return "", false
}

// Load reads an optional .env file at envFilePath (ignored if absent) and
// then the process environment, producing a validated RunConfig.
func Load(envFilePath string) (*RunConfig, error) {
	e := newEnv(envFilePath)

	cfg := &RunConfig{
		ConnectTimeoutMs: 30000,
		BatchSize:        1000,
		LogLevel:         "info",
		ConflictPolicy:   ConflictError,
		EnableRollback:   true,
		ContinueOnError:  false,
		Mode:             ModeSync,
	}

	required := func(name string) (string, error) {
		v, ok := e.get(name)
		if !ok {
			return "", runerr.New(runerr.KindConfigInvalid, fmt.Errorf("missing required variable %s", name))
		}
		return v, nil
	}

	var err error
	if cfg.UpstreamBaseURL, err = required("upstream_base_url"); err != nil {
		return nil, err
	}
	dbIDStr, err := required("upstream_database_id")
	if err != nil {
		return nil, err
	}
	if cfg.UpstreamDatabaseID, err = strconv.ParseInt(dbIDStr, 10, 64); err != nil {
		return nil, runerr.New(runerr.KindConfigInvalid, fmt.Errorf("upstream_database_id: %w", err))
	}
	if cfg.UpstreamUsername, err = required("upstream_username"); err != nil {
		return nil, err
	}
	if cfg.UpstreamPassword, err = required("upstream_password"); err != nil {
		return nil, err
	}
	if cfg.TargetHost, err = required("target_host"); err != nil {
		return nil, err
	}
	portStr, err := required("target_port")
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, runerr.New(runerr.KindConfigInvalid, fmt.Errorf("target_port: %w", err))
	}
	if port < 1 || port > 65535 {
		return nil, runerr.New(runerr.KindConfigInvalid, fmt.Errorf("target_port %d outside 1-65535", port))
	}
	cfg.TargetPort = port
	if cfg.TargetName, err = required("target_name"); err != nil {
		return nil, err
	}
	if cfg.TargetUsername, err = required("target_username"); err != nil {
		return nil, err
	}
	if cfg.TargetPassword, err = required("target_password"); err != nil {
		return nil, err
	}

	if v, ok := e.get("target_tls_enabled"); ok {
		cfg.TargetTLSEnabled = parseBool(v)
	}

	if v, ok := e.get("connect_timeout_ms"); ok {
		n, convErr := strconv.Atoi(v)
		if convErr != nil {
			return nil, runerr.New(runerr.KindConfigInvalid, fmt.Errorf("connect_timeout_ms: %w", convErr))
		}
		if n < 1000 {
			return nil, runerr.New(runerr.KindConfigInvalid, fmt.Errorf("connect_timeout_ms %d below minimum 1000", n))
		}
		cfg.ConnectTimeoutMs = n
	}

	if v, ok := e.get("batch_size"); ok {
		n, convErr := strconv.Atoi(v)
		if convErr != nil {
			return nil, runerr.New(runerr.KindConfigInvalid, fmt.Errorf("batch_size: %w", convErr))
		}
		if n <= 0 {
			return nil, runerr.New(runerr.KindConfigInvalid, fmt.Errorf("batch_size must be positive, got %d", n))
		}
		cfg.BatchSize = n
	}

	if v, ok := e.get("log_level"); ok {
		if !validLogLevels[v] {
			return nil, runerr.New(runerr.KindConfigInvalid, fmt.Errorf("log_level %q not in {error,warn,info,debug}", v))
		}
		cfg.LogLevel = v
	}

	if v, ok := e.get("conflict_policy"); ok {
		p := ConflictPolicy(v)
		if !validConflictPolicies[p] {
			return nil, runerr.New(runerr.KindConfigInvalid, fmt.Errorf("conflict_policy %q not in {error,skip,update}", v))
		}
		cfg.ConflictPolicy = p
	}

	if v, ok := e.get("enable_rollback"); ok {
		cfg.EnableRollback = parseBool(v)
	}

	if v, ok := e.get("continue_on_error"); ok {
		cfg.ContinueOnError = parseBool(v)
	}
	if cfg.ContinueOnError {
		cfg.EnableRollback = false
	}

	if v, ok := e.get("mode"); ok {
		m := Mode(v)
		if !validModes[m] {
			return nil, runerr.New(runerr.KindConfigInvalid, fmt.Errorf("mode %q not in {sync,dry-run}", v))
		}
		cfg.Mode = m
	}

	return cfg, nil
}

func parseBool(s string) bool {
	switch s {
	case "true", "1", "yes", "on", "t", "y", "TRUE", "True":
		return true
	default:
		return false
	}
}

// TargetConnectionURL composes the target connection URL, percent-encoding
// every character of the credentials outside the unreserved set (see
// DESIGN.md for why this stays on the standard library). url.UserPassword
// would leave sub-delimiters such as '+', '&' and '=' as they are, so the
// userinfo is escaped with url.QueryEscape, with its '+' for a space
// replaced by %20.
func (c *RunConfig) TargetConnectionURL() string {
	scheme := "postgres"
	escape := func(s string) string { return strings.ReplaceAll(url.QueryEscape(s), "+", "%20") }
	u := url.URL{
		Scheme: scheme,
		Host:   fmt.Sprintf("%s:%d", c.TargetHost, c.TargetPort),
		Path:   "/" + c.TargetName,
	}
	q := u.Query()
	if c.TargetTLSEnabled {
		q.Set("sslmode", "require")
	} else {
		q.Set("sslmode", "disable")
	}
	u.RawQuery = q.Encode()
	userinfo := escape(c.TargetUsername) + ":" + escape(c.TargetPassword)
	return scheme + "://" + userinfo + "@" + strings.TrimPrefix(u.String(), scheme+"://")
}
