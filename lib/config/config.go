// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable [Load] reads the config path from.
const EnvironmentVariable = "GHBRIDGE_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development against a test homeserver.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the bridge configuration.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Bridge configures the Matrix side: homeserver, appservice
	// registration tokens, and naming of bridged users and rooms.
	Bridge BridgeConfig `yaml:"bridge"`

	// GitHub configures the GitHub API client, webhook verification,
	// and the OAuth application.
	GitHub GitHubConfig `yaml:"github"`

	// Webhook configures the HTTP listener for GitHub deliveries and
	// the OAuth callback.
	Webhook WebhookConfig `yaml:"webhook"`

	// Queue configures the in-process message queue.
	Queue QueueConfig `yaml:"queue"`

	// Sender configures the worker that delivers matrix.message requests.
	Sender SenderConfig `yaml:"sender"`

	// Tokens configures encrypted storage of per-user GitHub tokens.
	Tokens TokensConfig `yaml:"tokens"`

	// Dedup configures suppression of webhook echoes of comments the
	// bridge itself created.
	Dedup DedupConfig `yaml:"dedup"`

	// Logging configures the process-wide slog handler.
	Logging LoggingConfig `yaml:"logging"`

	// Per-environment overrides, applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Bridge  *BridgeConfig  `yaml:"bridge,omitempty"`
	GitHub  *GitHubConfig  `yaml:"github,omitempty"`
	Dedup   *DedupConfig   `yaml:"dedup,omitempty"`
	Logging *LoggingConfig `yaml:"logging,omitempty"`
}

// BridgeConfig configures the Matrix application service.
type BridgeConfig struct {
	// Domain is the homeserver's server name, the part after the colon
	// in user IDs.
	Domain string `yaml:"domain"`

	// HomeserverURL is the client-server API base URL.
	HomeserverURL string `yaml:"homeserver_url"`

	// ASToken authenticates the bridge to the homeserver. ASTokenFile,
	// when set and ASToken is empty, names a file holding it.
	ASToken     string `yaml:"as_token"`
	ASTokenFile string `yaml:"as_token_file"`

	// HSToken authenticates the homeserver to the bridge on the
	// appservice endpoints. HSTokenFile works like ASTokenFile.
	HSToken     string `yaml:"hs_token"`
	HSTokenFile string `yaml:"hs_token_file"`

	// BotLocalpart is the appservice sender_localpart.
	// Default: github
	BotLocalpart string `yaml:"bot_localpart"`

	// UserPrefix prefixes the localpart of every ghost user. Senders
	// whose localpart starts with it never have messages mirrored.
	// Default: github_
	UserPrefix string `yaml:"user_prefix"`

	// AliasPrefix is the leading component of issue room aliases,
	// #<prefix>_<org>_<repo>_<number>:<domain>.
	// Default: github
	AliasPrefix string `yaml:"alias_prefix"`

	// ListenAddress is where the appservice HTTP API (alias queries)
	// listens.
	// Default: 127.0.0.1:9000
	ListenAddress string `yaml:"listen_address"`

	// MediaURL is the public base URL used to turn mxc:// URIs into
	// links in comments posted to GitHub. Empty uses HomeserverURL.
	MediaURL string `yaml:"media_url"`

	// SyncTimeout is the /sync long-poll duration.
	// Default: 30s
	SyncTimeout time.Duration `yaml:"sync_timeout"`
}

// PublicMediaURL returns MediaURL, or HomeserverURL when unset.
func (b BridgeConfig) PublicMediaURL() string {
	if b.MediaURL != "" {
		return b.MediaURL
	}
	return b.HomeserverURL
}

// BotUserID returns the fully-qualified bot user ID.
func (b BridgeConfig) BotUserID() string {
	return "@" + b.BotLocalpart + ":" + b.Domain
}

// GitHubConfig configures the GitHub side.
type GitHubConfig struct {
	// APIURL is the REST API base URL.
	// Default: https://api.github.com
	APIURL string `yaml:"api_url"`

	// Token is the service token used for users without a personal
	// token. TokenFile works like BridgeConfig.ASTokenFile.
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`

	// WebhookSecret verifies X-Hub-Signature-256 on deliveries.
	WebhookSecret     string `yaml:"webhook_secret"`
	WebhookSecretFile string `yaml:"webhook_secret_file"`

	// OAuth configures the OAuth application used by !startoauth.
	OAuth OAuthConfig `yaml:"oauth"`
}

// OAuthConfig configures the GitHub OAuth web flow.
type OAuthConfig struct {
	ClientID         string `yaml:"client_id"`
	ClientSecret     string `yaml:"client_secret"`
	ClientSecretFile string `yaml:"client_secret_file"`

	// RedirectURI is the public URL of the /oauth callback.
	RedirectURI string `yaml:"redirect_uri"`
}

// Enabled reports whether an OAuth application is configured.
func (o OAuthConfig) Enabled() bool {
	return o.ClientID != ""
}

// WebhookConfig configures the webhook HTTP listener.
type WebhookConfig struct {
	// ListenAddress is the host:port for webhook deliveries and the
	// OAuth callback.
	// Default: 127.0.0.1:9001
	ListenAddress string `yaml:"listen_address"`
}

// QueueConfig configures the in-process message queue.
type QueueConfig struct {
	// RequestTimeout bounds how long a request waits for its reply.
	// Default: 30s
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// SenderConfig configures the Matrix sender worker.
type SenderConfig struct {
	// RatePerSecond and Burst throttle sends to the homeserver.
	// Default: 10 per second, burst 20
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`

	// MaxRetryElapsed bounds retries of rate-limited sends. Must be
	// shorter than queue.request_timeout.
	// Default: 20s
	MaxRetryElapsed time.Duration `yaml:"max_retry_elapsed"`
}

// TokensConfig configures the user token store.
type TokensConfig struct {
	// IdentityFile holds the age X25519 identity that seals stored
	// tokens. Created on first start if missing.
	// Default: ${HOME}/.local/state/ghbridge/token-identity.age
	IdentityFile string `yaml:"identity_file"`
}

// DedupConfig configures the echo suppression cache.
type DedupConfig struct {
	// Size bounds the number of remembered comments.
	// Default: 4096
	Size int `yaml:"size"`

	// Window is how long a created comment is remembered.
	// Default: 10m
	Window time.Duration `yaml:"window"`

	// Delay is how long comment.created handling waits before checking
	// the cache, so the outbound path can record the comment first.
	// Default: 500ms
	Delay time.Duration `yaml:"delay"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Format is "text" or "json".
	// Default: text (development), json (production)
	Format string `yaml:"format"`

	// Level is "debug", "info", "warn" or "error".
	// Default: info
	Level string `yaml:"level"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist to give every field a sensible value; the config file is
// still required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Environment: Development,
		Bridge: BridgeConfig{
			BotLocalpart:  "github",
			UserPrefix:    "github_",
			AliasPrefix:   "github",
			ListenAddress: "127.0.0.1:9000",
			SyncTimeout:   30 * time.Second,
		},
		GitHub: GitHubConfig{
			APIURL: "https://api.github.com",
		},
		Webhook: WebhookConfig{
			ListenAddress: "127.0.0.1:9001",
		},
		Queue: QueueConfig{
			RequestTimeout: 30 * time.Second,
		},
		Sender: SenderConfig{
			RatePerSecond:   10,
			Burst:           20,
			MaxRetryElapsed: 20 * time.Second,
		},
		Tokens: TokensConfig{
			IdentityFile: filepath.Join(homeDir, ".local", "state", "ghbridge", "token-identity.age"),
		},
		Dedup: DedupConfig{
			Size:   4096,
			Window: 10 * time.Minute,
			Delay:  500 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// Load loads configuration from the GHBRIDGE_CONFIG environment variable.
//
// There are no fallbacks: if GHBRIDGE_CONFIG is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your bridge config file, or use --config flag", EnvironmentVariable)
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. Files ending
// in .json or .jsonc are read as JSON with comments and trailing
// commas; anything else is YAML.
//
// After parsing, environment overrides are applied, ${VAR} patterns in
// file paths are expanded, and *_file secrets are read.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// JSON is a subset of YAML, so stripped JSONC decodes through the
	// same struct tags.
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: machine-readable logs.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Logging: &LoggingConfig{Format: "json"},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Bridge != nil {
		override := overrides.Bridge
		setString(&c.Bridge.Domain, override.Domain)
		setString(&c.Bridge.HomeserverURL, override.HomeserverURL)
		setString(&c.Bridge.ASToken, override.ASToken)
		setString(&c.Bridge.ASTokenFile, override.ASTokenFile)
		setString(&c.Bridge.HSToken, override.HSToken)
		setString(&c.Bridge.HSTokenFile, override.HSTokenFile)
		setString(&c.Bridge.BotLocalpart, override.BotLocalpart)
		setString(&c.Bridge.UserPrefix, override.UserPrefix)
		setString(&c.Bridge.AliasPrefix, override.AliasPrefix)
		setString(&c.Bridge.ListenAddress, override.ListenAddress)
		setString(&c.Bridge.MediaURL, override.MediaURL)
		if override.SyncTimeout != 0 {
			c.Bridge.SyncTimeout = override.SyncTimeout
		}
	}

	if overrides.GitHub != nil {
		override := overrides.GitHub
		setString(&c.GitHub.APIURL, override.APIURL)
		setString(&c.GitHub.Token, override.Token)
		setString(&c.GitHub.TokenFile, override.TokenFile)
		setString(&c.GitHub.WebhookSecret, override.WebhookSecret)
		setString(&c.GitHub.WebhookSecretFile, override.WebhookSecretFile)
		setString(&c.GitHub.OAuth.ClientID, override.OAuth.ClientID)
		setString(&c.GitHub.OAuth.ClientSecret, override.OAuth.ClientSecret)
		setString(&c.GitHub.OAuth.ClientSecretFile, override.OAuth.ClientSecretFile)
		setString(&c.GitHub.OAuth.RedirectURI, override.OAuth.RedirectURI)
	}

	if overrides.Dedup != nil {
		if overrides.Dedup.Size != 0 {
			c.Dedup.Size = overrides.Dedup.Size
		}
		if overrides.Dedup.Window != 0 {
			c.Dedup.Window = overrides.Dedup.Window
		}
		if overrides.Dedup.Delay != 0 {
			c.Dedup.Delay = overrides.Dedup.Delay
		}
	}

	if overrides.Logging != nil {
		setString(&c.Logging.Format, overrides.Logging.Format)
		setString(&c.Logging.Level, overrides.Logging.Level)
	}
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in file paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Bridge.ASTokenFile = expandVars(c.Bridge.ASTokenFile, vars)
	c.Bridge.HSTokenFile = expandVars(c.Bridge.HSTokenFile, vars)
	c.GitHub.TokenFile = expandVars(c.GitHub.TokenFile, vars)
	c.GitHub.WebhookSecretFile = expandVars(c.GitHub.WebhookSecretFile, vars)
	c.GitHub.OAuth.ClientSecretFile = expandVars(c.GitHub.OAuth.ClientSecretFile, vars)
	c.Tokens.IdentityFile = expandVars(c.Tokens.IdentityFile, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// resolveSecrets fills each empty secret from its *_file companion.
// Trailing whitespace (an editor's final newline) is trimmed.
func (c *Config) resolveSecrets() error {
	secrets := []struct {
		name  string
		value *string
		file  string
	}{
		{"bridge.as_token", &c.Bridge.ASToken, c.Bridge.ASTokenFile},
		{"bridge.hs_token", &c.Bridge.HSToken, c.Bridge.HSTokenFile},
		{"github.token", &c.GitHub.Token, c.GitHub.TokenFile},
		{"github.webhook_secret", &c.GitHub.WebhookSecret, c.GitHub.WebhookSecretFile},
		{"github.oauth.client_secret", &c.GitHub.OAuth.ClientSecret, c.GitHub.OAuth.ClientSecretFile},
	}

	for _, secret := range secrets {
		if *secret.value != "" || secret.file == "" {
			continue
		}
		data, err := os.ReadFile(secret.file)
		if err != nil {
			return fmt.Errorf("reading %s file: %w", secret.name, err)
		}
		*secret.value = strings.TrimRight(string(data), " \t\r\n")
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Bridge.Domain == "" {
		errs = append(errs, fmt.Errorf("bridge.domain is required"))
	}
	if err := validateHTTPURL(c.Bridge.HomeserverURL); err != nil {
		errs = append(errs, fmt.Errorf("bridge.homeserver_url: %w", err))
	}
	if c.Bridge.ASToken == "" {
		errs = append(errs, fmt.Errorf("bridge.as_token (or as_token_file) is required"))
	}
	if c.Bridge.HSToken == "" {
		errs = append(errs, fmt.Errorf("bridge.hs_token (or hs_token_file) is required"))
	}
	if c.Bridge.BotLocalpart == "" {
		errs = append(errs, fmt.Errorf("bridge.bot_localpart is required"))
	}
	if c.Bridge.UserPrefix == "" {
		errs = append(errs, fmt.Errorf("bridge.user_prefix is required"))
	}
	if c.Bridge.AliasPrefix == "" || strings.Contains(c.Bridge.AliasPrefix, "_") {
		errs = append(errs, fmt.Errorf("bridge.alias_prefix must be non-empty and contain no underscore"))
	}
	if c.Bridge.ListenAddress == "" {
		errs = append(errs, fmt.Errorf("bridge.listen_address is required"))
	}
	if c.Bridge.MediaURL != "" {
		if err := validateHTTPURL(c.Bridge.MediaURL); err != nil {
			errs = append(errs, fmt.Errorf("bridge.media_url: %w", err))
		}
	}

	if err := validateHTTPURL(c.GitHub.APIURL); err != nil {
		errs = append(errs, fmt.Errorf("github.api_url: %w", err))
	}
	if c.GitHub.Token == "" {
		errs = append(errs, fmt.Errorf("github.token (or token_file) is required"))
	}
	if c.GitHub.WebhookSecret == "" {
		errs = append(errs, fmt.Errorf("github.webhook_secret (or webhook_secret_file) is required"))
	}
	if c.GitHub.OAuth.Enabled() {
		if c.GitHub.OAuth.ClientSecret == "" {
			errs = append(errs, fmt.Errorf("github.oauth.client_secret is required when client_id is set"))
		}
		if err := validateHTTPURL(c.GitHub.OAuth.RedirectURI); err != nil {
			errs = append(errs, fmt.Errorf("github.oauth.redirect_uri: %w", err))
		}
	}

	if c.Webhook.ListenAddress == "" {
		errs = append(errs, fmt.Errorf("webhook.listen_address is required"))
	}
	if c.Queue.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("queue.request_timeout must be positive"))
	}
	if c.Sender.MaxRetryElapsed <= 0 || c.Sender.MaxRetryElapsed >= c.Queue.RequestTimeout {
		errs = append(errs, fmt.Errorf("sender.max_retry_elapsed must be positive and shorter than queue.request_timeout (%s)", c.Queue.RequestTimeout))
	}
	if c.Sender.RatePerSecond <= 0 || c.Sender.Burst < 1 {
		errs = append(errs, fmt.Errorf("sender.rate_per_second and sender.burst must be positive"))
	}
	if c.Tokens.IdentityFile == "" {
		errs = append(errs, fmt.Errorf("tokens.identity_file is required"))
	}
	if c.Dedup.Size < 1 {
		errs = append(errs, fmt.Errorf("dedup.size must be positive"))
	}
	if c.Dedup.Window <= 0 {
		errs = append(errs, fmt.Errorf("dedup.window must be positive"))
	}
	if c.Dedup.Delay < 0 {
		errs = append(errs, fmt.Errorf("dedup.delay must not be negative"))
	}

	if !contains([]string{"text", "json"}, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format must be text or json"))
	}
	if !contains([]string{"debug", "info", "warn", "error"}, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level must be one of: debug, info, warn, error"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func validateHTTPURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%q must be an http or https URL", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
