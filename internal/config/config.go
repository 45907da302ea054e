// Package config provides centralized configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// DefaultBranchPrefix is prepended to the issue number to name work branches.
const DefaultBranchPrefix = "autopr-fix-"

// Config holds all configuration parameters for the application.
type Config struct {
	GitHub  GitHubConfig
	AI      AIConfig
	Options OptionsConfig
	Store   StoreConfig
	Jira    JiraConfig
}

// GitHubConfig holds GitHub specific configuration.
type GitHubConfig struct {
	Owner      string
	Repository string
	Token      string
	Domain     string
	App        AppConfig
}

// AppConfig holds GitHub App installation credentials. When complete, they
// take precedence over the personal access token.
type AppConfig struct {
	ClientID       string
	InstallationID int64
	PrivateKeyPath string
}

// Complete reports whether all App credentials are set.
func (a AppConfig) Complete() bool {
	return a.ClientID != "" && a.InstallationID != 0 && a.PrivateKeyPath != ""
}

// AIConfig holds the generative AI provider configuration.
type AIConfig struct {
	APIKey    string
	Model     string
	MaxTokens int64
}

// OptionsConfig holds pipeline behaviour switches.
type OptionsConfig struct {
	Labels           []string
	SkipVerification bool
	BranchPrefix     string
	Concurrency      int
	ContextGlobs     []string
	ContextMaxFiles  int
	ContextMaxBytes  int
}

// StoreConfig holds result persistence settings. An empty Path keeps results
// in memory only.
type StoreConfig struct {
	Path string
}

// JiraConfig holds JIRA specific configuration. Jira is used as the issue
// source only when Project is set.
type JiraConfig struct {
	URL      string
	Username string
	Token    string
	Project  string
}

// Enabled reports whether issues should be listed from Jira.
func (j JiraConfig) Enabled() bool {
	return j.Project != ""
}

// Missing returns the configuration keys that must be set before the
// pipeline may contact any backend.
func (c *Config) Missing() []string {
	var missing []string

	if c.GitHub.Owner == "" {
		missing = append(missing, "github.owner")
	}
	if c.GitHub.Repository == "" {
		missing = append(missing, "github.repository")
	}
	if c.GitHub.Token == "" && !c.GitHub.App.Complete() {
		missing = append(missing, "github.token")
	}
	if c.AI.APIKey == "" {
		missing = append(missing, "ai.apiKey")
	}
	if c.Jira.Enabled() {
		missing = append(missing, ValidateJiraConfig(c)...)
	}

	return missing
}

// ValidateJiraConfig returns the JIRA keys that are missing.
func ValidateJiraConfig(config *Config) []string {
	var missingVars []string

	if config.Jira.URL == "" {
		missingVars = append(missingVars, "jira.url")
	}
	if config.Jira.Username == "" {
		missingVars = append(missingVars, "jira.username")
	}
	if config.Jira.Token == "" {
		missingVars = append(missingVars, "jira.token")
	}

	return missingVars
}

// Loader reads configuration from an optional YAML file and the environment.
// Every Load re-reads the file so that edits take effect without a restart.
type Loader struct {
	mu   sync.Mutex
	v    *viper.Viper
	file string
}

// NewLoader creates a Loader. An empty configFile selects
// ~/.config/autopr/config.yaml.
func NewLoader(configFile string) *Loader {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(DefaultDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("AUTOPR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Map well-known environment variables next to the AUTOPR_ ones
	v.BindEnv("github.token", "AUTOPR_GITHUB_TOKEN", "GITHUB_TOKEN")
	v.BindEnv("github.domain", "AUTOPR_GITHUB_DOMAIN", "GITHUB_DOMAIN")
	v.BindEnv("ai.apiKey", "AUTOPR_AI_APIKEY", "ANTHROPIC_API_KEY")
	v.BindEnv("jira.url", "AUTOPR_JIRA_URL", "JIRA_URL")
	v.BindEnv("jira.username", "AUTOPR_JIRA_USERNAME", "JIRA_USERNAME")
	v.BindEnv("jira.token", "AUTOPR_JIRA_TOKEN", "JIRA_TOKEN")

	v.SetDefault("github.domain", "github.com")
	v.SetDefault("ai.model", "claude-sonnet-4-5")
	v.SetDefault("ai.maxTokens", 8192)
	v.SetDefault("options.branchPrefix", DefaultBranchPrefix)
	v.SetDefault("options.skipVerification", false)
	v.SetDefault("options.concurrency", 2)
	v.SetDefault("options.contextMaxFiles", 10)
	v.SetDefault("options.contextMaxBytes", 100_000)
	v.SetDefault("store.path", filepath.Join(DefaultDir(), "autopr.db"))

	return &Loader{v: v, file: configFile}
}

// Viper exposes the underlying viper instance so command flags can be bound.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load reads the current configuration. A missing config file is not an
// error; an unreadable or malformed one is.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(l.file == "" && os.IsNotExist(err)) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v := l.v
	config := &Config{
		GitHub: GitHubConfig{
			Owner:      v.GetString("github.owner"),
			Repository: v.GetString("github.repository"),
			Token:      v.GetString("github.token"),
			Domain:     v.GetString("github.domain"),
			App: AppConfig{
				ClientID:       v.GetString("github.app.clientId"),
				InstallationID: v.GetInt64("github.app.installationId"),
				PrivateKeyPath: v.GetString("github.app.privateKeyPath"),
			},
		},
		AI: AIConfig{
			APIKey:    v.GetString("ai.apiKey"),
			Model:     v.GetString("ai.model"),
			MaxTokens: v.GetInt64("ai.maxTokens"),
		},
		Options: OptionsConfig{
			Labels:           splitList(v.GetStringSlice("options.labels")),
			SkipVerification: v.GetBool("options.skipVerification"),
			BranchPrefix:     v.GetString("options.branchPrefix"),
			Concurrency:      v.GetInt("options.concurrency"),
			ContextGlobs:     splitList(v.GetStringSlice("options.contextGlobs")),
			ContextMaxFiles:  v.GetInt("options.contextMaxFiles"),
			ContextMaxBytes:  v.GetInt("options.contextMaxBytes"),
		},
		Store: StoreConfig{
			Path: v.GetString("store.path"),
		},
		Jira: JiraConfig{
			URL:      v.GetString("jira.url"),
			Username: v.GetString("jira.username"),
			Token:    v.GetString("jira.token"),
			Project:  v.GetString("jira.project"),
		},
	}

	if config.Options.Concurrency < 1 {
		config.Options.Concurrency = 1
	}

	return config, nil
}

// LoadConfig loads configuration from the default location and environment.
func LoadConfig() (*Config, error) {
	return NewLoader("").Load()
}

// DefaultDir returns ~/.config/autopr, or the working directory when the
// home directory cannot be determined.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "autopr")
}

// splitList flattens comma separated entries such as those coming from
// environment variables, dropping blanks.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
