package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr       string `yaml:"addr"`
		Password   string `yaml:"password"`
		DB         int    `yaml:"db"`
		TTL        string `yaml:"ttl"`
		SessionTTL string `yaml:"sessionTTL"`
		DurableTTL string `yaml:"durableTTL"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"`
		// File is an optional YAML quiz catalogue used when Postgres is not configured.
		File string `yaml:"file"`
	} `yaml:"quiz"`
	Auth struct {
		Secret       string `yaml:"secret"`
		SignInURL    string `yaml:"signInURL"`
		ReturnMarker string `yaml:"returnMarker"`
		TokenTTL     string `yaml:"tokenTTL"`
	} `yaml:"auth"`
	Gating struct {
		// Types lists quiz types whose guest results stay hidden until sign-in.
		Types []string `yaml:"types"`
	} `yaml:"gating"`
	Reconcile struct {
		SubmitAttempts int    `yaml:"submitAttempts"`
		Backoff        string `yaml:"backoff"`
	} `yaml:"reconcile"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"log"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.Gating.Types) == 0 {
		c.Gating.Types = []string{"mcq", "fill-blank"}
	}
	if c.Auth.ReturnMarker == "" {
		c.Auth.ReturnMarker = "completed"
	}
	if c.Reconcile.SubmitAttempts <= 0 {
		c.Reconcile.SubmitAttempts = 3
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
