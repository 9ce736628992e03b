// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml, .env, and
// environment variables. Environment variables win over the YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// BridgeConfig holds the connection to the WhatsApp bridge instance.
type BridgeConfig struct {
	APIURL     string `yaml:"api_url"`
	APIKey     string `yaml:"api_key"`
	Instance   string `yaml:"instance"`
	WebhookURL string `yaml:"webhook_url"` // public URL the bridge should deliver to
}

// Config holds all configuration for the ingestion service.
type Config struct {
	// Server
	Port     int
	Timezone string

	// Storage
	DatabaseURL string
	RedisURL    string

	// Webhook authentication. Empty values disable that check.
	WebhookToken      string
	WebhookHMACSecret string
	IPAllowlist       []string

	// Notifications
	NotifyChannelPrefix string

	// Toggle cache staleness window
	ToggleMaxAge time.Duration

	Bridge BridgeConfig
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Server struct {
		Port     int    `yaml:"port"`
		Timezone string `yaml:"timezone"`
	} `yaml:"server"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL           string `yaml:"url"`
		ChannelPrefix string `yaml:"channel_prefix"`
	} `yaml:"redis"`
	Webhook struct {
		Token       string   `yaml:"token"`
		HMACSecret  string   `yaml:"hmac_secret"`
		IPAllowlist []string `yaml:"ip_allowlist"`
	} `yaml:"webhook"`
	Bridge BridgeConfig `yaml:"bridge"`
}

// Load reads .env (when present), then config.yaml (with env var
// expansion), then environment variables for overrides.
func Load() (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	var raw rawConfig
	configPath := envOrDefault("CONFIG_PATH", "config.yaml")
	if data, err := os.ReadFile(configPath); err == nil {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML %s: %w", configPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	cfg := &Config{
		Port:     envOrDefaultInt("PORT", firstNonZero(raw.Server.Port, 8080)),
		Timezone: envOrDefault("TIMEZONE", firstNonEmpty(raw.Server.Timezone, "America/Mexico_City")),

		DatabaseURL: firstNonEmpty(os.Getenv("DATABASE_URL"), raw.Database.URL),
		RedisURL:    firstNonEmpty(os.Getenv("REDIS_URL"), raw.Redis.URL, "redis://localhost:6379/0"),

		WebhookToken:      firstNonEmpty(os.Getenv("WEBHOOK_TOKEN"), raw.Webhook.Token),
		WebhookHMACSecret: firstNonEmpty(os.Getenv("WEBHOOK_HMAC_SECRET"), raw.Webhook.HMACSecret),

		NotifyChannelPrefix: firstNonEmpty(os.Getenv("NOTIFY_CHANNEL_PREFIX"), raw.Redis.ChannelPrefix),

		ToggleMaxAge: envOrDefaultDuration("TOGGLE_MAX_AGE", 10*time.Second),

		Bridge: BridgeConfig{
			APIURL:     firstNonEmpty(os.Getenv("BRIDGE_API_URL"), raw.Bridge.APIURL),
			APIKey:     firstNonEmpty(os.Getenv("BRIDGE_API_KEY"), raw.Bridge.APIKey),
			Instance:   firstNonEmpty(os.Getenv("BRIDGE_INSTANCE"), raw.Bridge.Instance),
			WebhookURL: firstNonEmpty(os.Getenv("BRIDGE_WEBHOOK_URL"), raw.Bridge.WebhookURL),
		},
	}

	cfg.IPAllowlist = raw.Webhook.IPAllowlist
	if v := os.Getenv("WEBHOOK_IP_ALLOWLIST"); v != "" {
		cfg.IPAllowlist = splitAndTrim(v)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required — set it in the environment or config.yaml")
	}

	return cfg, nil
}

// Location resolves the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
