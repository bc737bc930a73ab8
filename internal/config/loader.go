package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// BindFlags declares the proxy's CLI surface on cmd and binds each flag to
// its viper key (the Config struct's mapstructure tag, not the hyphenated
// flag name) so the same setting can come from flag, MESHGEM_* env var, or
// file — in that precedence order.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.Flags()

	flags.String("listen-host", "0.0.0.0", "Bind address for client server")
	flags.Int("listen-port", 4404, "Bind port")
	flags.String("radio-host", "192.168.2.144", "Radio address")
	flags.Int("radio-port", 4403, "Radio port")
	flags.Uint32("channel", 2, "Default channel index for injected responses when source channel is unavailable")
	flags.Float64("response-delay", 2.0, "Seconds to wait before injecting a response")
	flags.Int("max-clients", 0, "Maximum simultaneous TCP clients (0 = unlimited)")
	flags.String("client-read-timeout", "60s", "Per-connection read deadline")
	flags.Int("hub-buffer", 512, "Per-client outbound buffer (frames)")
	flags.String("hub-policy", "drop", "Backpressure policy: drop|kick")
	flags.String("flush-interval", "5ms", "Writer flush interval")
	flags.String("gemini-api-key", "", "Generator API credential (or MESHGEM_GEMINI_API_KEY / GEMINI_API_KEY)")
	flags.String("gemini-endpoint", "", "Generator API base URL")
	flags.String("gemini-model", "", "Generator model name")
	flags.Bool("disable-ssl-verify", false, "Disable TLS verification for the generator client (or DISABLE_SSL_VERIFY)")
	flags.Int("gem-workers", 4, "Concurrent /gem job workers")
	flags.Int("gem-queue-size", 32, "Bounded /gem job queue depth")
	flags.String("gem-filter", "", "Optional CEL expression gating which /gem commands are accepted")
	flags.String("bridge", "none", "Chat bridge backend: none|telegram")
	flags.String("log-format", "text", "Log format: text|json")
	flags.String("log-level", "info", "Log level: debug|info|warn|error")
	flags.Bool("debug", false, "Verbose diagnostics (implies --log-level=debug)")
	flags.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	flags.String("log-metrics-interval", "", "If set and >0, periodically log metrics counters (e.g., 30s)")
	flags.Bool("mdns-enable", false, "Enable mDNS advertisement")
	flags.String("mdns-name", "", "mDNS instance name (default meshgem-proxy-<hostname>)")

	// flagKeys maps each hyphenated flag name to the mapstructure key its
	// value should land on; BindPFlags alone would use the flag name
	// verbatim as the viper key, which would not match Config's tags.
	flagKeys := map[string]string{
		"listen-host":          "listen_host",
		"listen-port":          "listen_port",
		"radio-host":           "radio_host",
		"radio-port":           "radio_port",
		"channel":              "channel",
		"response-delay":       "response_delay",
		"max-clients":          "max_clients",
		"client-read-timeout":  "client_read_timeout",
		"hub-buffer":           "hub_buffer",
		"hub-policy":           "hub_policy",
		"flush-interval":       "flush_interval",
		"gemini-api-key":       "gemini_api_key",
		"gemini-endpoint":      "gemini_endpoint",
		"gemini-model":         "gemini_model",
		"disable-ssl-verify":   "disable_ssl_verify",
		"gem-workers":          "gem_workers",
		"gem-queue-size":       "gem_queue_size",
		"gem-filter":           "gem_filter",
		"bridge":               "bridge",
		"log-format":           "log_format",
		"log-level":            "log_level",
		"debug":                "debug",
		"metrics-addr":         "metrics_addr",
		"log-metrics-interval": "log_metrics_interval",
		"mdns-enable":          "mdns_enable",
		"mdns-name":            "mdns_name",
	}
	for flagName, key := range flagKeys {
		_ = v.BindPFlag(key, flags.Lookup(flagName))
	}
}

// NewViper constructs a Viper instance configured for MESHGEM_* environment
// variables and, when cfgFile is non-empty, the given YAML config file.
func NewViper(cfgFile string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("MESHGEM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}
	return v
}

// Load reads cfgFile (if set), applies MESHGEM_* env overrides and CLI
// flags already bound on v, fills defaults, and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// GEMINI_API_KEY and DISABLE_SSL_VERIFY are read under their own bare
	// names (no MESHGEM_ prefix), matching the documented environment
	// surface; an explicit --gemini-api-key/--disable-ssl-verify flag
	// still wins since BindFlags already populated cfg via viper.
	if cfg.GeminiAPIKey == "" {
		cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	}
	if !cfg.DisableSSLVerify {
		switch strings.ToLower(os.Getenv("DISABLE_SSL_VERIFY")) {
		case "1", "true", "yes", "on":
			cfg.DisableSSLVerify = true
		}
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
