// Package config defines the proxy's configuration schema and loading
// precedence: CLI flag, then MESHGEM_* environment variable, then an
// optional YAML file, then the field's default.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Config is the top-level proxy configuration.
type Config struct {
	ListenHost string `mapstructure:"listen_host" validate:"required,ip|hostname_rfc1123"`
	ListenPort int    `mapstructure:"listen_port" validate:"required,min=1,max=65535"`

	RadioHost string `mapstructure:"radio_host" validate:"required"`
	RadioPort int    `mapstructure:"radio_port" validate:"required,min=1,max=65535"`

	Channel       uint32  `mapstructure:"channel"`
	ResponseDelay float64 `mapstructure:"response_delay" validate:"min=0"`

	MaxClients    int    `mapstructure:"max_clients" validate:"min=0"`
	ClientReadTO  string `mapstructure:"client_read_timeout" validate:"omitempty"`
	HubBuffer     int    `mapstructure:"hub_buffer" validate:"min=1"`
	HubPolicy     string `mapstructure:"hub_policy" validate:"oneof=drop kick"`
	FlushInterval string `mapstructure:"flush_interval" validate:"omitempty"`

	GeminiAPIKey     string `mapstructure:"gemini_api_key"`
	GeminiEndpoint   string `mapstructure:"gemini_endpoint" validate:"omitempty,url"`
	GeminiModel      string `mapstructure:"gemini_model"`
	DisableSSLVerify bool   `mapstructure:"disable_ssl_verify"`
	GemWorkers       int    `mapstructure:"gem_workers" validate:"min=1"`
	GemQueueSize     int    `mapstructure:"gem_queue_size" validate:"min=1"`
	GemFilter        string `mapstructure:"gem_filter"`

	BridgeKind string `mapstructure:"bridge" validate:"oneof=none telegram"`

	LogFormat string `mapstructure:"log_format" validate:"oneof=text json"`
	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	Debug     bool   `mapstructure:"debug"`

	MetricsAddr     string `mapstructure:"metrics_addr"`
	LogMetricsEvery string `mapstructure:"log_metrics_interval" validate:"omitempty"`

	MDNSEnable bool   `mapstructure:"mdns_enable"`
	MDNSName   string `mapstructure:"mdns_name"`
}

// SetDefaults fills zero-valued fields with the proxy's documented defaults.
func (c *Config) SetDefaults() {
	if c.ListenHost == "" {
		c.ListenHost = "0.0.0.0"
	}
	if c.ListenPort == 0 {
		c.ListenPort = 4404
	}
	if c.RadioHost == "" {
		c.RadioHost = "192.168.2.144"
	}
	if c.RadioPort == 0 {
		c.RadioPort = 4403
	}
	if c.Channel == 0 {
		c.Channel = 2
	}
	if c.ResponseDelay == 0 {
		c.ResponseDelay = 2.0
	}
	if c.ClientReadTO == "" {
		c.ClientReadTO = "60s"
	}
	if c.HubBuffer == 0 {
		c.HubBuffer = 512
	}
	if c.HubPolicy == "" {
		c.HubPolicy = "drop"
	}
	if c.FlushInterval == "" {
		c.FlushInterval = "5ms"
	}
	if c.GeminiEndpoint == "" {
		c.GeminiEndpoint = "https://generativelanguage.googleapis.com"
	}
	if c.GeminiModel == "" {
		c.GeminiModel = "gemini-1.5-flash"
	}
	if c.GemWorkers == 0 {
		c.GemWorkers = 4
	}
	if c.GemQueueSize == 0 {
		c.GemQueueSize = 32
	}
	if c.BridgeKind == "" {
		c.BridgeKind = "none"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Debug {
		c.LogLevel = "debug"
	}
}

// Validate checks the configuration against its struct tags; no
// cross-field rules are applied.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) error {
	var fieldErrs validator.ValidationErrors
	if ok := asValidationErrors(err, &fieldErrs); ok {
		msgs := make([]string, 0, len(fieldErrs))
		for _, e := range fieldErrs {
			msgs = append(msgs, fmt.Sprintf("%s failed validation: %s", e.Namespace(), e.Tag()))
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return err
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	ve, ok := err.(validator.ValidationErrors)
	if !ok {
		return false
	}
	*target = ve
	return true
}
