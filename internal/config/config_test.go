package config

import "testing"

func baseConfig() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

func TestDefaultsValidate(t *testing.T) {
	c := baseConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected defaulted config to validate, got %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Config)
	}{
		{"badListenPort", func(c *Config) { c.ListenPort = 0 }},
		{"badRadioPort", func(c *Config) { c.RadioPort = 70000 }},
		{"badHubPolicy", func(c *Config) { c.HubPolicy = "explode" }},
		{"badHubBuffer", func(c *Config) { c.HubBuffer = 0 }},
		{"badBridge", func(c *Config) { c.BridgeKind = "discord" }},
		{"badLogFormat", func(c *Config) { c.LogFormat = "xml" }},
		{"badLogLevel", func(c *Config) { c.LogLevel = "loud" }},
		{"negativeMaxClients", func(c *Config) { c.MaxClients = -1 }},
		{"badGemWorkers", func(c *Config) { c.GemWorkers = 0 }},
		{"badGeminiEndpoint", func(c *Config) { c.GeminiEndpoint = "not-a-url" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := baseConfig()
			tc.mod(c)
			if err := c.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestSetDefaultsMatchesDocumentedCLIDefaults(t *testing.T) {
	c := baseConfig()
	if c.ListenHost != "0.0.0.0" || c.ListenPort != 4404 {
		t.Fatalf("unexpected listen defaults: %+v", c)
	}
	if c.RadioHost != "192.168.2.144" || c.RadioPort != 4403 {
		t.Fatalf("unexpected radio defaults: %+v", c)
	}
	if c.Channel != 2 {
		t.Fatalf("expected default channel 2, got %d", c.Channel)
	}
	if c.ResponseDelay != 2.0 {
		t.Fatalf("expected default response delay 2.0, got %v", c.ResponseDelay)
	}
}

func TestDebugImpliesLogLevelDebug(t *testing.T) {
	c := &Config{Debug: true}
	c.SetDefaults()
	if c.LogLevel != "debug" {
		t.Fatalf("expected debug log level, got %s", c.LogLevel)
	}
}
