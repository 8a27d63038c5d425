package config

import "strings"

type Config struct {
	Api         ApiConfig         `yaml:"api"`
	Generation  GenerationConfig  `yaml:"generation"`
	Transformer TransformerConfig `yaml:"transformer"`
	Styles      StylesConfig      `yaml:"styles"`
	Sessions    SessionsConfig    `yaml:"sessions"`
	Log         LogConfig         `yaml:"log"`
}

type ApiConfig struct {
	Port           string `yaml:"port"`
	AllowedOrigins string `yaml:"allowedOrigins"`
	// BodyLimitMB must leave room for a 15 MiB upload plus multipart framing.
	BodyLimitMB int `yaml:"bodyLimitMB"`
}

type GenerationConfig struct {
	MaxInFlight        int `yaml:"maxInFlight"`
	CallTimeoutSeconds int `yaml:"callTimeoutSeconds"`
	QueueSize          int `yaml:"queueSize"`
}

type TransformerConfig struct {
	// Provider is one of "gemini", "remote" or "local".
	Provider string       `yaml:"provider"`
	Gemini   GeminiConfig `yaml:"gemini"`
	Remote   RemoteConfig `yaml:"remote"`
	Local    LocalConfig  `yaml:"local"`
}

type GeminiConfig struct {
	ApiKey  string `yaml:"apiKey"`
	Model   string `yaml:"model"`
	BaseUrl string `yaml:"baseUrl"`
}

type RemoteConfig struct {
	Url            string `yaml:"url"`
	ApiKey         string `yaml:"apiKey"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
	// HealthUrl is checked once at startup when set; failures only warn.
	HealthUrl string `yaml:"healthUrl"`
}

type LocalConfig struct {
	LatencyMs int `yaml:"latencyMs"`
}

type StylesConfig struct {
	// File overrides the embedded catalog when set.
	File string `yaml:"file"`
}

type SessionsConfig struct {
	// MaxSessions caps concurrently open sessions; new ones get 503 beyond it.
	MaxSessions int `yaml:"maxSessions"`
	// IdleMinutes is how long a session with no requests and no running
	// batch is kept before it is reaped.
	IdleMinutes int `yaml:"idleMinutes"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

const (
	ProviderGemini = "gemini"
	ProviderRemote = "remote"
	ProviderLocal  = "local"
)

// Normalize fills zero values with the service defaults.
func (c *Config) Normalize() {
	if strings.TrimSpace(c.Api.Port) == "" {
		c.Api.Port = "8080"
	}
	if c.Api.AllowedOrigins == "" {
		c.Api.AllowedOrigins = "*"
	}
	if c.Api.BodyLimitMB <= 0 {
		c.Api.BodyLimitMB = 16
	}

	if c.Generation.MaxInFlight <= 0 {
		c.Generation.MaxInFlight = 3
	}
	if c.Generation.CallTimeoutSeconds <= 0 {
		c.Generation.CallTimeoutSeconds = 60
	}
	if c.Generation.QueueSize <= 0 {
		c.Generation.QueueSize = 64
	}

	c.Transformer.Provider = strings.ToLower(strings.TrimSpace(c.Transformer.Provider))
	if c.Transformer.Provider == "" {
		c.Transformer.Provider = ProviderGemini
	}
	if c.Transformer.Gemini.Model == "" {
		c.Transformer.Gemini.Model = "gemini-2.5-flash-image-preview"
	}
	if c.Transformer.Remote.TimeoutSeconds <= 0 {
		c.Transformer.Remote.TimeoutSeconds = 120
	}

	if c.Sessions.MaxSessions <= 0 {
		c.Sessions.MaxSessions = 256
	}
	if c.Sessions.IdleMinutes <= 0 {
		c.Sessions.IdleMinutes = 60
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
