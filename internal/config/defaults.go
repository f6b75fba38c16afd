package config

import (
	"strings"
)

const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppLogFormat      = "text"
	defaultAppHTTPAddr       = ":8080"
	defaultDatabasePath      = "data/docagent.db"
	defaultAuditLogPath      = "data/agui_audit.db"
	defaultBlobDir           = "data/uploads"
	defaultMaxFileSizeMB     = 10
	defaultAIProvider        = "azure-openai"
	defaultAIModel           = "gpt-4o"
	defaultAITemperature     = 0.1
	defaultAITimeout         = 60
	defaultAIMaxRetries      = 2
	defaultAIRequestsPerMin  = 60
	defaultMaxDocumentChars  = 24000
	defaultBreakerThreshold  = 5
	defaultBreakerCooldown   = 30
	defaultAGUISweepInterval = 60
)

var defaultAllowedExtensions = []string{".pdf", ".png", ".jpg", ".jpeg"}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Storage.applyDefaults(keys)
	c.Upload.applyDefaults(keys)
	c.AI.applyDefaults(keys)
	c.AGUI.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (s *StorageConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("storage.database_path", &s.DatabasePath, defaultDatabasePath),
		stringFieldDefault("storage.audit_log_path", &s.AuditLogPath, defaultAuditLogPath),
		stringFieldDefault("storage.blob_dir", &s.BlobDir, defaultBlobDir),
	)
}

func (u *UploadConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("upload.max_file_size_mb", &u.MaxFileSizeMB, defaultMaxFileSizeMB),
	)
	u.AllowedExtensions = normalizeExtensions(u.AllowedExtensions)
	if len(u.AllowedExtensions) == 0 {
		u.AllowedExtensions = append([]string(nil), defaultAllowedExtensions...)
	}
}

func (a *AIConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("ai.provider", &a.Provider, defaultAIProvider),
		stringFieldDefault("ai.model", &a.Model, defaultAIModel),
		intFieldDefault("ai.timeout_seconds", &a.TimeoutSeconds, defaultAITimeout),
		intFieldDefault("ai.requests_per_minute", &a.RequestsPerMinute, defaultAIRequestsPerMin),
		intFieldDefault("ai.max_document_chars", &a.MaxDocumentChars, defaultMaxDocumentChars),
		intFieldDefault("ai.breaker_threshold", &a.BreakerThreshold, defaultBreakerThreshold),
		intFieldDefault("ai.breaker_cooldown_seconds", &a.BreakerCooldownSeconds, defaultBreakerCooldown),
		fieldDefault{
			key:   "ai.max_retries",
			need:  func() bool { return a.MaxRetries == 0 },
			apply: func() { a.MaxRetries = defaultAIMaxRetries },
		},
		fieldDefault{
			key:   "ai.temperature",
			need:  func() bool { return a.Temperature == 0 },
			apply: func() { a.Temperature = defaultAITemperature },
		},
	)
	if a.Headers == nil {
		a.Headers = map[string]string{}
	}
}

func (a *AGUIConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("agui.sweep_interval_seconds", &a.SweepIntervalSeconds, defaultAGUISweepInterval),
	)
	if a.IdleTTLSeconds < 0 {
		a.IdleTTLSeconds = 0
	}
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

func normalizeExtensions(exts []string) []string {
	if len(exts) == 0 {
		return nil
	}
	out := make([]string, 0, len(exts))
	seen := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if seen[ext] {
			continue
		}
		seen[ext] = true
		out = append(out, ext)
	}
	return out
}
