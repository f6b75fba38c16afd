package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Upload.validate(); err != nil {
		return err
	}
	if err := c.AI.validate(); err != nil {
		return err
	}
	if err := c.AGUI.validate(); err != nil {
		return err
	}
	return nil
}

func (u *UploadConfig) validate() error {
	if u.MaxFileSizeMB <= 0 {
		return fmt.Errorf("upload.max_file_size_mb must be > 0")
	}
	if len(u.AllowedExtensions) == 0 {
		return fmt.Errorf("upload.allowed_extensions cannot be empty")
	}
	return nil
}

func (a *AIConfig) validate() error {
	if strings.TrimSpace(a.Model) == "" {
		return fmt.Errorf("ai.model cannot be empty")
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		return fmt.Errorf("ai.temperature must be within [0, 2]")
	}
	if a.MaxRetries < 0 {
		return fmt.Errorf("ai.max_retries must be >= 0")
	}
	if a.BreakerThreshold < 0 {
		return fmt.Errorf("ai.breaker_threshold must be >= 0")
	}
	if strings.TrimSpace(a.APIVersion) != "" && strings.TrimSpace(a.APIURL) == "" {
		return fmt.Errorf("ai.api_url is required when ai.api_version is set (azure deployment endpoint)")
	}
	return nil
}

func (a *AGUIConfig) validate() error {
	if a.IdleTTLSeconds > 0 && a.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("agui.sweep_interval_seconds must be > 0 when idle_ttl_seconds is set")
	}
	return nil
}
