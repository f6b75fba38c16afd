package provider

import (
	"fmt"
	"strings"
	"time"

	"docagent/internal/config"
	"docagent/internal/logger"
	"docagent/internal/pkg/circuit"

	"golang.org/x/time/rate"
)

// BuildProviderFromConfig 根据 ai 配置构造模型提供方。未配置 api_key 时返回禁用的 provider。
func BuildProviderFromConfig(cfg config.AIConfig) *OpenAIModelProvider {
	base := strings.TrimSpace(cfg.Provider)
	if base == "" {
		base = "provider"
	}
	id := base
	if model := strings.TrimSpace(cfg.Model); model != "" {
		id = fmt.Sprintf("%s:%s", base, model)
	}
	client := &OpenAIChatClient{
		BaseURL:      cfg.APIURL,
		APIKey:       cfg.APIKey,
		APIVersion:   cfg.APIVersion,
		Model:        cfg.Model,
		Temperature:  cfg.Temperature,
		Timeout:      cfg.Timeout(),
		MaxRetries:   cfg.MaxRetries,
		ExtraHeaders: cfg.Headers,
		Limiter:      newLimiter(cfg.RequestsPerMinute),
	}
	enabled := strings.TrimSpace(cfg.APIKey) != ""
	if !enabled {
		logger.Warnf("未配置 ai.api_key，模型 %s 已禁用", id)
	}
	p := NewOpenAIModelProvider(id, enabled, client)
	p.SetBreaker(circuit.NewCircuitBreaker(id, cfg.BreakerThreshold, cfg.BreakerCooldown()))
	return p
}

func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	every := time.Minute / time.Duration(perMinute)
	return rate.NewLimiter(rate.Every(every), 1)
}
