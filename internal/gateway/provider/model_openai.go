package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"docagent/internal/logger"
	"docagent/internal/pkg/circuit"

	"golang.org/x/time/rate"
)

// OpenAIChatClient 调用 OpenAI 兼容的 /chat/completions 接口。
// APIVersion 非空时按 Azure OpenAI 部署方式调用（api-key 头 + api-version 参数）。
type OpenAIChatClient struct {
	BaseURL      string
	APIKey       string
	APIVersion   string
	Model        string
	Temperature  float64
	Timeout      time.Duration
	MaxRetries   int
	ExtraHeaders map[string]string
	// Limiter 为 nil 时不限速。
	Limiter *rate.Limiter
	// HTTPClient 为 nil 时按 Timeout 新建。
	HTTPClient *http.Client

	// sleep 用于重试等待，测试中可替换。
	sleep func(ctx context.Context, d time.Duration) error
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model,omitempty"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// StatusError 是非 2xx 的接口响应。
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status=%d: %s", e.StatusCode, e.Message)
}

func retryable(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (c *OpenAIChatClient) endpoint() string {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	// 用户把完整的 /chat/completions 写进配置时避免重复路径
	base = strings.TrimSuffix(base, "/chat/completions")
	endpoint := base + "/chat/completions"
	if v := strings.TrimSpace(c.APIVersion); v != "" {
		endpoint += "?api-version=" + url.QueryEscape(v)
	}
	return endpoint
}

func (c *OpenAIChatClient) azure() bool {
	return strings.TrimSpace(c.APIVersion) != ""
}

func (c *OpenAIChatClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		if c.azure() {
			req.Header.Set("api-key", c.APIKey)
		} else {
			req.Header.Set("Authorization", "Bearer "+c.APIKey)
		}
	}
	for k, v := range c.ExtraHeaders {
		req.Header.Set(k, v)
	}
}

// maskedHeaders 返回用于日志的请求头，敏感值只保留后 4 位。
func (c *OpenAIChatClient) maskedHeaders() map[string]string {
	out := map[string]string{"Content-Type": "application/json"}
	if c.APIKey != "" {
		name := "Authorization"
		if c.azure() {
			name = "api-key"
		}
		out[name] = mask(c.APIKey)
	}
	for k, v := range c.ExtraHeaders {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "key") || strings.Contains(lk, "token") || strings.Contains(lk, "auth") {
			v = mask(v)
		}
		out[k] = v
	}
	return out
}

func mask(v string) string {
	if len(v) > 4 {
		return "****" + v[len(v)-4:]
	}
	return "****"
}

// Complete 发送一次聊天补全请求，对 429/5xx 做有限重试并遵循 Retry-After。
func (c *OpenAIChatClient) Complete(ctx context.Context, payload ChatPayload) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxRetries := c.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	httpc := c.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: timeout}
	}
	sleep := c.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	messages := make([]chatMessage, 0, 2)
	if payload.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: payload.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: payload.User})
	body := chatRequest{
		Model:       c.Model,
		Messages:    messages,
		Temperature: c.Temperature,
		MaxTokens:   payload.MaxTokens,
	}
	if payload.ExpectJSON {
		body.ResponseFormat = map[string]string{"type": "json_object"}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	endpoint := c.endpoint()
	logger.Debugf("[AI] 请求: POST %s, headers=%v, stage=%s", endpoint, c.maskedHeaders(), payload.Stage)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return "", err
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
		if err != nil {
			return "", err
		}
		c.setHeaders(req)

		resp, err := httpc.Do(req)
		if err != nil {
			return "", err
		}
		if resp.StatusCode/100 == 2 {
			var r chatResponse
			derr := json.NewDecoder(resp.Body).Decode(&r)
			resp.Body.Close()
			if derr != nil {
				return "", fmt.Errorf("decode chat response: %w", derr)
			}
			if len(r.Choices) == 0 {
				return "", fmt.Errorf("empty choices")
			}
			return r.Choices[0].Message.Content, nil
		}

		var eresp chatError
		_ = json.NewDecoder(resp.Body).Decode(&eresp)
		resp.Body.Close()
		msg := strings.TrimSpace(eresp.Error.Message)
		if msg == "" {
			msg = resp.Status
		}
		lastErr = &StatusError{StatusCode: resp.StatusCode, Message: msg}
		if !retryable(resp.StatusCode) || attempt == maxRetries {
			break
		}
		wait := retryAfter(resp.Header.Get("Retry-After"))
		if wait == 0 {
			// 0.8s, 1.6s, 3.2s ...
			wait = (800 * time.Millisecond) << attempt
			if wait > 8*time.Second {
				wait = 8 * time.Second
			}
		}
		logger.Warnf("[AI] %s 第 %d 次重试，等待 %s: %v", payload.Stage, attempt+1, wait, lastErr)
		if err := sleep(ctx, wait); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

func retryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// OpenAIModelProvider 把 OpenAIChatClient 包装为 ModelProvider，并记录 LLM 交互转储。
type OpenAIModelProvider struct {
	id      string
	enabled bool
	client  interface {
		Complete(ctx context.Context, payload ChatPayload) (string, error)
	}
	breaker *circuit.CircuitBreaker
}

func NewOpenAIModelProvider(id string, enabled bool, client interface {
	Complete(context.Context, ChatPayload) (string, error)
}) *OpenAIModelProvider {
	return &OpenAIModelProvider{id: id, enabled: enabled, client: client}
}

// SetBreaker 为 provider 挂上熔断器；nil 表示不熔断。
func (p *OpenAIModelProvider) SetBreaker(cb *circuit.CircuitBreaker) {
	p.breaker = cb
}

func (p *OpenAIModelProvider) ID() string    { return p.id }
func (p *OpenAIModelProvider) Enabled() bool { return p.enabled }

func (p *OpenAIModelProvider) Call(ctx context.Context, payload ChatPayload) (string, error) {
	if !p.enabled {
		return "", fmt.Errorf("model provider %s is disabled", p.id)
	}
	if !p.breaker.Allow() {
		return "", fmt.Errorf("model provider %s: %w", p.id, circuit.ErrOpen)
	}
	logger.LogLLMRequest(p.id, payload.Stage, payload.System, payload.User, "")
	start := time.Now()
	out, err := p.client.Complete(ctx, payload)
	p.observe(err)
	if err != nil {
		logger.Warnf("[AI] %s %s 调用失败 (%s): %v", p.id, payload.Stage, time.Since(start).Truncate(time.Millisecond), err)
		return "", err
	}
	logger.LogLLMResponse(p.id, payload.Stage, out)
	logger.Debugf("[AI] %s %s 完成，耗时 %s", p.id, payload.Stage, time.Since(start).Truncate(time.Millisecond))
	return out, nil
}

// observe 只把上游不可用计为失败；4xx 说明服务可达。
func (p *OpenAIModelProvider) observe(err error) {
	if err == nil {
		p.breaker.RecordSuccess()
		return
	}
	var se *StatusError
	if errors.As(err, &se) && !retryable(se.StatusCode) {
		p.breaker.RecordSuccess()
		return
	}
	p.breaker.RecordFailure()
}
