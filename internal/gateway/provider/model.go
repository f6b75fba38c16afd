package provider

import "context"

// ChatPayload 是一次模型调用的输入。Stage 只用于日志标注（classify / extract）。
type ChatPayload struct {
	Stage      string
	System     string
	User       string
	ExpectJSON bool
	MaxTokens  int
}

type ModelProvider interface {
	ID() string
	Enabled() bool

	Call(ctx context.Context, payload ChatPayload) (string, error)
}
