package logger

import (
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

var (
	llmMu          sync.Mutex
	llmLog         *log.Logger
	llmDumpPayload bool
)

// InitLLMLog 打开 LLM 交互转储文件；path 为空时关闭转储。
func InitLLMLog(path string, dumpPayload bool) (*os.File, error) {
	llmMu.Lock()
	llmDumpPayload = dumpPayload
	llmMu.Unlock()
	path = strings.TrimSpace(path)
	if path == "" {
		SetLLMWriter(nil)
		return nil, nil
	}
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	SetLLMWriter(f)
	return f, nil
}

func SetLLMWriter(w io.Writer) {
	llmMu.Lock()
	defer llmMu.Unlock()
	if w == nil {
		llmLog = nil
		return
	}
	llmLog = log.New(w, "", log.LstdFlags)
}

// LogLLMRequest dumps the prompts sent for one pipeline stage (classify / extract).
func LogLLMRequest(provider, stage, systemPrompt, userPrompt, payload string) {
	sections := [][2]string{{"SYSTEM", systemPrompt}, {"USER", userPrompt}}
	llmMu.Lock()
	dump := llmDumpPayload
	llmMu.Unlock()
	if dump && strings.TrimSpace(payload) != "" {
		sections = append(sections, [2]string{"PAYLOAD", payload})
	}
	writeLLM("request", provider, stage, sections)
}

func LogLLMResponse(provider, stage, raw string) {
	writeLLM("response", provider, stage, [][2]string{{"RAW", raw}})
}

func writeLLM(kind, provider, stage string, sections [][2]string) {
	llmMu.Lock()
	out := llmLog
	llmMu.Unlock()
	if out == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[LLM][" + kind + "]")
	if provider != "" {
		b.WriteString("[" + provider + "]")
	}
	if stage != "" {
		b.WriteString("[" + stage + "]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		b.WriteString("--- " + sec[0] + " ---\n")
		b.WriteString(sec[1])
		if !strings.HasSuffix(sec[1], "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	out.Print(b.String())
}
