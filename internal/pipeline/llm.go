package pipeline

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"docagent/internal/document"
	"docagent/internal/gateway/provider"
	"docagent/internal/prompt"
	"docagent/internal/types"
)

// Input 是分类/抽取阶段看到的文档内容。
type Input struct {
	Filename    string
	ContentType string
	Content     []byte
}

type Classifier interface {
	Classify(ctx context.Context, in Input) (document.Classification, error)
}

type Extractor interface {
	Extract(ctx context.Context, docType types.DocumentType, in Input) (map[string]any, error)
}

// LLMClassifier 通过模型判断文档类型。
type LLMClassifier struct {
	Provider provider.ModelProvider
	MaxChars int
}

func (c *LLMClassifier) Classify(ctx context.Context, in Input) (document.Classification, error) {
	if c.Provider == nil || !c.Provider.Enabled() {
		return document.Classification{}, fmt.Errorf("no enabled model provider")
	}
	user := prompt.BuildClassification(prompt.ClassificationInput{
		Filename:    in.Filename,
		ContentType: in.ContentType,
		Text:        documentText(in.Content, c.MaxChars),
	})
	raw, err := c.Provider.Call(ctx, provider.ChatPayload{
		Stage:      "classify",
		System:     prompt.ClassificationSystem,
		User:       user,
		ExpectJSON: true,
		MaxTokens:  200,
	})
	if err != nil {
		return document.Classification{}, err
	}
	return document.ParseClassification(raw), nil
}

// LLMExtractor 按类型 schema 让模型抽取结构化数据。
type LLMExtractor struct {
	Provider provider.ModelProvider
	Schemas  *document.SchemaRegistry
	MaxChars int
}

func (e *LLMExtractor) Extract(ctx context.Context, docType types.DocumentType, in Input) (map[string]any, error) {
	if e.Provider == nil || !e.Provider.Enabled() {
		return nil, fmt.Errorf("no enabled model provider")
	}
	var tpl document.SchemaTemplate
	if e.Schemas != nil {
		tpl, _ = e.Schemas.Template(docType)
	}
	user := prompt.BuildExtraction(prompt.ExtractionInput{
		DocumentType: docType,
		Filename:     in.Filename,
		Hint:         tpl.PromptHint,
		Schema:       tpl.Schema,
		Text:         documentText(in.Content, e.MaxChars),
	})
	raw, err := e.Provider.Call(ctx, provider.ChatPayload{
		Stage:      "extract",
		System:     prompt.ExtractionSystem(docType),
		User:       user,
		ExpectJSON: true,
	})
	if err != nil {
		return nil, err
	}
	data, err := document.DecodeObject(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s extraction: %w", docType, err)
	}
	return data, nil
}

// documentText 返回可送入模型的文本：UTF-8 文本原样使用，二进制内容只保留可打印片段。
func documentText(content []byte, maxChars int) string {
	var text string
	if utf8.Valid(content) {
		text = string(content)
	} else {
		text = printableRuns(content, 4)
	}
	text = strings.TrimSpace(text)
	if maxChars > 0 && utf8.RuneCountInString(text) > maxChars {
		runes := []rune(text)
		text = string(runes[:maxChars])
	}
	return text
}

func printableRuns(content []byte, minLen int) string {
	var (
		out strings.Builder
		run []byte
	)
	flush := func() {
		if len(run) >= minLen {
			if out.Len() > 0 {
				out.WriteByte(' ')
			}
			out.Write(run)
		}
		run = run[:0]
	}
	for _, b := range content {
		if b < utf8.RuneSelf && (unicode.IsPrint(rune(b)) || b == '\t') {
			run = append(run, b)
			continue
		}
		flush()
	}
	flush()
	return out.String()
}
