package document

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"docagent/internal/logger"
	"docagent/internal/types"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

//go:embed schemas.yaml
var builtinSchemas []byte

// SchemaTemplate 描述某类文档的抽取结构。
type SchemaTemplate struct {
	Type        types.DocumentType `yaml:"-"`
	Description string             `yaml:"description"`
	Version     int                `yaml:"version"`
	PromptHint  string             `yaml:"prompt_hint"`
	Schema      map[string]any     `yaml:"schema"`

	compiled *jsonschema.Schema
}

type schemaFile struct {
	Schemas map[string]SchemaTemplate `yaml:"schemas"`
}

// SchemaSnapshot 是某一时刻加载的全部模板。
type SchemaSnapshot struct {
	Version   int64
	LoadedAt  time.Time
	Templates map[types.DocumentType]SchemaTemplate
}

// SchemaRegistry 管理各文档类型的 JSON schema，可选监听文件变更热加载。
type SchemaRegistry struct {
	path string

	mu       sync.RWMutex
	snapshot SchemaSnapshot
}

// NewSchemaRegistry loads schemas from path, or the built-in set when path is empty.
func NewSchemaRegistry(path string, watch bool) (*SchemaRegistry, error) {
	r := &SchemaRegistry{path: strings.TrimSpace(path)}
	if err := r.reload(); err != nil {
		return nil, err
	}
	if watch && r.path != "" {
		v := viper.New()
		v.SetConfigFile(r.path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read schema file failed: %w", err)
		}
		v.OnConfigChange(func(evt fsnotify.Event) {
			if err := r.reload(); err != nil {
				logger.Errorf("[schema] reload after %s failed, keeping previous set: %v", evt.Op, err)
			}
		})
		v.WatchConfig()
	}
	return r, nil
}

func (r *SchemaRegistry) Snapshot() SchemaSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := r.snapshot
	out.Templates = make(map[types.DocumentType]SchemaTemplate, len(r.snapshot.Templates))
	for k, v := range r.snapshot.Templates {
		out.Templates[k] = v
	}
	return out
}

func (r *SchemaRegistry) Template(docType types.DocumentType) (SchemaTemplate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tpl, ok := r.snapshot.Templates[docType]
	return tpl, ok
}

// Types returns the configured document types in stable order.
func (r *SchemaRegistry) Types() []types.DocumentType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.DocumentType, 0, len(r.snapshot.Templates))
	for t := range r.snapshot.Templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate 按 schema 把数字字符串转成数字后再校验，返回规范化后的数据。
func (r *SchemaRegistry) Validate(docType types.DocumentType, data map[string]any) (map[string]any, error) {
	tpl, ok := r.Template(docType)
	if !ok {
		return nil, fmt.Errorf("no schema for document type %q", docType)
	}
	return tpl.Validate(data)
}

func (t SchemaTemplate) Validate(data map[string]any) (map[string]any, error) {
	normalized, _ := coerceBySchema(t.Schema, data).(map[string]any)
	if normalized == nil {
		normalized = map[string]any{}
	}
	if t.compiled == nil {
		return normalized, nil
	}
	if err := t.compiled.Validate(normalized); err != nil {
		return normalized, fmt.Errorf("%s schema validation failed: %w", t.Type, err)
	}
	return normalized, nil
}

func (r *SchemaRegistry) reload() error {
	raw := builtinSchemas
	source := "builtin"
	if r.path != "" {
		data, err := os.ReadFile(r.path)
		if err != nil {
			return fmt.Errorf("read schema file failed: %w", err)
		}
		raw = data
		source = filepath.Base(r.path)
	}
	templates, err := parseSchemas(raw)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.snapshot = SchemaSnapshot{
		Version:   r.snapshot.Version + 1,
		LoadedAt:  time.Now(),
		Templates: templates,
	}
	r.mu.Unlock()
	logger.Infof("[schema] loaded %d document schemas from %s", len(templates), source)
	return nil
}

func parseSchemas(raw []byte) (map[types.DocumentType]SchemaTemplate, error) {
	var file schemaFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse schema file failed: %w", err)
	}
	if len(file.Schemas) == 0 {
		return nil, fmt.Errorf("schema file defines no schemas")
	}
	out := make(map[types.DocumentType]SchemaTemplate, len(file.Schemas))
	for name, tpl := range file.Schemas {
		docType := types.ParseDocumentType(name)
		if !docType.Known() {
			return nil, fmt.Errorf("schema %q: unknown document type", name)
		}
		tpl.Type = docType
		if tpl.Version <= 0 {
			tpl.Version = 1
		}
		tpl.Description = strings.TrimSpace(tpl.Description)
		if len(tpl.Schema) > 0 {
			compiled, err := compileSchema(string(docType), tpl.Schema)
			if err != nil {
				return nil, fmt.Errorf("schema %q compile failed: %w", name, err)
			}
			tpl.compiled = compiled
		}
		out[docType] = tpl
	}
	return out, nil
}

func compileSchema(name string, data map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	url := name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}
