package app

import (
	"context"
	"fmt"
	"io"

	"docagent/internal/agui"
	"docagent/internal/config"
	"docagent/internal/document"
	"docagent/internal/gateway/provider"
	"docagent/internal/logger"
	"docagent/internal/pipeline"
	"docagent/internal/store/auditlog"
	"docagent/internal/store/blob"
	"docagent/internal/store/gormstore"
	apihttp "docagent/internal/transport/http/api"
)

type AppBuilder struct {
	cfg *config.Config

	documentStoreFn func(string) (*gormstore.GormStore, error)
	auditStoreFn    func(string) (*auditlog.AuditLogStore, error)
	blobStoreFn     func(string) (*blob.LocalStore, error)
	schemasFn       func(config.DocumentConfig) (*document.SchemaRegistry, error)
	modelProviderFn func(config.AIConfig) provider.ModelProvider
}

type AppBuilderOption func(*AppBuilder)

// WithModelProvider 替换默认的 OpenAI 兼容 provider（测试或离线运行）。
func WithModelProvider(p provider.ModelProvider) AppBuilderOption {
	return func(b *AppBuilder) {
		b.modelProviderFn = func(config.AIConfig) provider.ModelProvider { return p }
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:             cfg,
		documentStoreFn: gormstore.NewGormStore,
		auditStoreFn:    auditlog.NewAuditLogStore,
		blobStoreFn:     blob.NewLocalStore,
		schemasFn:       loadSchemas,
		modelProviderFn: buildModelProvider,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func loadSchemas(cfg config.DocumentConfig) (*document.SchemaRegistry, error) {
	return document.NewSchemaRegistry(cfg.SchemasPath, cfg.WatchSchemas)
}

func buildModelProvider(cfg config.AIConfig) provider.ModelProvider {
	return provider.BuildProviderFromConfig(cfg)
}

func (b *AppBuilder) Build(ctx context.Context) (app *App, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg

	var closers []io.Closer
	defer func() {
		if err == nil {
			return
		}
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	docs, err := b.documentStoreFn(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("初始化文档库失败: %w", err)
	}
	closers = append(closers, docs)
	logger.Infof("✓ 文档库: %s", cfg.Storage.DatabasePath)

	audit, err := b.auditStoreFn(cfg.Storage.AuditLogPath)
	if err != nil {
		return nil, fmt.Errorf("初始化审计日志失败: %w", err)
	}
	closers = append(closers, audit)

	blobs, err := b.blobStoreFn(cfg.Storage.BlobDir)
	if err != nil {
		return nil, fmt.Errorf("初始化上传目录失败: %w", err)
	}

	schemas, err := b.schemasFn(cfg.Document)
	if err != nil {
		return nil, fmt.Errorf("加载抽取 schema 失败: %w", err)
	}

	model := b.modelProviderFn(cfg.AI)

	sessions := agui.NewRegistry(agui.RegistryConfig{
		IdleTTL:       cfg.AGUI.IdleTTL(),
		SweepInterval: cfg.AGUI.SweepInterval(),
		Observer:      audit,
	})

	proc := pipeline.NewProcessor(pipeline.Deps{
		Documents:  docs,
		Results:    docs,
		Blobs:      blobs,
		Sessions:   sessions,
		Schemas:    schemas,
		Classifier: &pipeline.LLMClassifier{Provider: model, MaxChars: cfg.AI.MaxDocumentChars},
		Extractor:  &pipeline.LLMExtractor{Provider: model, Schemas: schemas, MaxChars: cfg.AI.MaxDocumentChars},
	})

	server, err := apihttp.NewServer(apihttp.ServerConfig{
		Addr: cfg.App.HTTPAddr,
		Router: &apihttp.Router{
			Processor: proc,
			Documents: docs,
			Results:   docs,
			Blobs:     blobs,
			Sessions:  sessions,
			Audit:     audit,
			Upload: apihttp.UploadPolicy{
				MaxBytes:          cfg.Upload.MaxBytes(),
				AllowedExtensions: cfg.Upload.AllowedExtensions,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 HTTP 服务失败: %w", err)
	}

	return &App{
		cfg:      cfg,
		server:   server,
		sessions: sessions,
		closers:  closers,
		Summary: &StartupSummary{
			Env:           cfg.App.Env,
			HTTPAddr:      server.Addr(),
			Model:         model.ID(),
			ModelEnabled:  model.Enabled(),
			DatabasePath:  cfg.Storage.DatabasePath,
			AuditLogPath:  cfg.Storage.AuditLogPath,
			BlobDir:       blobs.Root(),
			Upload:        cfg.Upload,
			DocumentTypes: schemas.Types(),
			IdleTTL:       cfg.AGUI.IdleTTL(),
		},
	}, nil
}
