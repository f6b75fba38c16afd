package config

import "time"

// Config 是 docagent 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Storage  StorageConfig  `toml:"storage"`
	Upload   UploadConfig   `toml:"upload"`
	AI       AIConfig       `toml:"ai"`
	AGUI     AGUIConfig     `toml:"agui"`
	Document DocumentConfig `toml:"document"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	HTTPAddr  string `toml:"http_addr"`
	LogPath   string `toml:"log_path"`
	LLMLog    string `toml:"llm_log_path"`
	LLMDump   bool   `toml:"llm_dump_payload"`
}

// StorageConfig 指定本地持久化位置（文档库、审计日志、上传文件目录）。
type StorageConfig struct {
	DatabasePath string `toml:"database_path"`
	AuditLogPath string `toml:"audit_log_path"`
	BlobDir      string `toml:"blob_dir"`
}

type UploadConfig struct {
	MaxFileSizeMB     int      `toml:"max_file_size_mb"`
	AllowedExtensions []string `toml:"allowed_extensions"`
}

// MaxBytes 返回上传大小上限（字节）。
func (u UploadConfig) MaxBytes() int64 {
	return int64(u.MaxFileSizeMB) * 1024 * 1024
}

// AIConfig 描述分类/抽取所用的 OpenAI 兼容接口。APIVersion 非空时按 Azure OpenAI 方式调用。
type AIConfig struct {
	Provider          string            `toml:"provider"`
	APIURL            string            `toml:"api_url"`
	APIKey            string            `toml:"api_key"`
	APIVersion        string            `toml:"api_version"`
	Model             string            `toml:"model"`
	Headers           map[string]string `toml:"headers"`
	Temperature       float64           `toml:"temperature"`
	TimeoutSeconds    int               `toml:"timeout_seconds"`
	MaxRetries        int               `toml:"max_retries"`
	RequestsPerMinute int               `toml:"requests_per_minute"`
	MaxDocumentChars  int               `toml:"max_document_chars"`
	// 连续失败 breaker_threshold 次后熔断 breaker_cooldown_seconds 秒；0 关闭熔断。
	BreakerThreshold       int `toml:"breaker_threshold"`
	BreakerCooldownSeconds int `toml:"breaker_cooldown_seconds"`
}

func (a AIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

func (a AIConfig) BreakerCooldown() time.Duration {
	return time.Duration(a.BreakerCooldownSeconds) * time.Second
}

// AGUIConfig 控制会话空闲回收；idle_ttl_seconds 为 0 时仅显式关闭。
type AGUIConfig struct {
	IdleTTLSeconds       int `toml:"idle_ttl_seconds"`
	SweepIntervalSeconds int `toml:"sweep_interval_seconds"`
}

func (a AGUIConfig) IdleTTL() time.Duration {
	return time.Duration(a.IdleTTLSeconds) * time.Second
}

func (a AGUIConfig) SweepInterval() time.Duration {
	return time.Duration(a.SweepIntervalSeconds) * time.Second
}

// DocumentConfig 指向抽取 schema 文件；为空时使用内置 schema。
type DocumentConfig struct {
	SchemasPath  string `toml:"schemas_path"`
	WatchSchemas bool   `toml:"watch_schemas"`
}
