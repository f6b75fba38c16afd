package app

import (
	"fmt"
	"strings"
	"time"

	"docagent/internal/config"
	"docagent/internal/types"
)

type StartupSummary struct {
	Env           string
	HTTPAddr      string
	Model         string
	ModelEnabled  bool
	DatabasePath  string
	AuditLogPath  string
	BlobDir       string
	Upload        config.UploadConfig
	DocumentTypes []types.DocumentType
	IdleTTL       time.Duration
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[服务 (SERVICE)]")
	fmt.Printf("  环境: %s\n", s.Env)
	fmt.Printf("  监听: %s\n", s.HTTPAddr)
	fmt.Println()

	fmt.Println("[模型 (MODEL)]")
	status := "已启用"
	if !s.ModelEnabled {
		status = "未启用（缺少 api_key）"
	}
	fmt.Printf("  %s: %s\n", s.Model, status)
	fmt.Println()

	fmt.Println("[存储 (STORAGE)]")
	fmt.Printf("  文档库: %s\n", s.DatabasePath)
	fmt.Printf("  审计日志: %s\n", s.AuditLogPath)
	fmt.Printf("  上传目录: %s\n", s.BlobDir)
	fmt.Printf("  上传限制: %d MB, %s\n", s.Upload.MaxFileSizeMB, formatList(s.Upload.AllowedExtensions))
	fmt.Println()

	fmt.Println("[文档类型 (DOCUMENT TYPES)]")
	names := make([]string, 0, len(s.DocumentTypes))
	for _, t := range s.DocumentTypes {
		names = append(names, string(t))
	}
	fmt.Printf("  %s\n", formatList(names))
	if s.IdleTTL > 0 {
		fmt.Printf("  会话空闲回收: %s\n", s.IdleTTL)
	} else {
		fmt.Println("  会话空闲回收: 关闭")
	}
	fmt.Println(strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
