package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"docagent/internal/agui"
	"docagent/internal/config"
	"docagent/internal/logger"
	apihttp "docagent/internal/transport/http/api"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动 HTTP 服务与会话回收。
type App struct {
	cfg      *config.Config
	server   *apihttp.Server
	sessions *agui.Registry
	closers  []io.Closer
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动 HTTP 服务与空闲会话回收，直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.server == nil {
		return fmt.Errorf("http server not initialized")
	}
	defer a.Close()

	if a.Summary != nil {
		a.Summary.Print()
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	if a.sessions != nil {
		group.Go(func() error {
			return a.sessions.RunSweeper(ctx)
		})
	}
	return group.Wait()
}

// Close 按构建的逆序释放存储资源。
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Server exposes the HTTP server (for tests).
func (a *App) Server() *apihttp.Server {
	if a == nil {
		return nil
	}
	return a.server
}
