// qio-chat 多进程聊天示例：客户端加入房间后，消息发送到其所在的所有房间，
// 房间成员可以连接在任意一个进程上。
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tokmz/qio/pkg/adapter"
	"github.com/tokmz/qio/pkg/config"
	"github.com/tokmz/qio/pkg/errors"
	"github.com/tokmz/qio/pkg/logger"
	"github.com/tokmz/qio/pkg/socket"
	"github.com/tokmz/qio/pkg/tracing"
)

func main() {
	configPath := flag.String("config", "", "config file path")
	dump := flag.Bool("dump-config", false, "print the effective config and exit")
	flag.Parse()

	if err := run(*configPath, *dump); err != nil {
		log.Fatal(err)
	}
}

func run(configPath string, dump bool) error {
	var (
		appLog logger.Logger
		cfg    *config.Config
		app    *AppConfig
		err    error
	)

	// 回调只在 StartWatch 之后触发，此时 cfg 与 appLog 均已就绪
	cfg, app, err = loadConfig(configPath, func(fsnotify.Event) {
		reloadLogLevel(appLog, cfg.GetString("log.level"))
	})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defer cfg.Close()

	if dump {
		return dumpConfig(os.Stdout, app)
	}

	appLog, err = app.Log.Logger()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = appLog.Sync() }()

	// 日志级别热更新
	if cfg.ConfigFileUsed() != "" {
		cfg.StartWatch()
	}

	if _, err := tracing.NewTracerProvider(app.Tracing); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(ctx)
	}()

	srv, err := newSocketServer(app, appLog)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start socket server: %w", err)
	}

	gin.SetMode(app.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(tracing.Middleware(func(c *gin.Context) bool {
		return c.Request.URL.Path == "/healthz"
	}))
	r.Use(logger.GinMiddleware(appLog.Named("http")))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"node":        srv.Node(),
			"connections": srv.ConnectionCount(),
			"rooms":       srv.Rooms(),
		})
	})
	r.GET(app.Server.Path, func(c *gin.Context) {
		if err := srv.HandleUpgrade(c.Writer, c.Request); err != nil {
			_ = c.Error(err)
		}
	})
	if app.Server.StaticDir != "" {
		if _, err := os.Stat(app.Server.StaticDir); err == nil {
			r.Static("/static", app.Server.StaticDir)
			r.StaticFile("/", app.Server.StaticDir+"/index.html")
		}
	}

	httpServer := &http.Server{
		Addr:              app.Server.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("listening", zap.String("addr", httpServer.Addr), zap.String("path", app.Server.Path))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			appLog.Error("http server failed", zap.Error(err))
		}
	}

	appLog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Server.ShutdownTimeout)
	defer cancel()

	// 先停止接受新连接，再断开现有连接并发布最终离开消息
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLog.Warn("http shutdown", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Warn("socket shutdown", zap.Error(err))
	}
	return nil
}

// newSocketServer 按配置创建服务，driver 为 none 时以单进程模式运行
func newSocketServer(app *AppConfig, l logger.Logger) (*socket.Server, error) {
	opts := append(app.Socket.Options(), socket.WithLogger(l))

	if app.Adapter.Driver != adapter.DriverNone {
		transport, err := adapter.NewTransport(app.Adapter)
		if err != nil {
			return nil, fmt.Errorf("create %s transport: %w", app.Adapter.Driver, err)
		}
		a, err := adapter.New(transport, append(app.Adapter.Options(), adapter.WithLogger(l))...)
		if err != nil {
			_ = transport.Close()
			return nil, fmt.Errorf("create adapter: %w", err)
		}
		opts = append(opts, socket.WithAdapter(a))
	}

	srv, err := socket.NewServer(opts...)
	if err != nil {
		return nil, err
	}
	srv.Use(socket.TracingMiddleware())
	srv.OnConnection(registerChatHandlers)
	return srv, nil
}

// registerChatHandlers 连接回调：加入房间与房间内聊天
func registerChatHandlers(s *socket.Socket) error {
	if err := s.On("join room", socket.Handle(func(s *socket.Socket, room string) error {
		return s.Join(room)
	})); err != nil {
		return err
	}

	return s.On("chat message", socket.Handle(func(s *socket.Socket, msg string) error {
		var errs []error
		for _, room := range s.Rooms() {
			if err := s.EmitTo(room, "chat message", msg); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}))
}

// reloadLogLevel 配置文件变更后更新日志级别
func reloadLogLevel(l logger.Logger, level string) {
	if l == nil {
		return
	}
	lvl, err := logger.ParseLevel(level)
	if err != nil {
		l.Warn("ignore invalid log level", zap.String("level", level), zap.Error(err))
		return
	}
	if lvl != l.Level() {
		l.SetLevel(lvl)
		l.Info("log level changed", zap.String("level", lvl.String()))
	}
}
