// server/server.go
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/chhz0/webauto/browser"
	"github.com/chhz0/webauto/config"
	"github.com/chhz0/webauto/core"
	"github.com/chhz0/webauto/middleware"
	"github.com/chhz0/webauto/retry"
	"github.com/chhz0/webauto/storage"
	"github.com/chhz0/webauto/transport"
	"github.com/chhz0/webauto/types"
)

// Server 把存储、队列、调度器、worker 池和 HTTP API 组装成一个进程
type Server struct {
	cfg        *config.Config
	store      storage.Storage
	broker     core.Broker
	scheduler  *core.Scheduler
	workerPool *core.WorkerPool
	events     transport.Transport
	httpServer *http.Server
	log        *logrus.Entry
}

func New(cfg *config.Config, log *logrus.Entry) (*Server, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	store, err := storage.Open(storage.Options{
		Backend:   cfg.Storage,
		Path:      cfg.DBPath,
		RedisAddr: cfg.RedisAddr,
		RedisPass: cfg.RedisPassword,
		RedisDB:   cfg.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	// redis 部署下事件走 pub/sub，看板可以挂在别的进程;
	// 其余后端用进程内总线
	var events transport.Transport
	if cfg.Storage == "redis" {
		events, err = transport.NewRedisTransport(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("connect redis transport: %w", err)
		}
	} else {
		events = transport.NewInProcBus()
	}

	broker, err := core.NewQueueBroker(store, cfg.QueueSize)
	if err != nil {
		events.Close()
		store.Close()
		return nil, err
	}

	scheduler := core.NewScheduler(store, broker, core.SchedulerOptions{
		MaxRetries: cfg.MaxRetries,
		Events:     events,
		Log:        log.WithField("component", "scheduler"),
	})

	executor := browser.NewExecutor(browser.Options{
		Headless:  cfg.HeadlessMode,
		Timeout:   cfg.Timeout(),
		UserAgent: cfg.UserAgent,
		ExecPath:  cfg.ChromePath,
	}, log.WithField("component", "browser"))

	registry := core.NewTaskRegistry()
	chain := middleware.Chain(
		middleware.Recovery(log),
		middleware.Logger(log.WithField("component", "worker")),
		middleware.TaskLog(store),
		middleware.Metrics(),
	)
	handler := core.TaskHandler(chain(executor.Execute))
	for _, taskType := range []types.TaskType{
		types.TypeFormFill, types.TypeExtract, types.TypeClick, types.TypeUpload,
	} {
		registry.Register(taskType, handler)
	}

	workerPool := core.NewWorkerPool(broker, registry, core.PoolOptions{
		Workers:        cfg.Workers,
		DefaultTimeout: cfg.Timeout(),
		Events:         events,
		Webhooks:       transport.NewWebhookNotifier(cfg.Timeout(), log.WithField("component", "webhook")),
		Retry:          retry.NewRetryManager(retry.DefaultPolicy()),
		OnTerminal:     scheduler.RearmNext,
		Log:            log.WithField("component", "worker"),
	})

	s := &Server{
		cfg:        cfg,
		store:      store,
		broker:     broker,
		scheduler:  scheduler,
		workerPool: workerPool,
		events:     events,
		log:        log,
	}
	s.httpServer = &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: s.router(),
	}
	return s, nil
}

func (s *Server) router() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())

	h := &apiHandler{scheduler: s.scheduler, events: s.events, log: s.log}
	engine.GET("/health", h.health)

	v1 := engine.Group("/api/v1")
	{
		v1.POST("/tasks", h.createTask)
		v1.GET("/tasks", h.listTasks)
		v1.DELETE("/tasks", h.clearTasks)
		v1.GET("/tasks/export", h.exportTasks)
		v1.GET("/tasks/:id", h.getTask)
		v1.GET("/tasks/:id/logs", h.taskLogs)
		v1.POST("/tasks/:id/cancel", h.cancelTask)
		v1.POST("/tasks/:id/retry", h.retryTask)
		v1.GET("/stats", h.stats)
		v1.GET("/events", h.eventsFeed)
	}
	return engine
}

// Start 启动全部组件并阻塞到收到 SIGINT/SIGTERM，
// 退出前等在跑的任务收尾
func (s *Server) Start() error {
	s.workerPool.Start()
	s.scheduler.Start()

	serverErr := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.cfg.HTTPAddr).Info("http server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		s.shutdown()
		return err
	case sig := <-quit:
		s.log.WithField("signal", sig.String()).Info("shutting down")
		return s.shutdown()
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.scheduler.Stop()
	// 池子停止会连带关掉 broker 和存储
	s.workerPool.Stop()
	s.events.Close()
	return err
}
