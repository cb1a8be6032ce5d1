package main

import (
	"fmt"
	"net/http"

	"starbench/app/handler"
	"starbench/app/router"
	"starbench/internal/service"
	"starbench/pkg/config"
	"starbench/pkg/logger"
	"starbench/pkg/notification"
	"starbench/pkg/pool"
	"starbench/pkg/spawner"
	mysqlstore "starbench/pkg/store/mysql"
	redisstore "starbench/pkg/store/redis"
	"starbench/pkg/transport"

	"github.com/gin-gonic/gin"
)

// initConfig initializes configuration
func (app *Application) initConfig() error {
	if err := config.Init(); err != nil {
		return err
	}
	app.config = config.GlobalConfig
	return nil
}

// initLogger initializes logging
func (app *Application) initLogger() error {
	if err := logger.Init(); err != nil {
		return err
	}
	app.registerCleanup(func() {
		logger.Sync()
	})
	return nil
}

// initRedis initializes Redis. Optional: without it the manager still
// runs, but sessions do not survive a restart.
func (app *Application) initRedis() error {
	if app.config.Redis.Addr == "" {
		logger.WarnCtx(app.ctx, "Redis not configured, restart recovery disabled")
		return nil
	}

	client, err := redisstore.NewRedisClient(app.config)
	if err != nil {
		return err
	}

	app.redisClient = client
	app.registerCleanup(func() {
		client.Close()
		logger.InfoCtx(app.ctx, "Redis connection has been closed")
	})

	return nil
}

// initMySQL initializes MySQL. Optional: without it the audit log and
// session archive are disabled.
func (app *Application) initMySQL() error {
	if app.config.MySQL.Host == "" {
		logger.WarnCtx(app.ctx, "MySQL not configured, audit log disabled")
		return nil
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		app.config.MySQL.User,
		app.config.MySQL.Password,
		app.config.MySQL.Host,
		app.config.MySQL.Port,
		app.config.MySQL.Database,
	)

	repo, err := mysqlstore.NewRepository(dsn)
	if err != nil {
		return err
	}

	app.mysqlRepo = repo
	app.registerCleanup(func() {
		repo.Close()
		logger.InfoCtx(app.ctx, "MySQL connection has been closed")
	})

	return nil
}

// initPool initializes the worker pool and transport dialer
func (app *Application) initPool() error {
	app.pool = pool.New(pool.Config{
		SuspectThreshold: app.config.Pool.SuspectThreshold,
		DeadThreshold:    app.config.Pool.DeadThreshold,
		DefaultCapacity:  app.config.Pool.DefaultCapacity,
	}, pool.LeastLoaded{})
	app.dialer = transport.NewWSDialer()
	return nil
}

// initServices initializes the service layer
func (app *Application) initServices() error {
	managerCfg := service.ManagerConfig{
		IdleTimeout:    app.config.Session.IdleDuration(),
		ExpireTimeout:  app.config.Session.ExpireDuration(),
		ReuseGrace:     app.config.Session.ReuseGraceDuration(),
		MaxQueueDepth:  app.config.Session.MaxQueueDepth,
		RequestTimeout: app.config.Dispatch.RequestDuration(),
	}

	app.sessionManager = service.NewSessionManager(managerCfg, app.pool, app.dialer, nil)
	app.workerService = service.NewWorkerService(app.pool, app.sessionManager)

	if app.redisClient != nil {
		app.sessionManager.SetSessionRepository(redisstore.NewSessionRepository(app.redisClient))
		app.workerService.SetWorkerRepository(redisstore.NewWorkerRepository(app.redisClient))
	}
	if app.mysqlRepo != nil {
		app.sessionManager.SetAuditor(service.NewMySQLAuditor(app.mysqlRepo))
	}
	// No-op until a webhook is configured.
	app.workerService.SetNotifier(notification.NewFeishuNotifier())

	return nil
}

// initRecovery rebuilds the worker pool and session table after a restart
func (app *Application) initRecovery() error {
	if app.redisClient == nil {
		return nil
	}
	// Workers first: session recovery checks pool membership to decide
	// which sessions come back DETACHED.
	if err := app.workerService.Recover(app.ctx); err != nil {
		return err
	}
	return app.sessionManager.Recover(app.ctx)
}

// initSpawner launches local worker processes when configured
func (app *Application) initSpawner() error {
	if !app.config.Spawner.Enabled {
		return nil
	}

	sp, err := spawner.New(spawner.Config{
		Command:   app.config.Spawner.Command,
		PortStart: app.config.Spawner.PortStart,
		PortEnd:   app.config.Spawner.PortEnd,
	})
	if err != nil {
		return err
	}
	app.spawner = sp

	for i := 0; i < app.config.Spawner.Prewarm; i++ {
		proc, err := sp.Launch(app.ctx)
		if err != nil {
			return fmt.Errorf("failed to prewarm worker %d: %w", i, err)
		}
		logger.InfoCtx(app.ctx, "prewarmed local worker, port: %d, pid: %d", proc.Port, proc.PID())
	}
	return nil
}

// initHandlers initializes handler layer
func (app *Application) initHandlers() error {
	app.sessionHandler = handler.NewSessionHandler(app.sessionManager)
	app.workerHandler = handler.NewWorkerHandler(app.workerService)
	return nil
}

// initHTTPServer initializes HTTP server
func (app *Application) initHTTPServer() error {
	r := router.NewRouter(app.sessionHandler, app.workerHandler)

	// Set Gin mode
	gin.SetMode(app.config.Server.Mode)

	app.ginEngine = gin.New()
	r.Setup(app.ginEngine)

	app.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", app.config.Server.Port),
		Handler: app.ginEngine,
	}

	return nil
}
