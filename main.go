package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/etag"
	"github.com/gofiber/utils"
	"go.uber.org/zap"

	"tuitionpay_backend/internals/bootstrap"
	"tuitionpay_backend/internals/configs"
	database "tuitionpay_backend/internals/databases"
	helper "tuitionpay_backend/internals/helpers"
	"tuitionpay_backend/internals/middlewares"
	accessLog "tuitionpay_backend/internals/middlewares/logger"
	routes "tuitionpay_backend/internals/route"
)

// handlerTimeout bounds ordinary requests; backfill jobs set their own.
const handlerTimeout = 15 * time.Second

func main() {
	cfg := configs.LoadEnv()
	log := configs.NewLogger(cfg.Env)
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		if cfg.IsProduction() {
			log.Fatal("invalid configuration", zap.Error(err))
		}
		log.Warn("incomplete configuration", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		JSONEncoder:             sonic.Marshal,
		JSONDecoder:             sonic.Unmarshal,
		DisableStartupMessage:   true,
		ProxyHeader:             fiber.HeaderXForwardedFor,
		EnableTrustedProxyCheck: true,
		TrustedProxies:          []string{"0.0.0.0/0"},
		ErrorHandler:            helper.ErrorHandler(log),
		BodyLimit:               1 << 20,
	})

	app.Use(middlewares.RecoveryMiddleware(log))
	app.Use(compress.New(compress.Config{Level: compress.LevelDefault}))
	app.Use(etag.New())

	// request id + per-request deadline
	app.Use(func(c *fiber.Ctx) error {
		id := c.Get("X-Request-ID")
		if id == "" {
			id = utils.UUID()
		}
		c.Set("X-Request-ID", id)
		c.Locals("requestid", id)
		ctx, cancel := context.WithTimeout(c.Context(), handlerTimeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	})
	if cfg.IsProduction() {
		app.Use(accessLog.ZapAccessLog(log.Named("http")))
	} else {
		app.Use(accessLog.LoggerMiddleware())
	}
	app.Use(middlewares.CorsMiddleware(cfg.CorsOrigins))
	app.Use(middlewares.GlobalRateLimiter())

	rt, err := bootstrap.Open(context.Background(), cfg, log)
	if err != nil {
		log.Fatal("startup failed", zap.Error(err))
	}
	defer rt.Close()

	if err := database.Migrate(rt.DB); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}
	database.WarmUp(rt.DB, log)

	routes.SetupRoutes(app, routes.Deps{
		DB:        rt.DB,
		KV:        rt.KV,
		Processor: rt.Processor,
		Config:    cfg,
		Log:       log,
	})

	app.Server().ReadTimeout = 15 * time.Second
	app.Server().WriteTimeout = 6 * time.Minute
	app.Server().IdleTimeout = 90 * time.Second

	go func() {
		log.Info("listening", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		if err := app.Listen("0.0.0.0:" + cfg.Port); err != nil {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Warn("shutdown incomplete", zap.Error(err))
	}
}
