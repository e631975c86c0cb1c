// Package main запускает HTTP-сервер сервиса сверки платежей ValoraLocal.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/valoralocal/reconciler/internal/config"
	"github.com/valoralocal/reconciler/internal/handler"
	"github.com/valoralocal/reconciler/internal/mercadopago"
	"github.com/valoralocal/reconciler/internal/middleware"
	"github.com/valoralocal/reconciler/internal/notify"
	"github.com/valoralocal/reconciler/internal/paypal"
	"github.com/valoralocal/reconciler/internal/referral"
	"github.com/valoralocal/reconciler/internal/repository"
	"github.com/valoralocal/reconciler/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}
	if err := cfg.Validate(); err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	mpClient := mercadopago.NewClient(cfg.MercadoPago.APIURL, cfg.MercadoPago.AccessToken)
	ppClient := paypal.NewClient(cfg.PayPal.BaseAPIURL(), cfg.PayPal.ClientID, cfg.PayPal.ClientSecret, cfg.PayPal.WebhookID)

	ledger := referral.NewLedger(repo, logger, cfg.Referral.MaxReferrals, cfg.Referral.RewardAmount)
	sugar.Infow("referral program configured",
		"max_referrals", ledger.MaxReferrals(),
		"reward_amount", ledger.Reward(),
	)

	dispatcher, closeNotify := newDispatcher(cfg, logger)
	defer closeNotify()

	svc := service.NewService(repo, mpClient, ppClient, ledger, dispatcher, logger, service.Options{
		BaseURL:             cfg.BaseURL,
		Plans:               cfg.Plans(),
		ProcessingTimeout:   cfg.ProcessingTimeout,
		ExpiryGrace:         cfg.ExpiryGrace,
		MercadoPagoCurrency: cfg.MercadoPago.Currency,
		PayPalCurrency:      cfg.PayPal.Currency,
		PayPalLive:          cfg.PayPal.IsLive(),
	})

	limiter, closeRedis := newLimiter(cfg.RedisURL, logger)
	defer closeRedis()

	h := handler.NewHandler(svc, logger, handler.Config{
		BaseURL:                  cfg.BaseURL,
		MercadoPagoWebhookSecret: cfg.MercadoPago.WebhookSecret,
		AllowedOrigins:           cfg.CORSOrigins,
		RateLimitPerMin:          cfg.RateLimitPerMin,
		Limiter:                  limiter,
		Admin:                    middleware.NewAdminAuth(cfg.AdminKey),
	})

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	scheduler := service.NewScheduler(svc, logger, cfg.SweepSchedule)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := scheduler.Start(); err != nil {
			return fmt.Errorf("scheduler error: %w", err)
		}
		<-ctx.Done()
		<-scheduler.Stop().Done()
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting valoralocal reconciler", "addr", cfg.RunAddress, "paypal_mode", cfg.PayPal.Mode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func newDispatcher(cfg *config.Config, logger *zap.Logger) (*notify.Dispatcher, func()) {
	var sender notify.Sender
	if cfg.Email.ResendAPIKey != "" {
		sender = notify.NewResendSender(cfg.Email.ResendAPIKey)
	} else {
		logger.Warn("RESEND_API_KEY is not set, emails are only logged")
		sender = notify.NewLogSender(func(to, subject, _ string) {
			logger.Info("email not sent", zap.String("to", to), zap.String("subject", subject))
		})
	}

	var (
		publisher notify.Publisher
		closeFn   = func() {}
	)
	if cfg.AMQPURL != "" {
		p, err := notify.NewAMQPPublisher(cfg.AMQPURL, notify.DefaultExchange)
		if err != nil {
			logger.Warn("amqp publisher unavailable, events disabled", zap.Error(err))
		} else {
			publisher = p
			closeFn = func() { _ = p.Close() }
		}
	}

	return notify.NewDispatcher(sender, publisher, logger, notify.DispatcherConfig{
		From:         cfg.Email.From,
		SalesEmail:   cfg.Email.SalesEmail,
		BaseURL:      cfg.BaseURL,
		RewardAmount: cfg.Referral.RewardAmount,
	}), closeFn
}

func newLimiter(redisURL string, logger *zap.Logger) (middleware.Limiter, func()) {
	if redisURL == "" {
		logger.Info("REDIS_URL is not set, rate limiting disabled")
		return nil, func() {}
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("redis url parse failed, rate limiting disabled", zap.Error(err))
		return nil, func() {}
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed, rate limiting disabled", zap.Error(err))
		_ = client.Close()
		return nil, func() {}
	}

	logger.Info("redis connected")
	return middleware.NewRedisLimiter(client, "valoralocal:rate_limit"), func() { _ = client.Close() }
}
