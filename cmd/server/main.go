package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/zboyco/gt06hub/internal/eventbus"
	"github.com/zboyco/gt06hub/internal/eventbus/events"
	"github.com/zboyco/gt06hub/internal/eventbus/rabbitmq"
	"github.com/zboyco/gt06hub/internal/observability"
	"github.com/zboyco/gt06hub/internal/store"
	"github.com/zboyco/gt06hub/pkg/server"
)

func main() {
	cfg, err := server.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse config: %v\n", err)
		os.Exit(2)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	gateway := server.NewGateway(cfg)

	if cfg.RedisAddr != "" {
		if err := store.InitRedis(cfg.RedisAddr, 0); err != nil {
			slog.Error("init redis", "err", err)
			os.Exit(2)
		}
	}

	var eventBus eventbus.EventBus
	if cfg.RabbitURL != "" {
		rmqCfg := rabbitmq.DefaultConfig()
		rmqCfg.URL = cfg.RabbitURL
		rmqCfg.ExchangeName = cfg.RabbitExchange
		rmqCfg.VHost = cfg.RabbitVHost
		eventBus, err = eventbus.New(rmqCfg, logger)
		if err != nil {
			slog.Error("init eventbus", "err", err)
			os.Exit(2)
		}
		slog.Info("eventbus initialized", "exchange", cfg.RabbitExchange)
	}

	gateway.SetCallbacks(&server.Callbacks{
		OnLogin: func(imei string) {
			if eventBus != nil {
				if eventType, data, err := events.MarshalLogin(imei); err == nil {
					eventBus.PublishAsync(eventType, data)
				}
			}
		},
		OnLocation: func(update server.QueuedUpdate) {
			store.SaveDeviceStateSafe(update.State.IMEI, update.State)
			if eventBus != nil {
				if eventType, data, err := events.MarshalLocation(update); err == nil {
					eventBus.PublishAsync(eventType, data)
				}
			}
		},
		OnOffline: func(update server.QueuedUpdate) {
			store.SaveDeviceStateSafe(update.State.IMEI, update.State)
			if eventBus != nil {
				if eventType, data, err := events.MarshalOffline(update); err == nil {
					eventBus.PublishAsync(eventType, data)
				}
			}
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := gateway.Start(ctx); err != nil && err != context.Canceled {
		slog.Error("gateway stopped with error", "err", err)
		if eventBus != nil {
			eventBus.Close()
		}
		os.Exit(1)
	}

	if eventBus != nil {
		eventBus.Close()
	}
}
