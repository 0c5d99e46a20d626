package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"secure-messaging/handler"
	"secure-messaging/internal/config"
	"secure-messaging/internal/integrations/eventlog"
	"secure-messaging/internal/integrations/paramstore"
	"secure-messaging/internal/integrations/webhook"
	"secure-messaging/internal/repository"
	"secure-messaging/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	// ---- Store ----
	var store usecase.Store
	var params *paramstore.Client
	if cfg.StoreBackend == config.BackendMemory {
		logger.Warn("using in-memory store; data does not survive the process")
		store = repository.NewMemory()
	}
	if cfg.StoreBackend == config.BackendDynamoDB || cfg.ParamPrefix != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			logger.Error("failed to load AWS config", "err", err)
			os.Exit(1)
		}
		if cfg.ParamPrefix != "" {
			params, err = paramstore.New(awsssm.NewFromConfig(awsCfg))
			if err != nil {
				logger.Error("failed to create SSM client", "err", err)
				os.Exit(1)
			}
			if err := cfg.ApplyParameters(ctx, params); err != nil {
				logger.Error("failed to load runtime parameters", "err", err)
				os.Exit(1)
			}
		}
		if cfg.StoreBackend == config.BackendDynamoDB {
			dynamo, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
			if err != nil {
				logger.Error("failed to create dynamodb store", "err", err)
				os.Exit(1)
			}
			store = dynamo
		}
	}

	// ---- Events ----
	eventLog, err := eventlog.New(logger)
	if err != nil {
		logger.Error("failed to create event publisher", "err", err)
		os.Exit(1)
	}
	events := usecase.Fanout{eventLog}
	if cfg.WebhookURL != "" {
		hook, err := webhook.NewClient(cfg.WebhookURL, params, cfg.ParamPrefix)
		if err != nil {
			logger.Error("failed to create webhook publisher", "err", err)
			os.Exit(1)
		}
		events = append(events, hook)
	}

	// ---- Service ----
	svc, err := usecase.NewService(store, events, logger, usecase.Settings{
		PreviewMaxRunes:    cfg.PreviewMaxRunes,
		PreviewPlaceholder: cfg.PreviewPlaceholder,
		MaxWriteRetries:    cfg.MaxWriteRetries,
		DefaultPageLimit:   cfg.DefaultPageLimit,
		MaxPageLimit:       cfg.MaxPageLimit,
	})
	if err != nil {
		logger.Error("failed to create messaging service", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(svc, logger)
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
