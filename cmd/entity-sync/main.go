package main

import (
	"context"
	"os"
	"time"

	"github.com/diwise/entity-sync/pkg/graph"
	"github.com/diwise/entity-sync/pkg/policy"
	"github.com/diwise/entity-sync/pkg/provider"
	"github.com/diwise/entity-sync/pkg/session"
	"github.com/diwise/entity-sync/pkg/transport"
	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
)

const serviceName string = "entity-sync"

func defaultFlags() FlagMap {
	return FlagMap{
		configPath:    "/opt/diwise/config/providers.yaml",
		resolvePolicy: "resolve-late",
		sinceParam:    "modifiedAfter",
		logFormat:     "json",
	}
}

func main() {
	serviceVersion := buildinfo.SourceVersion()

	ctx, flags := parseExternalConfig(context.Background(), defaultFlags())

	ctx, logger, cleanup := o11y.Init(ctx, serviceName, serviceVersion, flags[logFormat])
	defer cleanup()

	if flags[providerID] == "" || flags[entityType] == "" {
		logger.Error("both -provider and -type must be specified")
		os.Exit(1)
	}

	mode, err := policy.ParseMode(flags[resolvePolicy])
	if err != nil {
		logger.Error("invalid resolve policy", "err", err.Error())
		os.Exit(1)
	}

	query, err := transport.ParseQuery(flags[queryString])
	if err != nil {
		logger.Error("invalid query", "err", err.Error())
		os.Exit(1)
	}

	if flags[since] != "" {
		d, err := time.ParseDuration(flags[since])
		if err != nil {
			logger.Error("invalid duration for -since", "err", err.Error())
			os.Exit(1)
		}
		query = provider.After(flags[sinceParam], time.Now().Add(-d))(query)
	}

	configFile, err := os.Open(flags[configPath])
	if err != nil {
		logger.Error("failed to open provider configuration", "err", err.Error())
		os.Exit(1)
	}
	defer configFile.Close()

	cfg, err := provider.LoadConfiguration(configFile)
	if err != nil {
		logger.Error("failed to load provider configuration", "err", err.Error())
		os.Exit(1)
	}

	t, err := transport.FromEnvironment(ctx)
	if err != nil {
		logger.Error("failed to create transport", "err", err.Error())
		os.Exit(1)
	}

	providers, err := provider.NewFromConfig(cfg, t)
	if err != nil {
		logger.Error("failed to create providers", "err", err.Error())
		os.Exit(1)
	}

	options := []func(*session.Session){session.DefaultPolicy(mode)}
	for _, p := range providers {
		options = append(options, session.WithSource(p))
	}

	s := session.New(options...)

	q, err := s.RunQuery(ctx, flags[providerID], flags[entityType], query)
	if err != nil {
		logger.Error("failed to start query", "err", err.Error())
		os.Exit(1)
	}

	result, err := q.Collect(ctx)
	if err != nil {
		logger.Error("query failed", "err", err.Error())
		os.Exit(1)
	}

	b, err := graph.MarshalAll(result)
	if err != nil {
		logger.Error("failed to serialize result", "err", err.Error())
		os.Exit(1)
	}

	os.Stdout.Write(b)

	logger.Info("done", "count", len(result), "session_id", s.ID())
}
