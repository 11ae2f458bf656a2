package main

import (
	"context"
	"flag"

	"github.com/diwise/service-chassis/pkg/infrastructure/env"
)

type FlagType int
type FlagMap map[FlagType]string

const (
	configPath FlagType = iota

	providerID
	entityType
	queryString
	resolvePolicy

	since
	sinceParam

	logFormat
)

func parseExternalConfig(ctx context.Context, flags FlagMap) (context.Context, FlagMap) {
	// Allow environment variables to override certain defaults
	envOrDef := env.GetVariableOrDefault
	flags[configPath] = envOrDef(ctx, "ENTITYSYNC_CONFIG_PATH", flags[configPath])
	flags[resolvePolicy] = envOrDef(ctx, "ENTITYSYNC_POLICY", flags[resolvePolicy])

	apply := func(f FlagType) func(string) error {
		return func(value string) error {
			flags[f] = value
			return nil
		}
	}

	// Allow command line arguments to override defaults and environment variables
	flag.Func("config", "path to the provider configuration file", apply(configPath))
	flag.Func("provider", "id of the provider to query", apply(providerID))
	flag.Func("type", "entity type to query", apply(entityType))
	flag.Func("query", "query string sent with the first request", apply(queryString))
	flag.Func("since", "only fetch entities modified within this duration, i.e. 24h", apply(since))
	flag.Func("sinceparam", "query parameter used for -since", apply(sinceParam))
	flag.Func("policy", "do-not-resolve, resolve-early or resolve-late", apply(resolvePolicy))
	flag.Func("logformat", "json or text", apply(logFormat))
	flag.Parse()

	return ctx, flags
}
