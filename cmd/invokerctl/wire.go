package main

import (
	"fmt"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/serverless-fanout/invoker/internal/backend"
	"github.com/serverless-fanout/invoker/internal/backend/httpfn"
	"github.com/serverless-fanout/invoker/internal/backend/k8sjob"
	"github.com/serverless-fanout/invoker/internal/bus"
	"github.com/serverless-fanout/invoker/internal/config"
	"github.com/serverless-fanout/invoker/internal/invoker"
	"github.com/serverless-fanout/invoker/internal/logctx"
	"github.com/serverless-fanout/invoker/internal/monitor"
	"github.com/serverless-fanout/invoker/internal/runtime"
	"github.com/serverless-fanout/invoker/internal/store"
	"github.com/serverless-fanout/invoker/internal/store/graphqlmeta"
	"github.com/serverless-fanout/invoker/internal/store/memstore"
)

// wireFlags are the flags every subcommand that builds a Facade shares.
type wireFlags struct {
	flags      *pflag.FlagSet
	configFile string

	backendKind   string
	k8sNamespace  string
	k8sImage      string
	k8sEntrypoint string
	httpEndpoint  string
	httpToken     string

	storeKind       string
	graphqlEndpoint string
	graphqlToken    string

	busKind string
	natsURL string

	workers        int
	runtimeVersion string
	debug          bool
}

func registerWireFlags(flags *pflag.FlagSet) *wireFlags {
	wf := &wireFlags{flags: flags}
	flags.StringVar(&wf.configFile, "config", "", "path to a YAML/JSON config file")

	flags.StringVar(&wf.backendKind, "backend", "k8sjob", "compute backend: k8sjob or httpfn")
	flags.StringVar(&wf.k8sNamespace, "k8s-namespace", "", "namespace for k8sjob backend (defaults to in-cluster namespace)")
	flags.StringVar(&wf.k8sImage, "k8s-image", "", "container image for k8sjob backend")
	flags.StringVar(&wf.k8sEntrypoint, "k8s-entrypoint", "", "shell-quoted entrypoint for k8sjob backend")
	flags.StringVar(&wf.httpEndpoint, "http-endpoint", "", "base URL for httpfn backend")
	flags.StringVar(&wf.httpToken, "http-token", "", "bearer token for httpfn backend")

	flags.StringVar(&wf.storeKind, "store", "memory", "metadata store: memory or graphql")
	flags.StringVar(&wf.graphqlEndpoint, "graphql-endpoint", "", "GraphQL endpoint for the metadata store")
	flags.StringVar(&wf.graphqlToken, "graphql-token", "", "bearer token for the GraphQL metadata store")

	flags.StringVar(&wf.busKind, "bus", "memory", "job-completion bus: memory or nats")
	flags.StringVar(&wf.natsURL, "nats-url", "", "NATS server URL (defaults to rabbitmq.amqp_url, then nats://127.0.0.1:4222)")

	flags.IntVar(&wf.workers, "workers", 0, "override lithops.workers from the config file/env")
	flags.StringVar(&wf.runtimeVersion, "runtime-version", "", "override serverless.runtime_version from the config file/env")
	flags.BoolVar(&wf.debug, "debug", false, "enable debug logging and HTTP transport dumps")
	return wf
}

// wired is every component invoker.New needs, plus the logger and bus so
// the caller (run/serve) can close what it opened.
type wired struct {
	cfg     *config.Config
	logger  *zap.Logger
	backend backend.Backend
	store   store.Store
	bus     bus.MessageBus
	facade  *invoker.Facade
}

func buildWired(wf *wireFlags) (*wired, error) {
	cfg, err := config.LoadWithFlags(wf.configFile, wf.flags)
	if err != nil {
		return nil, err
	}

	level := zap.InfoLevel
	if wf.debug {
		level = zap.DebugLevel
	}
	logger, err := logctx.New(level, wf.debug)
	if err != nil {
		return nil, fmt.Errorf("invokerctl: build logger: %w", err)
	}

	b, err := buildBackend(wf)
	if err != nil {
		return nil, err
	}

	s, err := buildStore(wf)
	if err != nil {
		return nil, err
	}

	mb, err := buildBus(wf, cfg)
	if err != nil {
		return nil, err
	}

	sel := runtime.New(b, s, logger)
	mon := monitor.New(s, mb, cfg.Lithops.RabbitMQMonitor, logger)
	facade := invoker.New(b, sel, mon, cfg.Lithops.Workers, cfg.Serverless.RuntimeVersion, logger)

	return &wired{cfg: cfg, logger: logger, backend: b, store: s, bus: mb, facade: facade}, nil
}

func buildBackend(wf *wireFlags) (backend.Backend, error) {
	switch wf.backendKind {
	case "k8sjob":
		return k8sjob.New(k8sjob.Config{
			Namespace:  wf.k8sNamespace,
			Image:      wf.k8sImage,
			Entrypoint: wf.k8sEntrypoint,
		})
	case "httpfn":
		return httpfn.New(httpfn.Config{Endpoint: wf.httpEndpoint, Token: wf.httpToken}), nil
	default:
		return nil, fmt.Errorf("invokerctl: unknown backend %q", wf.backendKind)
	}
}

func buildStore(wf *wireFlags) (store.Store, error) {
	switch wf.storeKind {
	case "memory":
		return memstore.New(), nil
	case "graphql":
		if wf.graphqlEndpoint == "" {
			return nil, fmt.Errorf("invokerctl: --graphql-endpoint is required for --store=graphql")
		}
		client := graphqlmeta.NewClient(wf.graphqlToken, wf.graphqlEndpoint)
		return graphqlmeta.New(client), nil
	default:
		return nil, fmt.Errorf("invokerctl: unknown store %q", wf.storeKind)
	}
}

func buildBus(wf *wireFlags, cfg *config.Config) (bus.MessageBus, error) {
	switch wf.busKind {
	case "memory":
		return bus.NewMemoryBus(), nil
	case "nats":
		natsCfg := bus.DefaultConfig()
		if wf.natsURL != "" {
			natsCfg.URL = wf.natsURL
		} else if cfg.RabbitMQ.AMQPURL != "" {
			natsCfg.URL = cfg.RabbitMQ.AMQPURL
		}
		return bus.NewNATSBus(natsCfg)
	default:
		return nil, fmt.Errorf("invokerctl: unknown bus %q", wf.busKind)
	}
}
