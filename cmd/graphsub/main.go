package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hanpama/graphsub/internal/config"
	"github.com/hanpama/graphsub/internal/eventbus"
	"github.com/hanpama/graphsub/internal/logging"
	"github.com/hanpama/graphsub/internal/otel"
	"github.com/hanpama/graphsub/internal/schema"
	"github.com/hanpama/graphsub/internal/server"
	"github.com/hanpama/graphsub/internal/store"
	"github.com/hanpama/graphsub/internal/subscriptions"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const rootUsage = `graphsub - GraphQL subscription registry

USAGE:
  graphsub <command> [flags]

COMMANDS:
  serve            Run the HTTP endpoint registering GraphQL subscriptions
  fields           List the subscription fields of a schema and their topics
  deliver          Resolve an update for the stored subscribers of a field
  unsubscribe      Remove the subscriber of a vacated channel
  help             Show help for any command
`

const commonUsage = `  -config <file>                      Config file (yaml, json or toml)
  -schema <file>                      GraphQL SDL file (schema.path)
`

const serveUsage = `serve FLAGS:
` + commonUsage + `  -server.addr <addr>                 HTTP listen address (default: :8080)
  -server.path <path>                 GraphQL endpoint path (default: /graphql)
  -server.pretty                      Pretty-print JSON responses
  -server.timeout <duration>          Per-request timeout, e.g. 10s (default: 10s)
  -server.metadata-header <name>      Store HTTP header with subscribers. Repeatable
  -store.driver <memory|sqlite|redis> Subscriber store (default: memory)
  -otel.endpoint <addr>               OTLP collector endpoint
  -otel.service <name>                OpenTelemetry service name (default: graphsub)
Every setting may also be given as GRAPHSUB_<KEY>, e.g. GRAPHSUB_STORE_REDIS_ADDR.
`

const fieldsUsage = `fields FLAGS:
` + commonUsage

const deliverUsage = `deliver FLAGS:
` + commonUsage + `  -store.driver <sqlite|redis>        Subscriber store holding the subscribers
  -field <name>                       Subscription field (required)
  -payload <json>                     Root value of the update (default: null)
`

const unsubscribeUsage = `unsubscribe FLAGS:
` + commonUsage + `  -store.driver <sqlite|redis>        Subscriber store holding the subscribers
  -channel <name>                     Channel to vacate (required)
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("graphsub", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "serve":
		return cmdServe(cmdArgs)
	case "fields":
		return cmdFields(cmdArgs)
	case "deliver":
		return cmdDeliver(cmdArgs)
	case "unsubscribe":
		return cmdUnsubscribe(cmdArgs)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "serve":
		fmt.Print(serveUsage)
	case "fields":
		fmt.Print(fieldsUsage)
	case "deliver":
		fmt.Print(deliverUsage)
	case "unsubscribe":
		fmt.Print(unsubscribeUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

type stringListFlag []string

func (s *stringListFlag) String() string { return "" }
func (s *stringListFlag) Get() any       { return []string(*s) }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// configFlags binds command-line flags to configuration keys. Flags that
// were set on the command line override the file and the environment.
type configFlags struct {
	fs   *flag.FlagSet
	path string
	keys map[string]string // flag name -> config key
}

func newConfigFlags(fs *flag.FlagSet) *configFlags {
	c := &configFlags{fs: fs, keys: map[string]string{}}
	fs.StringVar(&c.path, "config", "", "Config file")
	c.stringVar("schema", "schema.path", "GraphQL SDL file")
	return c
}

func (c *configFlags) stringVar(name, key, usage string) {
	c.fs.String(name, "", usage)
	c.keys[name] = key
}

func (c *configFlags) boolVar(name, key, usage string) {
	c.fs.Bool(name, false, usage)
	c.keys[name] = key
}

func (c *configFlags) durationVar(name, key, usage string) {
	c.fs.Duration(name, 0, usage)
	c.keys[name] = key
}

func (c *configFlags) listVar(name, key, usage string) {
	c.fs.Var(new(stringListFlag), name, usage)
	c.keys[name] = key
}

func (c *configFlags) load() (*config.Config, error) {
	return config.Load(c.path, c.apply)
}

func (c *configFlags) apply(v *viper.Viper) {
	c.fs.Visit(func(f *flag.Flag) {
		key, ok := c.keys[f.Name]
		if !ok {
			return
		}
		if g, ok := f.Value.(flag.Getter); ok {
			v.Set(key, g.Get())
			return
		}
		v.Set(key, f.Value.String())
	})
}

func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	cf := newConfigFlags(fs)
	cf.stringVar("server.addr", "server.addr", "HTTP listen address")
	cf.stringVar("server.path", "server.path", "GraphQL endpoint path")
	cf.boolVar("server.pretty", "server.pretty", "Pretty-print JSON responses")
	cf.durationVar("server.timeout", "server.timeout", "Per-request timeout")
	cf.listVar("server.metadata-header", "server.metadata_headers", "Store HTTP header with subscribers")
	cf.stringVar("store.driver", "store.driver", "Subscriber store")
	cf.stringVar("otel.endpoint", "otel.endpoint", "OTLP collector endpoint")
	cf.stringVar("otel.service", "otel.service", "OpenTelemetry service name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}
	cfg, err := cf.load()
	if err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := eventbus.New()
	shutdown, err := otel.Setup(ctx, bus, cfg.Otel.Endpoint, cfg.Otel.Service)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	reg, _, closer, err := openRegistry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closer.Close()
	reg.Listen(bus)

	sopts := []server.Option{
		server.WithEventBus(bus),
		server.WithLogger(logger),
		server.WithTimeout(cfg.Server.Timeout),
	}
	if cfg.Server.Pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if cfg.Server.MaxBodyBytes > 0 {
		sopts = append(sopts, server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes))
	}
	if len(cfg.Server.MetadataHeaders) > 0 {
		sopts = append(sopts, server.WithMetadataHeaders(cfg.Server.MetadataHeaders...))
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		sopts = append(sopts, server.WithCORS(cfg.Server.CORSOrigins...))
	}
	h, err := server.New(reg, sopts...)
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.Path, h)
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: mux}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Info("graphsub listening",
		zap.String("addr", cfg.Server.Addr),
		zap.String("path", cfg.Server.Path),
		zap.String("store", cfg.Store.Driver))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// openRegistry builds the schema, the store and the registry described by
// cfg. Handlers are constructed lazily from the schema.
func openRegistry(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*subscriptions.Registry, subscriptions.SubscriberStore, io.Closer, error) {
	sch, err := schema.BuildFromFile(cfg.Schema.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build schema: %w", err)
	}
	if sch.GetSubscriptionType() == nil {
		logger.Warn("schema declares no subscription type", zap.String("schema", cfg.Schema.Path))
	}
	st, closer, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}
	reg := subscriptions.NewRegistry(st,
		subscriptions.WithOracle(subscriptions.NewSchemaOracle(sch, subscriptions.DefaultHandlerFactory)),
		subscriptions.WithConfig(cfg.Subscriptions),
		subscriptions.WithLogger(logger))
	return reg, st, closer, nil
}

func cmdFields(args []string) error {
	fs := flag.NewFlagSet("fields", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	cf := newConfigFlags(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, fieldsUsage)
		return err
	}
	cfg, err := cf.load()
	if err != nil {
		fmt.Fprint(os.Stderr, fieldsUsage)
		return err
	}
	sch, err := schema.BuildFromFile(cfg.Schema.Path)
	if err != nil {
		return fmt.Errorf("build schema: %w", err)
	}
	oracle := subscriptions.NewSchemaOracle(sch, subscriptions.DefaultHandlerFactory)
	reg := subscriptions.NewRegistry(nil, subscriptions.WithOracle(oracle))
	for _, name := range reg.Keys() {
		h, err := reg.Subscription(name)
		if err != nil {
			return err
		}
		f := sch.SubscriptionField(name)
		fmt.Printf("%s: %s\ttopic=%s\n", name, f.Type.String(), h.DecodeTopic(name, nil))
	}
	return nil
}

func cmdDeliver(args []string) error {
	fs := flag.NewFlagSet("deliver", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	cf := newConfigFlags(fs)
	cf.stringVar("store.driver", "store.driver", "Subscriber store")
	field := fs.String("field", "", "Subscription field")
	payload := fs.String("payload", "null", "Root value of the update")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, deliverUsage)
		return err
	}
	if *field == "" {
		fmt.Fprint(os.Stderr, deliverUsage)
		return fmt.Errorf("-field is required")
	}
	var root any
	if err := json.Unmarshal([]byte(*payload), &root); err != nil {
		return fmt.Errorf("invalid -payload: %w", err)
	}
	cfg, err := cf.load()
	if err != nil {
		fmt.Fprint(os.Stderr, deliverUsage)
		return err
	}
	d, closer, err := openDispatcher(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer closer()

	deliveries, derr := d.Deliveries(context.Background(), *field, root)
	if deliveries == nil {
		deliveries = []subscriptions.Delivery{}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(deliveries); err != nil {
		return err
	}
	return derr
}

func cmdUnsubscribe(args []string) error {
	fs := flag.NewFlagSet("unsubscribe", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	cf := newConfigFlags(fs)
	cf.stringVar("store.driver", "store.driver", "Subscriber store")
	channel := fs.String("channel", "", "Channel to vacate")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, unsubscribeUsage)
		return err
	}
	if *channel == "" {
		fmt.Fprint(os.Stderr, unsubscribeUsage)
		return fmt.Errorf("-channel is required")
	}
	cfg, err := cf.load()
	if err != nil {
		fmt.Fprint(os.Stderr, unsubscribeUsage)
		return err
	}
	d, closer, err := openDispatcher(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer closer()

	sub, err := d.Unsubscribe(context.Background(), *channel)
	if err != nil {
		return fmt.Errorf("unsubscribe %s: %w", *channel, err)
	}
	fmt.Printf("%s: %s\ttopic=%s\n", sub.Channel, sub.FieldName, sub.Topic)
	return nil
}

// openDispatcher opens the registry and store of cfg for the offline
// commands. Those run in their own process, so the process-local memory
// store would never hold a subscriber.
func openDispatcher(ctx context.Context, cfg *config.Config) (*subscriptions.Dispatcher, func(), error) {
	if cfg.Store.Driver == "memory" {
		return nil, nil, &subscriptions.ConfigError{Key: "store.driver", Value: cfg.Store.Driver}
	}
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return nil, nil, err
	}
	reg, st, closer, err := openRegistry(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	d := subscriptions.NewDispatcher(reg, st, subscriptions.MetadataSerializer{}, logger)
	return d, func() {
		_ = closer.Close()
		_ = logger.Sync()
	}, nil
}
