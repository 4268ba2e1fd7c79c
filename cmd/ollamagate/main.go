// Command ollamagate runs the intelligent gateway in front of a local
// Ollama daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/ollamagate"
	"github.com/kadirpekel/ollamagate/pkg/classifier"
	"github.com/kadirpekel/ollamagate/pkg/config"
	"github.com/kadirpekel/ollamagate/pkg/logger"
	"github.com/kadirpekel/ollamagate/pkg/ollama"
	"github.com/kadirpekel/ollamagate/pkg/proxy"
	"github.com/kadirpekel/ollamagate/pkg/server"
	"github.com/kadirpekel/ollamagate/pkg/session"
	"github.com/kadirpekel/ollamagate/pkg/toolgen"
	"github.com/kadirpekel/ollamagate/pkg/tools"
	"github.com/kadirpekel/ollamagate/pkg/unified"
	"github.com/kadirpekel/ollamagate/pkg/workflow"
	"github.com/kadirpekel/ollamagate/pkg/workspace"
)

type cli struct {
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info" env:"LOG_LEVEL"`
	LogFormat string `help:"Log format." enum:"simple,verbose" default:"simple" env:"LOG_FORMAT"`
	LogFile   string `help:"Write logs to a file instead of stderr." env:"LOG_FILE"`

	Serve   serveCmd   `cmd:"" default:"1" help:"Start the gateway."`
	Version versionCmd `cmd:"" help:"Print version information."`
}

type versionCmd struct{}

func (v *versionCmd) Run() error {
	fmt.Println(ollamagate.GetVersion().String())
	return nil
}

type serveCmd struct{}

func (s *serveCmd) Run(cfg *config.Config) error {
	backend := ollama.NewClient(cfg.OllamaBaseURL, ollama.WithTimeout(cfg.RequestTimeout))

	holder := classifier.NewCatalogHolder(classifier.DefaultCatalog())
	if cfg.CatalogPath != "" {
		catalog, err := classifier.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return fmt.Errorf("failed to load routing catalog: %w", err)
		}
		holder.Set(catalog)
	}

	sessions := session.NewStore(cfg.SessionMaxHistory, cfg.SessionTimeout)
	cls := classifier.New(holder, backend, cfg.EmbeddingModel, cfg.DefaultModel)
	ws := workspace.NewManager(cfg.WorkspaceRoot, nil)
	pipeline := proxy.New(backend, sessions, cls, ws, cfg.ClassifyTimeout)

	generator := toolgen.New(backend, cfg.DefaultModel)
	engine := tools.NewEngine(cfg.WorkspaceRoot)
	orchestrator := workflow.New(generator, engine)
	unifiedSvc := unified.New(backend, generator, cfg.DefaultModel)

	srv := server.New(cfg, pipeline, backend, sessions, orchestrator, unifiedSvc)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(srv.Start)
	group.Go(func() error {
		sessions.Run(ctx)
		return nil
	})
	group.Go(func() error {
		orchestrator.Run(ctx)
		return nil
	})
	if cfg.CatalogPath != "" {
		group.Go(func() error {
			return holder.Watch(ctx, cfg.CatalogPath)
		})
	}
	group.Go(func() error {
		<-ctx.Done()
		return srv.Stop(context.Background())
	})

	return group.Wait()
}

func main() {
	var args cli
	parsed := kong.Parse(&args,
		kong.Name("ollamagate"),
		kong.Description("Intelligent gateway for a local Ollama daemon."),
		kong.UsageOnError(),
	)

	output := os.Stderr
	if args.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(args.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		output = file
	}
	logger.Init(logger.ParseLevel(args.LogLevel), output, args.LogFormat)

	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := parsed.Run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
