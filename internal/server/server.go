package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/arman-khosravi/tabletalk/config"
	"github.com/arman-khosravi/tabletalk/internal/agent"
	"github.com/arman-khosravi/tabletalk/internal/budget"
	"github.com/arman-khosravi/tabletalk/internal/cache"
	"github.com/arman-khosravi/tabletalk/internal/capability"
	"github.com/arman-khosravi/tabletalk/internal/llm"
	"github.com/arman-khosravi/tabletalk/internal/mcp"
	"github.com/arman-khosravi/tabletalk/internal/runtime"
	"github.com/arman-khosravi/tabletalk/internal/session"
	"github.com/arman-khosravi/tabletalk/internal/store"
	"github.com/arman-khosravi/tabletalk/internal/telemetry"
	"github.com/arman-khosravi/tabletalk/internal/tools/db"
	"github.com/arman-khosravi/tabletalk/internal/tools/searchctx"
	"github.com/arman-khosravi/tabletalk/internal/tools/transcript"
	"github.com/arman-khosravi/tabletalk/internal/tools/webpage"
)

// Run wires the whole API process and blocks serving it.
func Run(cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	tel := telemetry.New(log.New(log.Writer(), "[TEL] ", log.LstdFlags))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if cfg.Telemetry.Enabled {
		e.GET("/metrics", echo.WrapHandler(tel.Handler()))
	}

	ctx := context.Background()
	dsn := cfg.Storage.Postgres.DSN()
	if err := store.Migrate("", dsn, "up", 0); err != nil {
		baseLogger.Printf("migrate: %v", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return fmt.Errorf("store init: %w", err)
	}

	var mirror *cache.Cache
	if cfg.Storage.Redis.Enabled {
		mirror = cache.New(cfg.Storage.Redis.Addr(), cfg.Storage.Redis.Password, cfg.Storage.Redis.DB, cfg.Storage.Redis.TTL)
		if err := mirror.Ping(ctx); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
		}
	}

	corpus := searchctx.NewCorpus()
	registry, err := BuildRegistry(ctx, cfg, corpus)
	if err != nil {
		return err
	}

	provider, err := llm.NewProvider(llm.Config{
		Provider:        cfg.LLM.Provider,
		APIKey:          cfg.LLM.APIKey,
		BaseURL:         cfg.LLM.BaseURL,
		Model:           cfg.LLM.Model,
		Temperature:     cfg.LLM.Temperature,
		MaxTokens:       cfg.LLM.MaxTokens,
		Timeout:         cfg.LLM.Timeout,
		CostPer1KInput:  cfg.LLM.CostPer1KInput,
		CostPer1KOutput: cfg.LLM.CostPer1KOutput,
	})
	if err != nil {
		return fmt.Errorf("llm provider: %w", err)
	}

	orch := agent.New(registry, provider, tel, corpus, st, agent.Config{
		Budget: budget.Config{
			MaxToolCalls:      cfg.Agent.MaxToolCalls,
			MaxReasoningLoops: cfg.Agent.MaxReasoningLoops,
		},
		LLMRetries:      cfg.Agent.LLMRetries,
		LLMBackoff:      cfg.Agent.LLMBackoff,
		DispatchBackoff: cfg.Agent.DispatchBackoff,
		Debug:           cfg.General.Debug,
	}, log.New(log.Writer(), "[ORCH] ", log.LstdFlags))

	secret := []byte(cfg.Server.JWTSecret)
	auth := &AuthHandler{Store: st, Secret: secret}
	api := e.Group("/api")
	auth.Register(api.Group("/auth"))

	sessions := &SessionsHandler{Store: st, Cache: mirror, Orch: orch, Live: session.NewManager(), Tel: tel}
	sg := api.Group("/sessions")
	sg.Use(runtime.EchoAuthMiddleware(secret))
	sessions.Register(sg, secret)

	janitor := &Janitor{
		Store:     st,
		Cache:     mirror,
		Sessions:  sessions,
		Cron:      cfg.Agent.JanitorCron,
		IdleAfter: cfg.Agent.SessionIdleAfter,
		Logger:    log.New(log.Writer(), "[JANITOR] ", log.LstdFlags),
		Stop:      make(chan struct{}),
	}
	janitor.Start()

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":10001"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// BuildRegistry assembles the tool surface: database tools either remote
// over the protocol or in-process, plus the transcript, webpage and
// session-context tools.
func BuildRegistry(ctx context.Context, cfg *config.Config, corpus *searchctx.Corpus) (*capability.Registry, error) {
	registry := capability.NewRegistry(cfg.Tools.Signing.Secret)

	switch {
	case cfg.MCP.ServerAddr != "":
		client, err := mcp.Dial(cfg.MCP.ServerAddr, mcp.ClientConfig{
			CallTimeout: cfg.MCP.CallTimeout,
			MaxRetries:  cfg.MCP.MaxRetries,
			Backoff:     cfg.MCP.Backoff,
		}, log.New(log.Writer(), "[MCP] ", log.LstdFlags))
		if err != nil {
			return nil, fmt.Errorf("mcp dial %s: %w", cfg.MCP.ServerAddr, err)
		}
		specs, err := client.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("mcp list tools: %w", err)
		}
		for _, spec := range specs {
			if err := registry.Register(mcp.NewRemoteTool(spec, client)); err != nil {
				return nil, err
			}
		}
	case cfg.Tools.DB.DSN != "":
		adapter, err := db.Open(ctx, cfg.Tools.DB.DSN, cfg.Tools.DB.Name, db.Config{
			MaxConcurrent: cfg.Tools.DB.MaxConcurrent,
			MaxRows:       cfg.Tools.DB.MaxRows,
		})
		if err != nil {
			return nil, fmt.Errorf("db tool: %w", err)
		}
		for _, tool := range adapter.Tools() {
			if err := registry.Register(tool); err != nil {
				return nil, err
			}
		}
	}

	tf := transcript.NewFetcher(transcript.Config{
		Language: cfg.Tools.Transcript.Language,
		Timeout:  cfg.Tools.Transcript.Timeout,
	})
	if err := registry.Register(transcript.NewTool(tf)); err != nil {
		return nil, err
	}

	wf, err := webpage.NewFetcher(webpage.Config{
		Mode:     webpage.Mode(cfg.Tools.Webpage.Mode),
		Timeout:  cfg.Tools.Webpage.Timeout,
		MaxBytes: cfg.Tools.Webpage.MaxBytes,
		MaxChars: cfg.Tools.Webpage.MaxChars,
	})
	if err != nil {
		return nil, fmt.Errorf("webpage tool: %w", err)
	}
	if err := registry.Register(webpage.NewTool(wf)); err != nil {
		return nil, err
	}

	if err := registry.Register(searchctx.NewTool(corpus)); err != nil {
		return nil, err
	}
	return registry, nil
}
