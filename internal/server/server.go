package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/studiumlabs/studium/config"
	"github.com/studiumlabs/studium/internal/assistant"
	"github.com/studiumlabs/studium/internal/chunker"
	"github.com/studiumlabs/studium/internal/ingest"
	"github.com/studiumlabs/studium/internal/integrity"
	"github.com/studiumlabs/studium/internal/retrieval"
	"github.com/studiumlabs/studium/internal/store"
	"github.com/studiumlabs/studium/internal/tools"
	"github.com/studiumlabs/studium/internal/tools/websearch"
	"github.com/studiumlabs/studium/provider"
)

// Run wires all dependencies and serves the HTTP API until the process
// exits. Missing ingestion is kicked off in the background on startup.
func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
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
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	dsn := cfg.Storage.Postgres.DSN()
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		baseLogger.Printf("migrate: %v", err)
	}

	ctx := context.Background()
	st, err := store.NewWithDSN(ctx, dsn, cfg.LLM.EmbeddingDimensions)
	if err != nil {
		return err
	}

	llm, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}
	ch, err := chunker.New(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return err
	}
	retriever := retrieval.New(st, llm, cfg.Retrieval)

	registry := tools.NewRegistry()
	registry.Register(&tools.CourseSearch{Retriever: retriever})
	if cfg.Tools.WebSearchAPIKey != "" {
		client := websearch.NewClient(cfg.Tools.WebSearchAPIKey)
		if cfg.Tools.WebSearchEndpoint != "" {
			client.Endpoint = cfg.Tools.WebSearchEndpoint
		}
		registry.Register(&websearch.Tool{Client: client})
	}

	rules, err := integrity.LoadRules(cfg.Integrity.RuleFile)
	if err != nil {
		return err
	}
	validator, err := integrity.NewValidator(rules)
	if err != nil {
		return err
	}
	screening := integrity.NewService(validator, st)

	var locker assistant.SessionLocker
	if cfg.Storage.Redis.Host != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Storage.Redis.Addr(), Password: cfg.Storage.Redis.Password, DB: cfg.Storage.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
		}
		locker = assistant.NewRedisLocker(rdb, 2*cfg.Assistant.TurnTimeout)
	} else {
		baseLogger.Printf("redis not configured, using process-local session locks")
		locker = assistant.NewLocalLocker()
	}

	asst := assistant.New(llm, st, retriever, registry, screening, locker, cfg.Assistant)

	secret := []byte(cfg.Server.JWTSecret)
	if len(secret) == 0 {
		return fmt.Errorf("jwt secret not configured (server.jwt_secret)")
	}

	api := e.Group("/api")
	(&ChatHandler{Assistant: asst, Store: st}).Register(api.Group("/chat"), secret)
	(&RetrieveHandler{Retriever: retriever}).Register(api.Group("/retrieve"), secret)
	(&FlagsHandler{Store: st}).Register(api.Group("/flags"), secret)

	// startup ingestion hook: index the corpus once, in the background
	if cfg.Ingestion.CorpusDir != "" {
		pipeline := ingest.New(st, llm, ch, cfg.Ingestion)
		if !pipeline.CorpusIndexed() {
			go func() {
				if _, err := pipeline.Run(ctx, false); err != nil {
					baseLogger.Printf("startup ingestion: %v", err)
				}
			}()
		}
	}

	addr = listenAddr(addr, cfg.Server.Address)
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// listenAddr resolves the bind address: flag wins over config, a bare
// port gets a leading colon, full host:port values pass through.
func listenAddr(flagAddr, cfgAddr string) string {
	addr := flagAddr
	if addr == "" {
		addr = cfgAddr
	}
	if addr == "" {
		return ":10010"
	}
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	return addr
}
