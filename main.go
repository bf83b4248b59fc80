package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"annotationstore/config"
	"annotationstore/config/database"
	"annotationstore/internal/annotation/model"
	"annotationstore/internal/annotation/registry"
	"annotationstore/internal/annotation/repository"
	"annotationstore/internal/annotation/search"
	"annotationstore/internal/annotation/service"
	"annotationstore/internal/cache"
	"annotationstore/middleware"
	"annotationstore/pkg/logger"
	"annotationstore/router"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(cfg, os.Args[2:]); err != nil {
			logger.Sugar.Fatalf("Failed to issue token: %v", err)
		}
		return
	}

	logger.Sugar.Infof("Starting with config: %s", cfg)

	var index repository.Index
	switch cfg.IndexBackend {
	case config.BackendMemory:
		logger.Sugar.Warn("Using the in-memory index; annotations are lost on restart")
		index = repository.NewMemoryIndex()
	default:
		if err := repository.Migrate(cfg.DSN()); err != nil {
			logger.Sugar.Fatalf("Failed to migrate index database: %v", err)
		}
		db := database.Connect(cfg)
		defer db.Close()
		index = repository.NewPostgresIndex(db)
	}

	var uriCache registry.Cache
	if cfg.RedisAddr != "" {
		c := cache.New(cache.Config{
			Addr:     cfg.RedisAddr,
			DB:       cfg.RedisDB,
			Password: cfg.RedisPassword,
			TTL:      cfg.URICacheTTL,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := c.Ping(ctx)
		cancel()
		if err != nil {
			logger.Sugar.Warnf("Document cache disabled: %v", err)
			c.Close()
		} else {
			defer c.Close()
			uriCache = c
		}
	}

	documents := registry.NewRegistry(index, uriCache)
	builder := search.NewBuilder(cfg, documents)
	svc := service.NewAnnotationService(cfg, index, documents, builder)

	addr := ":" + cfg.AppPort
	logger.Sugar.Infof("Annotation store listening on %s", addr)
	if err := http.ListenAndServe(addr, router.Setup(cfg, svc)); err != nil {
		logger.Sugar.Fatalf("Server stopped: %v", err)
	}
}

// issueToken prints a signed token for local clients:
//
//	annotationstore token -user alice -consumer annotateit [-admin]
func issueToken(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	user := fs.String("user", "", "user id")
	consumer := fs.String("consumer", "", "consumer key")
	admin := fs.Bool("admin", false, "grant consumer admin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" || *consumer == "" {
		return fmt.Errorf("-user and -consumer are required")
	}
	token, err := middleware.IssueToken(&model.Identity{ID: *user, ConsumerKey: *consumer, IsAdmin: *admin},
		cfg.JWTSecret, cfg.JWTTTL, time.Now())
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
