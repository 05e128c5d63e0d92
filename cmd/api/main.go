package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Qwalex/ai-chat/internal/config"
	"github.com/Qwalex/ai-chat/internal/db"
	"github.com/Qwalex/ai-chat/internal/httpapi"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	database, err := db.Open(cfg)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer database.Close()

	handler := httpapi.NewRouter(cfg, database)

	srv := &http.Server{
		Addr:        cfg.ListenAddress(),
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: SSE responses stay open as long as the upstream
		// streams; the relay's idle-read timeout bounds hung upstreams.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("api listening on %s", cfg.ListenAddress())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
