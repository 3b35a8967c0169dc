// Command server runs the API as a local HTTP server, translating requests
// into API Gateway events.
package main

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"golang.org/x/sync/errgroup"

	"github.com/jun/docrag/backend/internal/app"
	"github.com/jun/docrag/backend/internal/config"
	"github.com/jun/docrag/backend/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	zlog, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zlog.Sync()

	application, err := app.New(ctx, cfg, zlog)
	if err != nil {
		zlog.Error("Failed to initialize app", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           lambdaAdapter(application),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zlog.Info("Starting local server", "addr", srv.Addr, "devMode", cfg.DevMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		zlog.Error("Server stopped", "error", err)
		os.Exit(1)
	}
	zlog.Info("Server stopped")
}

func lambdaAdapter(application *app.App) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		headers := make(map[string]string, len(r.Header))
		for k, v := range r.Header {
			headers[k] = v[0]
		}
		queryParams := make(map[string]string)
		for k, v := range r.URL.Query() {
			queryParams[k] = v[0]
		}

		resp, err := application.HandleRequest(r.Context(), events.APIGatewayProxyRequest{
			Path:                  r.URL.Path,
			HTTPMethod:            r.Method,
			Headers:               headers,
			QueryStringParameters: queryParams,
			Body:                  string(body),
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.IsBase64Encoded {
			raw, err := base64.StdEncoding.DecodeString(resp.Body)
			if err == nil {
				w.Write(raw)
				return
			}
		}
		w.Write([]byte(resp.Body))
	})
}
