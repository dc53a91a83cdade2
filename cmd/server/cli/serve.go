package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/spf13/cobra"

	"memoria/internal/events"
	"memoria/internal/router"
	"memoria/internal/storage"
)

func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	pub, closeEvents, err := events.Connect(a.cfg.Events.NatsURL, a.cfg.Events.SubjectPrefix, a.log)
	if err != nil {
		return err
	}
	defer closeEvents()

	svc, dispatcher, store, err := a.services(pub)
	if err != nil {
		return err
	}
	// Drain queued events before the connection closes.
	defer dispatcher.Close()

	if a.cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	opts := router.Options{
		SessionSecret: a.cfg.Server.SessionSecret,
		CookieName:    a.cfg.Server.CookieName,
		SecureCookies: a.cfg.Server.SecureCookies,
		MaxUploadSize: a.cfg.Storage.MaxUploadSize,
	}
	if local, ok := store.(*storage.Local); ok {
		opts.UploadDir = local.Dir()
		opts.UploadURL = a.cfg.Storage.PublicURL
	}
	engine := router.New(svc, opts, a.log)

	handler := cors.New(cors.Options{
		AllowedOrigins:   a.cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	}).Handler(engine)

	srv := &http.Server{
		Addr:    a.cfg.Server.Addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
