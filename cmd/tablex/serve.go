package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vincentmin/table-agent/pkg/extract"
	"github.com/vincentmin/table-agent/pkg/server"
	"github.com/vincentmin/table-agent/pkg/tokens"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the extraction API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	runs, err := requireStore()
	if err != nil {
		return err
	}
	defer runs.Close()

	provider, modelName, err := newProvider(ctx, cfg.LLM)
	if err != nil {
		return err
	}
	truncator := tokens.Default()
	sb, err := newSandbox(cfg, truncator)
	if err != nil {
		return err
	}
	defer sb.Close()
	dockerfile, err := readDockerfile(cfg.Sandbox.DockerfilePath)
	if err != nil {
		return err
	}

	srv := server.New(runs, extract.Options{
		Model:       provider,
		ModelName:   modelName,
		PreviewRows: cfg.Run.PreviewRows,
		Sandbox:     sb,
		Dockerfile:  dockerfile,
		TurnLimit:   cfg.Run.TurnLimit,
		Formatter:   newFormatter(cfg, truncator),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
