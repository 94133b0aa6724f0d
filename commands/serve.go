package commands

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ambitus/orchestrator/internal/toolhost"
	transport "github.com/ambitus/orchestrator/internal/transport/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator API and tool server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve() error {
	ctx := context.Background()
	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	log.Printf("Starting orchestrator...")
	log.Printf("API port: %d", rt.cfg.HTTPPort)
	log.Printf("Tool host port: %d", rt.cfg.ToolHostPort)
	log.Printf("Database: %s", rt.cfg.DatabaseURL)

	apiServer := transport.NewServer(rt.service)
	toolServer := toolhost.NewServer(rt.registry)

	go func() {
		addr := fmt.Sprintf(":%d", rt.cfg.HTTPPort)
		if err := apiServer.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start API server: %v", err)
		}
	}()
	go func() {
		addr := fmt.Sprintf(":%d", rt.cfg.ToolHostPort)
		if err := toolServer.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start tool server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down orchestrator...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown API server gracefully: %v", err)
	}
	if err := toolServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown tool server gracefully: %v", err)
	}

	log.Println("Orchestrator stopped")
	return nil
}
