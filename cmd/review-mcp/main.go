package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/reviewharvest/review-bridge/internal/conf"
	"github.com/reviewharvest/review-bridge/internal/mcp"
	"github.com/reviewharvest/review-bridge/mcpserver"
)

// review-mcp exposes the campaign tools over MCP stdio.
// It talks to a running `review-bridge serve` through BRIDGE_API_URL.
func main() {
	// stdout carries the protocol, so logs go to stderr
	log.SetOutput(os.Stderr)

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	cfg := conf.LoadFromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := mcpserver.NewServer(mcp.NewClient(cfg.API.BridgeURL))
	log.Printf("review-mcp: %s, bridge at %s", mcpserver.Describe(), cfg.API.BridgeURL)

	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("MCP server error: %v", err)
	}
}
