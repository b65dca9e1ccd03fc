package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/reviewharvest/review-bridge/internal/conf"
	"github.com/reviewharvest/review-bridge/internal/data"
)

// send-message sends one text through the configured channel and optionally
// waits for the answer. Useful to check credentials or the WhatsApp login.
func main() {
	_ = godotenv.Load()

	if len(os.Args) < 3 {
		fmt.Println("Usage: send-message <contact> <message> [wait-seconds]")
		os.Exit(1)
	}
	contact := os.Args[1]
	message := os.Args[2]
	wait := 0 * time.Second
	if len(os.Args) > 3 {
		d, err := time.ParseDuration(os.Args[3] + "s")
		if err != nil {
			fmt.Printf("Error: invalid wait %q\n", os.Args[3])
			os.Exit(1)
		}
		wait = d
	}

	cfg := conf.LoadFromEnv()
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	channel, err := data.NewChannel(cfg.ToRepositoryOptions().Channel, logger)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), wait+5*time.Minute)
	defer cancel()

	session, err := channel.Open(ctx)
	if err != nil {
		fmt.Printf("Error: open %s: %v\n", channel.Name(), err)
		os.Exit(1)
	}
	defer session.Close()

	sentAt := time.Now()
	if err := session.Send(ctx, contact, message); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Message sent via %s\n", channel.Name())

	deadline := sentAt.Add(wait)
	for time.Now().Before(deadline) {
		reply, err := session.PollReply(ctx, contact, sentAt)
		if err != nil {
			fmt.Printf("Error: poll: %v\n", err)
			os.Exit(1)
		}
		if reply != nil {
			fmt.Printf("Reply at %s: %s\n", reply.At.Format(time.RFC3339), reply.Text)
			return
		}
		time.Sleep(3 * time.Second)
	}
	if wait > 0 {
		fmt.Println("No reply yet")
	}
}
