//go:build integration
// +build integration

package scripts

import (
	"context"
	"fmt"
	"log"

	"github.com/ZanzyTHEbar/chatrelay/relay/config"
	"github.com/ZanzyTHEbar/chatrelay/relay/generation"
	"github.com/ZanzyTHEbar/chatrelay/relay/transcript"

	"github.com/rs/zerolog"
)

// RunSmokeProvider sends one message to the configured provider. It is a
// no-op without an API key.
func RunSmokeProvider() {
	cfg, err := config.LoadConfig("")
	must(err, "load config")
	if cfg.Provider.APIKey == "" {
		fmt.Println("SKIP: no provider API key configured")
		return
	}

	client := generation.NewFactory(cfg, zerolog.Nop()).CreateClient()
	reply, err := client.Complete(context.Background(), transcript.Transcript{
		transcript.UserTurn("Reply with the single word: pong"),
	})
	if err != nil {
		log.Fatalf("completion failed: %v", err)
	}
	fmt.Printf("OK: %s replied %q\n", cfg.Provider.Model, reply)
}
