package main

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/peakfit/callkit/internal/relay"
)

// callrelay is the development signaling relay: a bare room-based forwarder
// with no knowledge of calls beyond room membership.
func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})

	_ = godotenv.Load()
	addr := os.Getenv("CALLKIT_RELAY_ADDR")
	if addr == "" {
		addr = ":8787"
	}

	hub := relay.NewHub()
	log.Info().Str("addr", addr).Msg("relay listening")
	if err := hub.Router().Run(addr); err != nil {
		log.Fatal().Err(err).Msg("relay server")
	}
}
