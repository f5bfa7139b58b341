package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/peakfit/callkit/internal/api"
	"github.com/peakfit/callkit/internal/call"
	"github.com/peakfit/callkit/internal/config"
	"github.com/peakfit/callkit/internal/domain"
	"github.com/peakfit/callkit/internal/media"
	"github.com/peakfit/callkit/internal/notify"
	"github.com/peakfit/callkit/internal/rtc"
	sigclient "github.com/peakfit/callkit/internal/signal"
)

const helpText = `callkit - peer voice/video calling engine

Without flags, callkit waits for incoming call invitations (notification feed
poll plus push subscription) and logs them; pass -answer to auto-accept.

Environment Variables (required):
  CALLKIT_API_URL     platform REST base URL
  CALLKIT_TOKEN       bearer token
  CALLKIT_USER_ID     this user's id
  CALLKIT_SIGNAL_URL  signaling relay websocket URL (ws://host:port/ws)

Options:
  -call <user>  place a call to the given user id
  -video        request a video call (with -call)
  -answer       auto-accept incoming invitations
  -v            verbose logging
  -h, --help    show this help
`

func main() {
	var (
		callee  = flag.String("call", "", "user id to call")
		video   = flag.Bool("video", false, "request video")
		answer  = flag.Bool("answer", false, "auto-accept incoming calls")
		verbose = flag.Bool("v", false, "verbose logging")
	)
	flag.Usage = func() { fmt.Print(helpText) }
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		log.Info().Str("signal", s.String()).Msg("shutting down")
		cancel()
	}()

	codecSel, err := media.NewCodecSelector()
	if err != nil {
		log.Fatal().Err(err).Msg("codec selector")
	}

	apiClient := api.NewClient(cfg.APIURL, cfg.Token)
	newSignaler := func(h domain.SignalHandler) domain.Signaler {
		return sigclient.NewClient(cfg.SignalURL, cfg.UserID, h)
	}

	orch := call.New(call.Deps{
		SelfID:      cfg.UserID,
		API:         apiClient,
		Acquirer:    media.NewAcquirer(codecSel),
		NewSignaler: newSignaler,
		NewPeer: func() (domain.Peer, error) {
			return rtc.NewSession(cfg.STUNServers, codecSel)
		},
		RingTimeout:        cfg.RingTimeout,
		NegotiationTimeout: cfg.NegotiationTimeout,
	})

	orch.SetOnStateChange(func(s domain.CallState) {
		log.Info().Str("callState", s.String()).Msg("call state")
		if s == domain.StateEnded && *callee != "" {
			cancel()
		}
	})
	orch.SetOnRemoteStream(func(rs *domain.RemoteStream) {
		log.Info().Int("tracks", len(rs.Tracks())).Msg("remote media flowing")
	})
	orch.SetOnInvitation(func(inv domain.IncomingInvitation) {
		log.Info().Str("from", inv.From).Str("kind", string(inv.Kind)).Msg("incoming call")
		if *answer {
			go func() {
				if err := orch.Accept(ctx); err != nil {
					log.Error().Err(err).Msg("accept")
				}
			}()
		}
	})

	tracker := notify.NewTracker()
	go notify.NewWatcher(apiClient, orch, tracker, cfg.PollInterval).Run(ctx)
	go notify.NewPushWatcher(newSignaler, cfg.UserID, orch, tracker).Run(ctx)

	if *callee != "" {
		kind := domain.MediaAudio
		if *video {
			kind = domain.MediaVideo
		}
		if err := orch.StartCall(ctx, *callee, kind); err != nil {
			log.Fatal().Err(err).Msg("start call")
		}
	} else {
		log.Info().Str("user", cfg.UserID).Msg("waiting for calls")
	}

	<-ctx.Done()

	if err := orch.Hangup(context.Background()); err != nil {
		log.Warn().Err(err).Msg("hangup")
	}
	log.Info().Msg("done")
}
