// Command imclient-demo is a minimal reference host for the imcore SDK:
// it loads configuration the same way the original gateway's main.go
// did, constructs a Session, logs in, and prints inbound events until
// interrupted.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"imcore/config"
	"imcore/logging"
	"imcore/session"
	"imcore/store"
	"imcore/transport"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides IM_LOG_LEVEL)")
	flag.Parse()

	bootLogger := logging.New(logging.Config{Level: logging.LevelInfo, Format: logging.FormatPretty})
	bootLogger.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("starting imclient-demo")

	cfg, err := config.Load(&bootLogger)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	cfg.Print()

	sess, err := session.New(cfg)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to construct session")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectionTimeout)
	defer cancel()
	if err := sess.Initialize(ctx); err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to initialize session")
	}

	sess.OnConnectionChange(func(from, to transport.State) {
		bootLogger.Info().Str("from", from.String()).Str("to", to.String()).Msg("connection state changed")
	})
	sess.OnMessage(func(m store.Message) {
		bootLogger.Info().
			Str("conversation_id", m.ConversationID).
			Str("sender_id", m.SenderID).
			Uint32("sequence", m.Sequence).
			Msg("message received")
	})
	sess.OnRevoke(func(messageID string) {
		bootLogger.Info().Str("message_id", messageID).Msg("message revoked")
	})

	loginCtx, loginCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer loginCancel()
	if err := sess.Login(loginCtx, cfg.UserID, os.Getenv("IM_AUTH_TOKEN")); err != nil {
		bootLogger.Error().Err(err).Msg("login failed, continuing in offline mode")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	bootLogger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = sess.Logout(shutdownCtx)
	if err := sess.Close(); err != nil {
		bootLogger.Error().Err(err).Msg("error during shutdown")
	}
}
