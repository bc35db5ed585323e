package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Wyydra/meshcall/internal/adapter/driven/capture/device"
	"github.com/Wyydra/meshcall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/meshcall/internal/adapter/driven/media/pion"
	"github.com/Wyydra/meshcall/internal/adapter/driven/persistence/memory"
	render "github.com/Wyydra/meshcall/internal/adapter/driven/render/ws"
	handler "github.com/Wyydra/meshcall/internal/adapter/driving/http"
	"github.com/Wyydra/meshcall/internal/config"
	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/Wyydra/meshcall/internal/core/service"
	"github.com/Wyydra/meshcall/internal/metrics"
	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	l := newLogger(cfg.Log)
	log.Logger = l

	collector := metrics.NewPrometheusCollector()

	selector, err := device.NewCodecSelector(cfg.Media.VideoBitRate)
	if err != nil {
		l.Warn().Err(err).Msg("No local encoders, joining without capture")
	}
	capturer := device.NewCapturer(device.Config{
		MaxWidth:  cfg.Media.MaxWidth,
		MaxHeight: cfg.Media.MaxHeight,
	}, selector)

	engine, err := pion.NewEngine(pion.Config{
		ICEServers:          []pion.ICEServer{{URLs: cfg.ICE.STUNServers}},
		DisconnectedTimeout: cfg.ICE.DisconnectedTimeout,
		FailedTimeout:       cfg.ICE.FailedTimeout,
		KeepAliveInterval:   cfg.ICE.KeepAliveInterval,
	}, codecOptions(selector)...)
	if err != nil {
		l.Fatal().Err(err).Msg("Failed to create media engine")
	}

	header := http.Header{}
	for k, v := range cfg.Signaling.Headers {
		header.Set(k, v)
	}
	channel := ws.NewClient(ws.Config{
		URL:              cfg.Signaling.URL,
		Header:           header,
		HandshakeTimeout: cfg.Signaling.HandshakeTimeout,
		WriteWait:        cfg.Signaling.WriteTimeout,
		PongWait:         cfg.Signaling.PongTimeout,
		SendBuffer:       cfg.Signaling.SendBuffer,
		ReconnectDelay:   cfg.Signaling.ReconnectDelay,
		Metrics:          collector,
	})

	self := domain.PeerID(cfg.Identity)
	hub := render.NewHub(self, memory.NewEventLog(cfg.Render.Backlog))
	callService := service.NewCallService(self, channel, engine, capturer, hub,
		service.WithMetrics(collector),
		service.WithLogger(l),
	)

	h := handler.NewHandler(callService, hub, collector.Handler(), cfg.HTTP.StaticDir)
	srv := &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: h.NewRouter(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The relay connection outlives the call service so leave_room can go out.
	signalingCtx, stopSignaling := context.WithCancel(context.Background())
	defer stopSignaling()

	go hub.Run()
	signalingDone := make(chan struct{})
	go func() {
		defer close(signalingDone)
		if err := channel.Run(signalingCtx); err != nil {
			l.Error().Err(err).Msg("Signaling stopped")
		}
	}()

	serviceDone := make(chan struct{})
	go func() {
		defer close(serviceDone)
		if err := callService.Run(ctx); err != nil {
			l.Error().Err(err).Msg("Call service stopped")
		}
	}()

	go func() {
		l.Info().Str("addr", cfg.HTTP.Address).Str("identity", cfg.Identity).Msg("Starting control server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	l.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}

	select {
	case <-serviceDone:
	case <-shutdownCtx.Done():
		l.Warn().Msg("Call service did not stop in time")
	}

	// Flush leave_room before the relay connection goes away.
	channel.Close()
	select {
	case <-signalingDone:
	case <-shutdownCtx.Done():
		l.Warn().Msg("Signaling did not close in time")
	}
	stopSignaling()
	hub.Stop()
	l.Info().Msg("Client exited")
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		return zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()
	}
	w := zerolog.ConsoleWriter{Out: os.Stdout}
	return zerolog.New(w).With().Timestamp().Caller().Logger()
}

// codecOptions registers the capture encoders on the media engine so that
// sent tracks and negotiated codecs agree.
func codecOptions(selector *mediadevices.CodecSelector) []pion.Option {
	if selector == nil {
		return nil
	}
	return []pion.Option{pion.WithCodecs(func(m *webrtc.MediaEngine) error {
		selector.Populate(m)
		return nil
	})}
}
