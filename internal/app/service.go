// ABOUTME: Relay service orchestration
// ABOUTME: Builds discovery, session, playback, relay and TTS components from config
package app

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/Resonate-Protocol/cast-relay/internal/cast"
	"github.com/Resonate-Protocol/cast-relay/internal/castv2"
	"github.com/Resonate-Protocol/cast-relay/internal/config"
	"github.com/Resonate-Protocol/cast-relay/internal/discovery"
	"github.com/Resonate-Protocol/cast-relay/internal/netutil"
	"github.com/Resonate-Protocol/cast-relay/internal/playback"
	"github.com/Resonate-Protocol/cast-relay/internal/relay"
	"github.com/Resonate-Protocol/cast-relay/internal/session"
	"github.com/Resonate-Protocol/cast-relay/internal/tts"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Deps overrides the network-facing pieces; zero fields use the real ones
type Deps struct {
	Sweeper discovery.Sweeper
	Dialer  cast.Dialer
	Engines []tts.Engine
}

// Service owns every long-lived component
type Service struct {
	Config   config.Config
	Logger   *log.Logger
	ServerID string

	Registry  *discovery.Registry
	Discovery *discovery.Loop
	Sessions  *session.Manager
	Playback  *playback.Controller
	Store     *relay.Store
	Relay     *relay.Relay
	TTS       *tts.Synthesizer
	Resolver  *netutil.Resolver

	started time.Time
}

// Summary is a compact view of the service for status displays
type Summary struct {
	Receivers   []cast.Receiver
	Session     session.State
	Device      string
	Staged      int
	Sweeps      discovery.Stats
	URL         string
	Uptime      time.Duration
	Engines     map[string]bool
	CurrentName string
}

// New wires a service from cfg
func New(cfg config.Config, logger *log.Logger, deps Deps) (*Service, error) {
	if logger == nil {
		logger = log.Default()
	}

	sweeper := deps.Sweeper
	if sweeper == nil {
		sweeper = discovery.NewMDNSSweeper(discovery.MDNSConfig{Logger: logger.WithPrefix("mdns")})
	}

	dialer := deps.Dialer
	if dialer == nil {
		dialer = castv2.NewDialer(castv2.Options{
			HeartbeatInterval: cfg.Cast.HeartbeatInterval,
			RequestTimeout:    cfg.Cast.RequestTimeout,
			AppID:             cfg.Cast.AppID,
			Logger:            logger.WithPrefix("castv2"),
		})
	}

	engines := deps.Engines
	if engines == nil {
		// An empty list means the standard model locations
		var piperDirs []string
		if len(cfg.TTS.PiperModelDirs) > 0 {
			piperDirs = cfg.TTS.PiperModelDirs
		}
		engines = []tts.Engine{
			tts.NewPiper(tts.PiperConfig{
				Binary:    cfg.TTS.PiperBinary,
				Model:     cfg.TTS.PiperModel,
				ModelDirs: piperDirs,
			}),
			tts.NewEspeak(cfg.TTS.EspeakBinary),
		}
	}

	store, err := relay.NewStore(relay.StoreConfig{
		Dir:       cfg.Relay.StageDir,
		TTL:       cfg.Relay.TTL,
		MaxStaged: cfg.Relay.MaxStaged,
		Logger:    logger.WithPrefix("relay"),
	})
	if err != nil {
		return nil, err
	}

	registry := discovery.NewRegistry()
	loop := discovery.NewLoop(discovery.LoopConfig{
		Sweeper:       sweeper,
		Registry:      registry,
		Timeout:       cfg.Discovery.SweepTimeout,
		Interval:      cfg.Discovery.Interval,
		RetryInterval: cfg.Discovery.RetryInterval,
		Logger:        logger.WithPrefix("discovery"),
	})

	sessions := session.New(session.Config{
		Receivers:      registry,
		Dialer:         dialer,
		ConnectTimeout: cfg.Session.ConnectTimeout,
		CloseTimeout:   cfg.Session.CloseTimeout,
		StatusTimeout:  cfg.Session.StatusTimeout,
		Logger:         logger.WithPrefix("session"),
	})

	ctrl := playback.New(playback.Config{
		Sessions:     sessions,
		PlayTimeout:  cfg.Playback.PlayTimeout,
		PollInterval: cfg.Playback.PollInterval,
		Logger:       logger.WithPrefix("playback"),
	})

	resolver := netutil.NewResolver(cfg.HTTP.PublicHost)

	return &Service{
		Config:    cfg,
		Logger:    logger,
		ServerID:  uuid.NewString(),
		Registry:  registry,
		Discovery: loop,
		Sessions:  sessions,
		Playback:  ctrl,
		Store:     store,
		Relay: relay.New(relay.Config{
			Store:    store,
			Player:   ctrl,
			Sessions: sessions,
			Resolver: resolver,
			Port:     cfg.HTTP.Port(),
			Logger:   logger.WithPrefix("relay"),
		}),
		TTS:      tts.NewSynthesizer(logger.WithPrefix("tts"), engines...),
		Resolver: resolver,
		started:  time.Now(),
	}, nil
}

// Speak synthesizes req and casts the result
func (s *Service) Speak(ctx context.Context, req tts.Request) (relay.Result, error) {
	if _, _, ok := s.Sessions.Current(); !ok {
		return relay.Result{}, session.ErrNoActiveConnection
	}

	audio, err := s.TTS.Synthesize(ctx, req)
	if err != nil {
		return relay.Result{}, fmt.Errorf("failed to synthesize: %w", err)
	}
	return s.Relay.Cast(ctx, bytes.NewReader(audio.Data), audio.ContentType)
}

// Summary collects a snapshot for the TUI
func (s *Service) Summary() Summary {
	sum := Summary{
		Receivers:   s.Registry.List(),
		Session:     s.Sessions.State(),
		Staged:      s.Store.Len(),
		Sweeps:      s.Discovery.Stats(),
		Uptime:      time.Since(s.started),
		Engines:     s.TTS.Available(),
		CurrentName: s.Relay.Current(),
	}
	if _, rc, ok := s.Sessions.Current(); ok {
		sum.Device = rc.DisplayName
	}
	if host, err := s.Resolver.Host(); err == nil {
		sum.URL = fmt.Sprintf("http://%s:%d/cast", host, s.Config.HTTP.Port())
	}
	return sum
}

// Close disconnects the receiver and removes staged audio
func (s *Service) Close(ctx context.Context) error {
	s.Sessions.Disconnect(ctx)
	return s.Store.Close()
}
