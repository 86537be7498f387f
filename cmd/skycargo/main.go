package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/curbz/skycargo/internal/clocksync"
	"github.com/curbz/skycargo/internal/eventloop"
	"github.com/curbz/skycargo/internal/gameapi/gameconnect"
	"github.com/curbz/skycargo/internal/gameapi/gamemodel"
	"github.com/curbz/skycargo/internal/logging"
	"github.com/curbz/skycargo/internal/metrics"
	"github.com/curbz/skycargo/internal/mockserver"
	"github.com/curbz/skycargo/internal/session"
	"github.com/curbz/skycargo/internal/world"
	"github.com/curbz/skycargo/pkg/util"
)

// --- configuration structures ---
type config struct {
	Logging   logging.Config     `yaml:"logging"`
	Channel   gameconnect.Config `yaml:"channel"`
	ClockSync clocksync.Config   `yaml:"clock_sync"`
	World     world.Config       `yaml:"world"`
	Session   session.Config     `yaml:"session"`
	Debug     struct {
		Addr string `yaml:"addr"`
	} `yaml:"debug"`
	Mock struct {
		Addr         string        `yaml:"addr"`
		PingInterval time.Duration `yaml:"ping_interval"`
		ClockSkew    time.Duration `yaml:"clock_skew"`
	} `yaml:"mock"`
}

func defaultConfig() config {
	var cfg config
	cfg.Logging = logging.Config{Level: "info"}
	cfg.Channel = gameconnect.DefaultConfig()
	cfg.Channel.URL = "ws://127.0.0.1:8086/ws"
	cfg.ClockSync = clocksync.DefaultConfig()
	cfg.World = world.DefaultConfig()
	cfg.Session = session.DefaultConfig()
	cfg.Debug.Addr = "127.0.0.1:9090"
	cfg.Mock.Addr = "127.0.0.1:8086"
	cfg.Mock.PingInterval = 5 * time.Second
	return cfg
}

func main() {
	useMock := flag.Bool("mock", false, "run against an in-process mock game server")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Debug("no .env file loaded")
	}

	cfgPath := os.Getenv("SKYCARGO_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := util.LoadConfigOver(cfgPath, defaultConfig())
	if err != nil {
		logrus.WithError(err).WithField("path", cfgPath).Fatal("error reading configuration file")
	}
	logging.Init(cfg.Logging)
	log := logging.For("main")

	token := os.Getenv("SKYCARGO_TOKEN")
	localID := "pilot"
	if token != "" {
		if localID, err = world.PlayerIDFromToken(token); err != nil {
			log.WithError(err).Fatal("invalid SKYCARGO_TOKEN")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *useMock {
		mock := mockserver.New(mockserver.Options{
			PingInterval:        cfg.Mock.PingInterval,
			MaxPongAwaitingTime: cfg.Channel.MaxPongAwaitingTime,
			SendConfig:          true,
			ClockSkew:           cfg.Mock.ClockSkew,
			OnConnect:           demoFrames(localID),
		})
		mockSrv := mock.Start(cfg.Mock.Addr)
		defer mockSrv.Close()
		cfg.Channel.URL = "ws://" + cfg.Mock.Addr + "/ws"
	}

	reg := metrics.New()
	loop := eventloop.New(256)
	clock := clocksync.New(cfg.ClockSync, loop, reg)
	channel := gameconnect.New(cfg.Channel, loop, loop, clock, reg)
	w := world.New(cfg.World, clock, loop, channel, reg)

	sessions := session.NewStore(cfg.Session)
	sessionID := uuid.NewString()
	sessions.Save(sessionID, session.Snapshot{Credential: token, LocalPlayerID: localID})

	loop.Post(func() {
		w.SetLocalPlayer(localID)

		channel.Route(gamemodel.StreamTimeSync, clock.HandleEnvelope)
		channel.Route(gamemodel.StreamPlayer, w.HandlePlayer)
		channel.Route(gamemodel.StreamPlayerPosition, w.HandlePosition)
		channel.Route(gamemodel.StreamAirport, w.HandleAirport)

		channel.OnOpen(func() { clock.Start(channel) })
		channel.OnStateChange(func(s gameconnect.State) {
			log.WithField("state", s).Info("channel state")
			w.SetLocalConnected(s == gameconnect.Open)
			if s != gameconnect.Open {
				clock.Stop()
			}
		})
		channel.OnUnableToConnect(func() {
			log.Error("unable to connect to game server, check SKYCARGO_TOKEN")
		})

		w.Subscribe(func(ev world.Event) {
			log.WithFields(logrus.Fields{
				"event":   ev.Kind,
				"player":  ev.PlayerID,
				"airport": ev.AirportID,
			}).Debug("world event")
			if ev.Kind == world.LocalPlaneChanged || ev.PlayerID == localID && ev.Kind == world.PlayerMoved {
				if p, ok := w.Player(localID); ok {
					sessions.UpdatePlane(sessionID, p.Plane)
				}
			}
			if ev.Kind == world.FuelLow {
				log.Warn("fuel low")
			}
		})
		w.StartMonitor()

		channel.Connect(token)
	})

	debugSrv := &http.Server{
		Addr:              cfg.Debug.Addr,
		Handler:           newDebugRouter(loop, reg, w, sessions, sessionID),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// stopped from the teardown below so that it runs on the loop first
		return loop.Run(context.Background())
	})
	g.Go(func() error {
		<-gctx.Done()
		loop.Post(func() {
			w.Close()
			clock.Stop()
			channel.Disconnect()
			loop.Stop()
		})
		return nil
	})
	g.Go(func() error {
		log.WithField("addr", debugSrv.Addr).Info("debug server listening")
		if err := debugSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return debugSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("shutdown with error")
		os.Exit(1)
	}
	log.Info("bye")
}
