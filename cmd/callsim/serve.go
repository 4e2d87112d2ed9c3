package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/callsim/internal/config"
	"github.com/sweeney/callsim/internal/dashboard"
	"github.com/sweeney/callsim/internal/event"
	"github.com/sweeney/callsim/internal/launcher"
	"github.com/sweeney/callsim/internal/metrics"
	"github.com/sweeney/callsim/internal/normalize"
	"github.com/sweeney/callsim/internal/provision"
	"github.com/sweeney/callsim/internal/publisher"
	"github.com/sweeney/callsim/internal/registry"
	"github.com/sweeney/callsim/internal/stream"
	"github.com/sweeney/callsim/internal/webhook"
)

const (
	metricsNamespace = "callsim"
	shutdownTimeout  = 10 * time.Second
)

func webhookCmd(a *app) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Receive webhook events and print them as they arrive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := registry.New(
				registry.WithLogger(a.logger),
				registry.WithRetention(a.cfg.Registry.Retention),
				registry.WithSweepInterval(a.cfg.Registry.SweepInterval),
			)
			pipeline := normalize.NewPipeline(
				normalize.New(normalize.WithPersonas(a.dir), normalize.WithLogger(a.logger)),
				reg, a.logger,
			)
			srv := webhook.New(a.webhookConfig(),
				webhook.WithIngester(pipeline),
				webhook.WithLogger(a.logger),
			)

			// Requests are served concurrently; keep each event's lines together.
			var mu sync.Mutex
			srv.On(webhook.Wildcard, func(_ context.Context, evt event.Event) error {
				mu.Lock()
				defer mu.Unlock()
				a.out.Event(evt)
				return nil
			})

			ctx := cmd.Context()
			go reg.Run(ctx)

			p := a.port(port)
			a.out.Header("Webhook listener")
			a.out.Info("Listening", fmt.Sprintf("http://localhost:%d%s", p, srv.Path()))
			a.out.Info("Health", fmt.Sprintf("http://localhost:%d/health", p))
			a.out.Println()
			return listen(ctx, p, srv, a.logger)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (default from config)")
	return cmd
}

func serveCmd(a *app) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook ingress, dashboard API and live push channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			pub, err := connectBus(a.cfg.Bus, a.logger)
			if err != nil {
				return err
			}
			if pub != nil {
				defer pub.Close()
			}

			s := a.buildStack(pub)
			defer s.close()
			s.start(ctx)

			if a.cfgPath != "" {
				if err := config.Watch(ctx, a.cfgPath, a.dir, a.logger); err != nil {
					a.logger.Warn("config hot reload disabled", "err", err)
				}
			}

			p := a.port(port)
			a.logger.Info("callsim serving",
				"port", p,
				"webhook", a.cfg.Server.WebhookPath,
				"bus", a.cfg.Bus.Kind,
				"platform", s.platformReady,
			)
			return listen(ctx, p, s.handler, a.logger)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (default from config)")
	return cmd
}

func (a *app) port(flag int) int {
	if flag > 0 {
		return flag
	}
	return a.cfg.Server.Port
}

func (a *app) webhookConfig() webhook.Config {
	return webhook.Config{
		Path:         a.cfg.Server.WebhookPath,
		Secret:       a.cfg.Platform.WebhookSecret,
		MaxBodyBytes: a.cfg.Server.MaxBodyBytes,
	}
}

// stack is everything behind the serve listener.
type stack struct {
	reg     *registry.Registry
	hub     *stream.Hub
	metrics *metrics.Metrics
	bridge  *publisher.Bridge
	handler http.Handler

	platformReady bool
	detach        []func()
}

func (a *app) buildStack(pub publisher.Publisher) *stack {
	m := metrics.New(metricsNamespace)
	reg := registry.New(
		registry.WithLogger(a.logger),
		registry.WithRetention(a.cfg.Registry.Retention),
		registry.WithSweepInterval(a.cfg.Registry.SweepInterval),
	)
	s := &stack{reg: reg, metrics: m}
	s.detach = append(s.detach, m.ObserveRegistry(metricsNamespace, reg))

	pipeline := normalize.NewPipeline(
		normalize.New(normalize.WithPersonas(a.dir), normalize.WithLogger(a.logger)),
		reg, a.logger,
	)
	ingress := webhook.New(a.webhookConfig(),
		webhook.WithIngester(pipeline),
		webhook.WithLogger(a.logger),
		webhook.WithMetrics(m),
	)
	s.hub = stream.NewHub(reg,
		stream.WithHeartbeat(a.cfg.Server.Heartbeat),
		stream.WithBuffer(a.cfg.Server.SubscriberBuffer),
		stream.WithLogger(a.logger),
		stream.WithMetrics(m),
	)

	if pub != nil {
		s.bridge = publisher.NewBridge(pub,
			publisher.WithTopicPrefix(a.cfg.Bus.TopicPrefix),
			publisher.WithQueueSize(a.cfg.Bus.QueueSize),
			publisher.WithLogger(a.logger),
			publisher.WithMetrics(m),
		)
		s.detach = append(s.detach, s.bridge.Attach(reg))
	}

	deps := dashboard.Deps{
		Calls:   reg,
		Ingress: ingress,
		Stream:  http.HandlerFunc(s.hub.ServeSSE),
		WS:      http.HandlerFunc(s.hub.ServeWS),
		Metrics: m.Handler(),
	}
	// Interfaces stay nil without a key so the routes report it.
	if c, err := a.client(); err == nil {
		deps.Platform = c
		deps.Provisioner = provision.New(c, a.dir, a.logger)
		deps.Launcher = launcher.New(c, a.dir, a.logger)
		s.platformReady = true
	} else {
		a.logger.Warn("platform routes disabled", "err", err)
	}

	s.handler = dashboard.New(deps, a.logger)
	return s
}

// start runs the reaper and bus bridge until ctx is done.
func (s *stack) start(ctx context.Context) {
	go s.reg.Run(ctx)
	if s.bridge != nil {
		go s.bridge.Run(ctx)
	}
}

func (s *stack) close() {
	for _, fn := range s.detach {
		fn()
	}
}

// connectBus returns nil when no bus is configured.
func connectBus(cfg config.BusConfig, logger *slog.Logger) (publisher.Publisher, error) {
	switch cfg.Kind {
	case config.BusMQTT:
		pub, err := publisher.NewMQTTPublisher(publisher.MQTTOptions{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			QoS:      1,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		return pub, nil
	case config.BusNATS:
		pub, err := publisher.NewNATSPublisher(publisher.NATSOptions{
			URL:    cfg.NATS.URL,
			Name:   "callsim",
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		return pub, nil
	default:
		return nil, nil
	}
}

// listen serves h until ctx is done, then drains open requests.
func listen(ctx context.Context, port int, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		// Push streams end with ctx so Shutdown does not wait on them.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listening on :%d: %w", port, err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
