package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quantwell/optioncore/backend/auth"
	"github.com/quantwell/optioncore/backend/broker"
	"github.com/quantwell/optioncore/backend/cache"
	"github.com/quantwell/optioncore/backend/condition"
	"github.com/quantwell/optioncore/backend/config"
	"github.com/quantwell/optioncore/backend/events"
	"github.com/quantwell/optioncore/backend/execution"
	"github.com/quantwell/optioncore/backend/gateway"
	"github.com/quantwell/optioncore/backend/logging"
	"github.com/quantwell/optioncore/backend/margin"
	"github.com/quantwell/optioncore/backend/oms"
	"github.com/quantwell/optioncore/backend/session"
	"github.com/quantwell/optioncore/backend/simulator"
	"github.com/quantwell/optioncore/backend/subscription"
	"github.com/quantwell/optioncore/backend/ticks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logging.Info("optioncore: starting", logging.String("mode", cfg.Trading.Mode), logging.String("environment", cfg.Environment))

	sys, brokerClient := build(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sys.Start(ctx)
	if brokerClient != nil {
		if token, err := sys.Sessions.Token(); err == nil && token != "" {
			brokerClient.SetAccessToken(token)
		}
		go func() {
			updates, err := brokerClient.StreamUpdates(ctx)
			if err != nil {
				logging.Error("broker: failed to open update stream", err)
				return
			}
			for push := range updates {
				sys.Updates.Handle(ctx, pushToUpdate(push))
			}
		}()
	}

	httpServer := startHTTPServer(cfg, sys)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logging.Info("optioncore: shutdown signal received, stopping")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Error("http: shutdown error", err)
	}
	if brokerClient != nil {
		brokerClient.Stop()
	}

	cancel()
	sys.Shutdown(shutdownCtx)
	logging.Info("optioncore: shutdown complete")
}

// build wires every collaborator into a runnable oms.System per the
// cancellation and ownership rules in §5, returning the broker client
// handle (nil in SIMULATOR mode) so main can stop its update stream.
func build(cfg *config.Config) (*oms.System, *broker.Client) {
	publisher := events.NewMemoryPublisher()
	backing := cache.NewMemoryCache(64*1024*1024, 100_000)
	metrics := execution.NewMetrics(prometheus.DefaultRegisterer)

	idem := execution.NewIdempotencyStore(backing, cfg.Idempotency.Window, execution.SystemClock{})
	queue := execution.NewPriorityQueue()
	store := execution.NewOrderStore()
	killSwitch := execution.NewKillSwitch(store, nil, publisher) // gateway attached below

	estimator := margin.NewEstimator()
	calendar := execution.NewStaticCalendar(nil, 15, 30)

	var gw execution.Gateway
	var brokerClient *broker.Client

	switch cfg.Trading.Mode {
	case "LIVE":
		brokerClient = broker.NewClient(broker.Config{
			APIKey:    cfg.Broker.APIKey,
			APISecret: cfg.Broker.APISecret,
			BaseURL:   cfg.Broker.BaseURL,
			StreamURL: cfg.Broker.StreamURL,
		})
		readBucket := gateway.NewRateBucket(10, 3)
		orderBucket := gateway.NewRateBucket(10, 1)
		breaker := gateway.NewCircuitBreaker(5, 30*time.Second)
		gw = gateway.NewLive(brokerClient, readBucket, orderBucket, breaker, estimator)
	default:
		book := simulator.NewOrderBook(int64(cfg.Simulator.SlippageBps), publisher)
		positions := simulator.NewPositionBook()
		gw = gateway.NewSimulated(book, positions, estimator)
	}

	// killSwitch needs the final gateway; rebuild with it attached.
	killSwitch = execution.NewKillSwitch(store, gw, publisher)

	router := execution.NewRouter(idem, nil, queue, publisher, metrics, killSwitch)
	consumer := execution.NewConsumer(queue, gw, store, idem, publisher, metrics)
	fillTracker := execution.NewFillTracker(2 * time.Minute)
	amendments := execution.NewAmendmentMachine(store, gw, publisher)
	updates := execution.NewUpdateHandler(store, fillTracker, publisher, nil)
	timeouts := execution.NewTimeoutMonitor(store, gw, calendar, publisher, cfg.OrderTimeout.Market, cfg.OrderTimeout.Limit)

	var loginFn session.LoginFunc
	if brokerClient != nil {
		loginFn = func(ctx context.Context) (string, error) {
			if err := brokerClient.ExchangeToken(ctx, os.Getenv("BROKER_REQUEST_TOKEN")); err != nil {
				return "", err
			}
			return brokerClient.AccessToken(), nil
		}
	} else {
		loginFn = func(ctx context.Context) (string, error) { return "simulator", nil }
	}
	sessions := session.NewCoordinator(loginFn, calendar, execution.SystemClock{}, backing)

	subs := subscription.NewManager(cfg.Subscription.MaxInstruments)
	conditions := condition.NewEngine(publisher, nil)

	recorder := ticks.NewRecorder(cfg.Recorder.Directory, time.Duration(cfg.Recorder.FlushIntervalMs)*time.Millisecond, 5000)
	if cfg.Recorder.AutoStart {
		recorder.SetPhase(context.Background(), ticks.PhaseNormal)
	}

	sys := &oms.System{
		Mode:          oms.Mode(cfg.Trading.Mode),
		Publisher:     publisher,
		Router:        router,
		Queue:         queue,
		Consumer:      consumer,
		Gateway:       gw,
		Store:         store,
		Amendments:    amendments,
		Updates:       updates,
		Timeouts:      timeouts,
		FillTracker:   fillTracker,
		KillSwitch:    killSwitch,
		Sessions:      sessions,
		Subscriptions: subs,
		Conditions:    conditions,
		Recorder:      recorder,
	}
	return sys, brokerClient
}

// startHTTPServer exposes only the operational surface the execution core
// needs directly: Prometheus metrics and a liveness probe. The admin/trader
// REST API this auth package ultimately serves is out of scope (§1 Non-goals).
func startHTTPServer(cfg *config.Config, sys *oms.System) *http.Server {
	authService := auth.NewService(os.Getenv("ADMIN_PASSWORD_HASH"), os.Getenv("JWT_SECRET"))
	_ = authService // wired for the (out-of-scope) REST surface to depend on

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv := &http.Server{Addr: ":7999", Handler: mux}
	go func() {
		logging.Info("http: listening", logging.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal("http: server error", err)
		}
	}()
	return srv
}

// pushToUpdate normalizes a broker.OrderPush's string-quoted wire fields
// into an execution.OrderUpdate, mirroring broker.Client's own internal
// conversion helpers for the same wire quirks (§9).
func pushToUpdate(p broker.OrderPush) execution.OrderUpdate {
	filled, _ := strconv.ParseInt(p.FilledQuantity, 10, 64)
	avgPrice, _ := decimal.NewFromString(p.AveragePrice)
	ts, err := time.Parse("2006-01-02 15:04:05", p.Timestamp)
	if err != nil {
		ts = time.Now()
	}
	return execution.OrderUpdate{
		BrokerOrderID: p.BrokerOrderID,
		NewStatus:     execution.NormalizeBrokerStatus(p.Status),
		NewFilledQty:  filled,
		AvgPrice:      avgPrice,
		Timestamp:     ts,
		Message:       p.Message,
	}
}
