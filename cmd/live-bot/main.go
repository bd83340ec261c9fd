package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/sync/errgroup"

	"github.com/ducminhle1904/order-pipeline/cmd/common"
	"github.com/ducminhle1904/order-pipeline/internal/bot"
	"github.com/ducminhle1904/order-pipeline/internal/config"
	"github.com/ducminhle1904/order-pipeline/internal/errors"
	"github.com/ducminhle1904/order-pipeline/internal/exchange"
	"github.com/ducminhle1904/order-pipeline/internal/exchange/adapters"
	"github.com/ducminhle1904/order-pipeline/internal/execution"
	"github.com/ducminhle1904/order-pipeline/internal/logger"
	"github.com/ducminhle1904/order-pipeline/internal/monitoring"
	"github.com/ducminhle1904/order-pipeline/internal/notifications"
	"github.com/ducminhle1904/order-pipeline/internal/recovery"
	"github.com/ducminhle1904/order-pipeline/internal/risk"
	"github.com/ducminhle1904/order-pipeline/internal/safety"
	"github.com/ducminhle1904/order-pipeline/internal/sizing"
	"github.com/ducminhle1904/order-pipeline/internal/state"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Pipeline configuration file (.json, .yaml or .yml)")
		envFile     = flag.String("env", ".env", "Environment file path (default: .env)")
		signalsFile = flag.String("signals", "-", "JSONL signal file, - for stdin")
		dryRun      = flag.Bool("dry-run", false, "Live mode without sending orders to the exchange")
		version     = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *version {
		common.PrintVersion("live-bot")
		return
	}

	if *configFile == "" {
		log.Fatal("Please specify a config file with -config flag")
	}

	if err := config.LoadEnvFile(*envFile); err != nil {
		log.Printf("Warning: Could not load env file (%v), checking environment variables...", err)
	}

	if *dryRun {
		os.Setenv(config.EnvDryRun, "true")
	}
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := run(cfg, *signalsFile); err != nil {
		log.Fatalf("Pipeline stopped: %v", err)
	}
}

func run(cfg *config.PipelineConfig, signalsPath string) error {
	lg, err := logger.NewLogger(logger.Options{
		Dir:    cfg.Monitoring.LogDir,
		Class:  cfg.InstrumentClass,
		Mode:   cfg.Mode,
		Debug:  cfg.Monitoring.Debug,
		Stdout: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer lg.Close()

	loc, err := risk.LoadLocation(cfg.Timezone)
	if err != nil {
		return err
	}
	store, err := state.Open(state.Options{
		Root:        cfg.Store.Root,
		Mode:        cfg.Mode,
		Class:       cfg.InstrumentClass,
		CapitalBase: cfg.Capital,
		Location:    loc,
		Now:         time.Now,
	}, lg)
	if err != nil {
		return err
	}
	defer store.Close()

	staleAfter, _ := cfg.HealthStaleAfter()
	health := monitoring.NewHealthChecker(staleAfter)
	alerts := newAlerter(cfg, lg)

	broker := connectBroker(cfg, lg)
	var upstream exchange.PriceSource
	if broker != nil {
		upstream = broker
	}
	quotes := bot.NewQuoteBook(upstream)

	gate, err := risk.NewGate(cfg.Risk, lg, time.Now())
	if err != nil {
		return err
	}
	guardianCfg, _ := cfg.GuardianSettings()
	guardian := safety.NewGuardian(guardianCfg, quotes, store, lg,
		safety.WithFailOpenHook(func(string) { monitoring.RecordFailOpen() }))

	halt := execution.NewHaltFlag(cfg.Monitoring.HaltFile, lg)
	router, err := newRouter(cfg, store, quotes, broker, halt, health, alerts, lg)
	if err != nil {
		return err
	}

	engine, err := bot.NewEngine(bot.Components{
		Sizer:    sizing.NewSizer(cfg.Sizing, cfg.InstrumentClass, store, lg),
		Risk:     gate,
		Guardian: guardian,
		Router:   router,
		Store:    store,
		Quotes:   quotes,
		Health:   health,
	}, lg)
	if err != nil {
		return err
	}

	source, closeSource, err := openSignals(signalsPath, lg)
	if err != nil {
		return err
	}
	defer closeSource()

	printStartupInfo(cfg, broker)
	alerts.send(notifications.LevelInfo, fmt.Sprintf("Pipeline started in %s", modeString(cfg)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	interval, _ := cfg.PublishInterval()
	publisher := monitoring.NewPublisher(store, halt, health, interval, lg)
	server := &http.Server{Addr: cfg.Monitoring.Addr, Handler: monitoring.NewServeMux(health)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stop()
		return engine.Run(gctx, source)
	})
	g.Go(func() error { return publisher.Run(gctx) })
	if engine.Router().Mode() == execution.ModeLive {
		g.Go(func() error { return syncFills(gctx, engine, interval, lg) })
	}
	g.Go(func() error { return halt.Watch(gctx) })
	g.Go(func() error {
		lg.Info("Metrics and health on %s", cfg.Monitoring.Addr)
		if err := server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()
	engine.Shutdown()
	publisher.PublishOnce()
	if runErr != nil && !stderrors.Is(runErr, context.Canceled) {
		alerts.send(notifications.LevelError, fmt.Sprintf("Pipeline stopped: %v", runErr))
		return runErr
	}
	alerts.send(notifications.LevelSuccess, fmt.Sprintf("Pipeline stopped cleanly, equity $%.2f", store.Equity()))
	lg.Info("Pipeline stopped cleanly")
	return nil
}

// syncFills books broker fills on resting orders between signals
func syncFills(ctx context.Context, engine *bot.Engine, interval time.Duration, lg *logger.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := engine.SyncFills(ctx); err != nil {
				if errors.IsFatal(err) {
					return err
				}
				lg.LogWarning("FillSync", "%v", err)
			}
		}
	}
}

// alerter forwards operator alerts and only logs delivery failures
type alerter struct {
	notifier notifications.Notifier
	logger   *logger.Logger
}

func newAlerter(cfg *config.PipelineConfig, lg *logger.Logger) *alerter {
	n := notifications.New(cfg.Monitoring.TelegramToken, cfg.Monitoring.TelegramChat)
	if tg, ok := n.(*notifications.TelegramNotifier); ok {
		tg.WithTitle(fmt.Sprintf("Order Pipeline (%s/%s)", cfg.InstrumentClass, cfg.Mode))
		lg.Info("📱 Telegram alerts enabled")
	}
	return &alerter{notifier: n, logger: lg}
}

func (a *alerter) send(level, message string) {
	if err := a.notifier.SendAlert(level, message); err != nil {
		a.logger.LogWarning("Notifications", "alert not delivered: %v", err)
	}
}

// connectBroker builds the exchange adapter. Paper mode uses it only for
// quotes, so a missing configuration there is not an error.
func connectBroker(cfg *config.PipelineConfig, lg *logger.Logger) adapters.Live {
	broker, err := adapters.NewBroker(cfg.Exchange)
	if err != nil {
		if cfg.Mode == execution.ModeLive && !cfg.Execution.DryRun {
			lg.Error("Exchange unavailable: %v", err)
		} else {
			lg.LogDebugOnly("no exchange adapter: %v", err)
		}
		return nil
	}
	return broker
}

func newRouter(
	cfg *config.PipelineConfig,
	store *state.Store,
	quotes *bot.QuoteBook,
	broker adapters.Live,
	halt *execution.HaltFlag,
	health *monitoring.HealthChecker,
	alerts *alerter,
	lg *logger.Logger,
) (*execution.Router, error) {
	routerCfg := cfg.RouterConfig()
	if cfg.Mode == execution.ModePaper {
		return execution.NewRouter(routerCfg, store, execution.NewSimulator(quotes, routerCfg.SlippageBps), nil, halt, lg)
	}

	schedule, _ := cfg.RetrySchedule()
	opts := []recovery.Option{
		recovery.WithRetryHook(func(_, operation string, category errors.ErrorCategory) {
			monitoring.RecordRetry(operation, string(category))
		}),
	}
	if schedule != nil {
		opts = append(opts, recovery.WithSchedule(schedule))
	}
	handler := recovery.NewRecoveryHandler(lg, opts...)

	breakerCfg, _ := cfg.BreakerSettings()
	breaker := safety.NewCircuitBreaker("broker", breakerCfg)
	breaker.SetStateChangeCallback(func(name string, from, to safety.CircuitBreakerState) {
		lg.LogWarning("CircuitBreaker", "%s: %s -> %s", name, from, to)
		monitoring.UpdateCircuitState(name, int(to))
		health.SetCircuit(name, to.String())
		if to == safety.StateOpen {
			alerts.send(notifications.LevelWarning, fmt.Sprintf("Circuit breaker %s opened, broker calls paused", name))
		}
	})

	var b exchange.Broker
	if broker != nil {
		b = broker
	} else if !routerCfg.Live.DryRun {
		return nil, errors.NewConfigurationError("live-bot", "connect", "live mode needs an exchange adapter")
	}
	live := execution.NewLiveExecutor(b, handler, breaker, routerCfg.Live, lg)
	return execution.NewRouter(routerCfg, store, nil, live, halt, lg)
}

func openSignals(path string, lg *logger.Logger) (bot.SignalSource, func(), error) {
	if path == "" || path == "-" {
		return bot.NewJSONLSource(os.Stdin, lg), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open signals %s: %w", path, err)
	}
	return bot.NewJSONLSource(f, lg), func() { f.Close() }, nil
}

// printStartupInfo prints the pipeline settings an operator checks before trading
func printStartupInfo(cfg *config.PipelineConfig, broker adapters.Live) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("ORDER PIPELINE %s", common.GetFullVersion()))
	t.SetStyle(table.StyleRounded)

	exchangeInfo := "none (quotes from signals)"
	if broker != nil {
		exchangeInfo = fmt.Sprintf("%s (%s)", broker.GetName(), broker.GetEnvironment())
	}
	t.AppendRows([]table.Row{
		{"🏷️ Class", cfg.InstrumentClass},
		{"🚨 Mode", modeString(cfg)},
		{"🏪 Exchange", exchangeInfo},
		{"💰 Capital", fmt.Sprintf("$%.2f", cfg.Capital)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"📉 Per Trade Risk", fmt.Sprintf("%.2f%%", cfg.Risk.PerTradeRiskPct*100)},
		{"🛑 Daily Loss Cap", fmt.Sprintf("%.2f%%", cfg.Risk.MaxDailyLossPct*100)},
		{"🔌 Breaker Loss", fmt.Sprintf("$%.2f", cfg.Breakers.MaxDailyLoss)},
		{"🔌 Breaker DD", fmt.Sprintf("%.2f%%", cfg.Breakers.MaxDrawdownPct)},
		{"🛡️ Guardian", fmt.Sprintf("%v", cfg.Guardian.Enabled)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"💾 State", cfg.Store.Root},
		{"⛔ Halt File", cfg.Monitoring.HaltFile},
		{"📈 Metrics", cfg.Monitoring.Addr},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, WidthMax: 40, Align: text.AlignLeft},
	})
	t.Render()
	fmt.Println()
}

func modeString(cfg *config.PipelineConfig) string {
	switch {
	case cfg.Mode == execution.ModePaper:
		return "paper (simulated fills)"
	case cfg.Execution.DryRun:
		return "live dry run (no orders sent)"
	default:
		return "LIVE (real orders)"
	}
}
