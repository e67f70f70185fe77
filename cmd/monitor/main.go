// gateway-monitor probes a fleet of ecash-paid inference gateways and
// publishes an up/down report to Nostr relays.
//
// Usage:
//
//	monitor [-c config.yaml] [-s "*/30 * * * *"] [-d]
//
// With no schedule configured the bot runs one cycle and exits; with a cron
// schedule it keeps running until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nbd-wtf/go-nostr"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/routstr/gateway-monitor/internal/config"
	"github.com/routstr/gateway-monitor/internal/pricing"
	"github.com/routstr/gateway-monitor/internal/probe"
	"github.com/routstr/gateway-monitor/internal/provider"
	"github.com/routstr/gateway-monitor/internal/relay"
	"github.com/routstr/gateway-monitor/internal/report"
	"github.com/routstr/gateway-monitor/internal/session"
	"github.com/routstr/gateway-monitor/internal/wallet"
)

func main() {
	var (
		configPath   string
		scheduleFlag string
		debugFlag    bool
	)

	args := os.Args[1:]
	i := 0
	for i < len(args) {
		switch args[i] {
		case "-h", "--help":
			printHelp()
			return
		case "-c", "--config":
			if i+1 < len(args) {
				configPath = args[i+1]
				i += 2
			} else {
				fmt.Fprintln(os.Stderr, "Error: --config requires a value")
				os.Exit(1)
			}
		case "-s", "--schedule":
			if i+1 < len(args) {
				scheduleFlag = args[i+1]
				i += 2
			} else {
				fmt.Fprintln(os.Stderr, "Error: --schedule requires a value")
				os.Exit(1)
			}
		case "-d", "--debug":
			debugFlag = true
			i++
		default:
			fmt.Fprintf(os.Stderr, "Error: unknown option: %s\n", args[i])
			os.Exit(1)
		}
	}

	setupLogging(debugFlag)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if scheduleFlag != "" {
		cfg.Schedule = scheduleFlag
	}

	bot, err := newBot(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer bot.close()

	if cfg.Schedule == "" {
		if err := bot.runCycle(context.Background()); err != nil {
			log.Error().Err(err).Msg("cycle failed")
			os.Exit(1)
		}
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.Schedule, func() {
		if err := bot.runCycle(context.Background()); err != nil {
			log.Error().Err(err).Msg("cycle failed")
		}
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid schedule %q: %v\n", cfg.Schedule, err)
		os.Exit(1)
	}
	c.Start()
	log.Info().Str("schedule", cfg.Schedule).Msg("monitor started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")
	<-c.Stop().Done()
}

func printHelp() {
	fmt.Println(`gateway-monitor - ecash payment gateway monitoring bot

Options:
  -c, --config <file>    YAML config file
  -s, --schedule <expr>  cron expression; omit to run one cycle and exit
  -d, --debug            verbose logging
  -h, --help             show this help

Environment:
  NOSTR_BOT_NSEC        bot private key (nsec or hex), required
  WALLET_API_URL        wallet API base URL
  MONITOR_DATA_PATH     session database path`)
}

// setupLogging picks a human console writer on a terminal and raw JSON
// otherwise, so piped output stays machine-readable.
func setupLogging(debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// bot bundles the long-lived pieces a cycle needs.
type bot struct {
	cfg    *config.Config
	orc    *probe.Orchestrator
	relays *relay.Client
	signer *relay.Signer
	store  *session.Store
}

func newBot(cfg *config.Config) (*bot, error) {
	signer, err := relay.NewSigner(cfg.Nsec)
	if err != nil {
		return nil, fmt.Errorf("invalid NOSTR_BOT_NSEC: %w", err)
	}

	store, err := session.Open(cfg.Probe.DataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	style, err := provider.ParseHeaderStyle(cfg.Probe.PaymentHeader)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	orc := probe.New(
		provider.NewClient(cfg.Probe.HTTPTimeout, provider.WithHeaderStyle(style)),
		wallet.NewClient(cfg.Wallet.BaseURL),
		store,
		probe.Config{
			Bracket:      pricing.Bracket{Floor: cfg.Select.BracketFloor, Range: cfg.Select.BracketRange},
			SafetyMargin: cfg.Select.SafetyMargin,
			Fallback:     cfg.Select.Fallback,
			MaxProviders: cfg.Probe.MaxProviders,
		},
	)
	if counter, err := probe.NewTokenCounter(); err == nil {
		orc.SetTokenCounter(counter)
	} else {
		log.Warn().Err(err).Msg("token counter unavailable, billing audit disabled")
	}

	return &bot{
		cfg:    cfg,
		orc:    orc,
		relays: relay.NewClient(cfg.Relays.All(), config.RelayPublishTimeout, config.RelayFetchTimeout),
		signer: signer,
		store:  store,
	}, nil
}

func (b *bot) close() {
	if err := b.store.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close session store")
	}
}

// runCycle fetches the bot's latest note, probes every provider, and publishes
// the resulting report quoting that note as proof of liveness.
func (b *bot) runCycle(ctx context.Context) error {
	var (
		noteContent string
		quotedRef   string
		tags        nostr.Tags
	)

	latest, err := b.relays.LatestNote(ctx, b.signer.PublicKey())
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("could not fetch latest note, reporting without proof")
	case latest != nil:
		noteContent = latest.Content
		quotedRef = relay.NoteID(latest.ID)
		tags = nostr.Tags{{"q", latest.ID, "wss://relay.damus.io", latest.PubKey}}
	}

	outcomes := b.orc.RunCycle(ctx, b.cfg.Providers, b.cfg.Prompts, noteContent)

	results := make([]report.ProviderResult, len(outcomes))
	chained := noteContent
	for i, o := range outcomes {
		results[i] = report.ProviderResult{
			URL:              o.Provider,
			Up:               o.Up,
			ModelID:          o.ModelID,
			Response:         o.Response,
			ActualSpend:      o.ActualSpend,
			EstimatedCost:    o.EstimatedCost,
			ReconcileSkipped: o.ReconcileSkipped,
			SweepDone:        o.SweepDone,
		}
		if o.Up && o.Response != "" {
			chained = o.Response
		}
	}

	content := report.Build(results, chained, quotedRef)
	if quotedRef != "" {
		content += "nostr:" + quotedRef
	}

	ev, err := b.signer.TextNote(content, tags)
	if err != nil {
		return fmt.Errorf("failed to sign report: %w", err)
	}

	accepted, err := b.relays.Publish(ctx, ev)
	if err != nil {
		return fmt.Errorf("failed to publish report: %w", err)
	}
	log.Info().Str("event_id", ev.ID).Int("relays", accepted).Msg("report published")
	return nil
}
