package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"helmsman/ai"
	"helmsman/config"
	"helmsman/core"
	"helmsman/engine"
	"helmsman/exchange"
	zero "helmsman/logger/zerolog"
	"helmsman/notification"
	"helmsman/storage"

	"github.com/spf13/cobra"
)

const dateTimeLayout = "2006-01-02 15:04:05"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:     "helmsman",
		Short:   "Autonomous spot trading agent",
		Version: "1.0.0",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "helmsman.yml", "Path to the configuration file")

	rootCmd.AddCommand(buildRunCmd())
	rootCmd.AddCommand(buildCheckConfigCmd())
	rootCmd.AddCommand(buildTradesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the trading loop",
		RunE:  runAgent,
	}
}

func buildCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration file and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := zero.New("info", dateTimeLayout, false)
			if err != nil {
				return err
			}
			if _, err := config.Load(configPath, log); err != nil {
				return err
			}
			fmt.Println("configuration ok")
			return nil
		},
	}
}

func buildTradesCmd() *cobra.Command {
	var limit int
	tradesCmd := &cobra.Command{
		Use:   "trades",
		Short: "Print the most recent trade records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := zero.New("warn", dateTimeLayout, false)
			if err != nil {
				return err
			}
			manager, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			cfg := manager.Current()

			store, err := storage.New(cfg.Storage.Backend, cfg.Storage.Path, log)
			if err != nil {
				return err
			}
			defer store.Close()

			trades, err := store.Trades(cmd.Context())
			if err != nil {
				return err
			}
			if limit > 0 && len(trades) > limit {
				trades = trades[len(trades)-limit:]
			}
			for _, t := range trades {
				fmt.Printf("%s  %-10s %-4s %-14s @ %-12s %s\n",
					t.Time.Format(dateTimeLayout), t.Symbol, t.Action,
					t.Quantity.String(), core.FormatUSD(t.Price), t.Reason)
			}
			return nil
		},
	}
	tradesCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of records to print")
	return tradesCmd
}

func runAgent(cmd *cobra.Command, _ []string) error {
	bootLog, err := zero.New("info", dateTimeLayout, false)
	if err != nil {
		return err
	}

	manager, err := config.Load(configPath, bootLog)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := manager.Current()

	log, err := zero.New(cfg.Log.Level, dateTimeLayout, cfg.Log.JSON)
	if err != nil {
		return err
	}
	manager.Watch()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	spotOptions := []exchange.SpotOption{
		exchange.WithCredentials(cfg.Exchange.APIKey, cfg.Exchange.APISecret),
	}
	if cfg.Exchange.Testnet {
		spotOptions = append(spotOptions, exchange.WithTestNet())
	}
	spot, err := exchange.NewSpot(ctx, log, spotOptions...)
	if err != nil {
		return fmt.Errorf("failed to connect to exchange: %w", err)
	}

	store, err := storage.New(cfg.Storage.Backend, cfg.Storage.Path, log)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	ensemble := buildEnsemble(cfg, log)
	eng := engine.New(manager, spot, store, ensemble, log)

	if cfg.Telegram.Enabled {
		telegram, err := notification.NewTelegram(eng, notification.Settings{
			Token: cfg.Telegram.Token,
			Users: cfg.Telegram.Users,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to start telegram notifier: %w", err)
		}
		eng.AttachNotifier(telegram)
		telegram.Start()
	}

	if err := eng.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("shutdown signal received")
	eng.Stop()
	return nil
}

// buildEnsemble wires the four scorers from the config snapshot. The
// language-model slot is either the single-pass validator or the debate
// variant, selected by ai.llm.mode.
func buildEnsemble(cfg *config.Config, log core.Logger) *ai.Ensemble {
	clientConfig := ai.DefaultClientConfig()
	if cfg.AI.LLM.Endpoint != "" {
		clientConfig.Endpoint = cfg.AI.LLM.Endpoint
	}
	clientConfig.APIKey = cfg.AI.LLM.APIKey
	clientConfig.Model = cfg.AI.LLM.Model
	if cfg.AI.LLM.Temperature != 0 {
		clientConfig.Temperature = cfg.AI.LLM.Temperature
	}
	if cfg.AI.LLM.MaxTokens != 0 {
		clientConfig.MaxTokens = cfg.AI.LLM.MaxTokens
	}
	if cfg.AI.LLM.Timeout != 0 {
		clientConfig.Timeout = cfg.AI.LLM.Timeout
	}
	client := ai.NewClient(clientConfig)

	var llm ai.Scorer
	if cfg.AI.LLM.Mode == "debate" {
		llm = ai.NewDebateScorer(client)
	} else {
		llm = ai.NewLLMScorer(client)
	}

	macro := ai.StaticMacroSource{Values: ai.MacroIndicators{
		VIX:           cfg.AI.Macro["vix"],
		DollarIndex:   cfg.AI.Macro["dollar_index"],
		TreasuryYield: cfg.AI.Macro["treasury_yield"],
		Gold:          cfg.AI.Macro["gold"],
	}}

	return ai.NewEnsemble(log,
		ai.NewSentimentScorer(nil),
		ai.NewTechnicalScorer(),
		ai.NewMacroScorer(macro),
		llm,
	)
}
