package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "RSIBOT"

var DefaultSymbols = []string{"AAPL", "MSFT", "TSLA", "AMZN", "GOOGL", "META", "NVDA", "INTC", "AMD", "BAC"}

type Config struct {
	Symbols        []string
	Feed           string
	FeedSource     string
	Lookback       time.Duration
	RSIPeriod      int
	RSISmoothing   string
	EntryRSI       float64
	ExitRSI        float64
	StopLoss       float64
	TakeProfit     float64
	OrderSize      float64
	MinNotional    float64
	MaxNotional    float64
	TimeInForce    string
	PollInterval   time.Duration
	KillSwitch     bool
	JournalPath    string
	BaseURL        string
	DataBaseURL    string
	LogLevel       string
	LogDevelopment bool
	APIKey         string
	APISecret      string
}

// Load resolves configuration from flags, RSIBOT_* environment variables, an
// optional config file and defaults, in that order of precedence. A .env file
// in the working directory is read first without overriding the environment.
func Load(args []string) (Config, error) {
	loadDotEnvIfPresent(".env")

	flags := pflag.NewFlagSet("rsibot", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to a yaml, json or toml config file")
	flags.StringSlice("symbols", DefaultSymbols, "symbols to trade")
	flags.String("feed", "iex", "market data feed: iex or sip")
	flags.String("feed-source", "rest", "bar source: rest (polling) or stream (websocket)")
	flags.Duration("lookback", 100*time.Minute, "window of one-minute bars fetched per cycle")
	flags.Int("rsi-period", 14, "RSI period in bars")
	flags.String("rsi-smoothing", "simple", "RSI averaging: simple or wilder")
	flags.Float64("entry-rsi", 40, "enter when flat and RSI is below this")
	flags.Float64("exit-rsi", 60, "exit when long and RSI is above this")
	flags.Float64("stop-loss", 0.05, "stop-loss as a fraction of entry price")
	flags.Float64("take-profit", 0.10, "take-profit as a fraction of entry price")
	flags.Float64("order-size", 10, "notional dollars per entry order")
	flags.Float64("min-notional", 1, "smallest notional the broker accepts")
	flags.Float64("max-notional", 0, "largest entry notional, 0 for no cap")
	flags.String("time-in-force", "gtc", "time in force: gtc or day")
	flags.Duration("poll-interval", time.Minute, "sleep between cycles")
	flags.Bool("kill-switch", false, "if true, never place orders")
	flags.String("journal-path", "alpaca_live_trades.csv", "trade journal written at shutdown")
	flags.String("base-url", "https://paper-api.alpaca.markets", "trading API base URL")
	flags.String("data-base-url", "", "market data API base URL, empty for the SDK default")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.Bool("log-development", false, "human-readable console logs")
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	v := viper.New()
	if err := v.BindPFlags(flags); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("api-key", "APCA_API_KEY_ID")
	_ = v.BindEnv("api-secret", "APCA_API_SECRET_KEY")

	if *configPath != "" {
		v.SetConfigFile(*configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Config{
		Symbols:        normalizeSymbols(v.GetStringSlice("symbols")),
		Feed:           v.GetString("feed"),
		FeedSource:     v.GetString("feed-source"),
		Lookback:       v.GetDuration("lookback"),
		RSIPeriod:      v.GetInt("rsi-period"),
		RSISmoothing:   v.GetString("rsi-smoothing"),
		EntryRSI:       v.GetFloat64("entry-rsi"),
		ExitRSI:        v.GetFloat64("exit-rsi"),
		StopLoss:       v.GetFloat64("stop-loss"),
		TakeProfit:     v.GetFloat64("take-profit"),
		OrderSize:      v.GetFloat64("order-size"),
		MinNotional:    v.GetFloat64("min-notional"),
		MaxNotional:    v.GetFloat64("max-notional"),
		TimeInForce:    strings.ToLower(v.GetString("time-in-force")),
		PollInterval:   v.GetDuration("poll-interval"),
		KillSwitch:     v.GetBool("kill-switch"),
		JournalPath:    v.GetString("journal-path"),
		BaseURL:        v.GetString("base-url"),
		DataBaseURL:    v.GetString("data-base-url"),
		LogLevel:       v.GetString("log-level"),
		LogDevelopment: v.GetBool("log-development"),
		APIKey:         v.GetString("api-key"),
		APISecret:      v.GetString("api-secret"),
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadDotEnvIfPresent(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := loadDotEnv(path); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", path, err)
	}
}

// loadDotEnv sets variables from path that are not already set.
func loadDotEnv(path string) error {
	return godotenv.Load(path)
}

// normalizeSymbols accepts comma separated entries, upper-cases them and
// drops blanks and repeats.
func normalizeSymbols(raw []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(raw))
	for _, entry := range raw {
		for _, part := range strings.Split(entry, ",") {
			symbol := strings.ToUpper(strings.TrimSpace(part))
			if symbol == "" || seen[symbol] {
				continue
			}
			seen[symbol] = true
			out = append(out, symbol)
		}
	}
	return out
}

func validate(cfg Config) error {
	if len(cfg.Symbols) == 0 {
		return errors.New("at least one symbol is required")
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return errors.New("APCA_API_KEY_ID and APCA_API_SECRET_KEY are required")
	}
	if cfg.Feed != "iex" && cfg.Feed != "sip" {
		return fmt.Errorf("invalid feed: %s", cfg.Feed)
	}
	if cfg.FeedSource != "rest" && cfg.FeedSource != "stream" {
		return fmt.Errorf("invalid feed-source: %s", cfg.FeedSource)
	}
	if cfg.RSISmoothing != "simple" && cfg.RSISmoothing != "wilder" {
		return fmt.Errorf("invalid rsi-smoothing: %s", cfg.RSISmoothing)
	}
	if cfg.RSIPeriod <= 1 {
		return errors.New("rsi-period must be > 1")
	}
	if cfg.Lookback < time.Duration(cfg.RSIPeriod+1)*time.Minute {
		return fmt.Errorf("lookback must cover at least %d one-minute bars", cfg.RSIPeriod+1)
	}
	if cfg.EntryRSI <= 0 || cfg.ExitRSI >= 100 || cfg.EntryRSI >= cfg.ExitRSI {
		return errors.New("entry-rsi and exit-rsi must satisfy 0 < entry < exit < 100")
	}
	if cfg.StopLoss <= 0 || cfg.StopLoss >= 1 {
		return errors.New("stop-loss must be in (0, 1)")
	}
	if cfg.TakeProfit <= 0 {
		return errors.New("take-profit must be > 0")
	}
	if cfg.OrderSize <= 0 {
		return errors.New("order-size must be > 0")
	}
	if cfg.MinNotional < 0 || cfg.MaxNotional < 0 {
		return errors.New("min-notional and max-notional must be >= 0")
	}
	if cfg.MaxNotional > 0 && cfg.OrderSize > cfg.MaxNotional {
		return errors.New("order-size must be <= max-notional")
	}
	if cfg.TimeInForce != "gtc" && cfg.TimeInForce != "day" {
		return fmt.Errorf("invalid time-in-force: %s", cfg.TimeInForce)
	}
	if cfg.PollInterval <= 0 {
		return errors.New("poll-interval must be > 0")
	}
	if cfg.JournalPath == "" {
		return errors.New("journal-path is required")
	}
	return nil
}
