package engine

import (
	"context"
	"log/slog"

	"tradelab/internal/broker"
	"tradelab/internal/domain"
)

// AlpacaCredentials selects the Alpaca account a live session reads from.
type AlpacaCredentials struct {
	APIKey    string
	APISecret string
	BaseURL   string
}

// NewFactory returns an EngineFactory that builds each session's broker
// from SessionOptions.Broker ("simulator" or "alpaca") and shares ledger
// across sessions. Zero option fields take the values in defaults.
func NewFactory(ledger TradeLedger, defaults SessionOptions, creds AlpacaCredentials, log *slog.Logger) EngineFactory {
	if log == nil {
		log = slog.Default()
	}
	return func(_ context.Context, key string, opts SessionOptions) (*Engine, error) {
		if opts.Broker == "" {
			opts.Broker = defaults.Broker
		}
		if opts.StartingCash == 0 {
			opts.StartingCash = defaults.StartingCash
		}
		if opts.Limits == (domain.RiskLimits{}) {
			opts.Limits = defaults.Limits
		}
		if opts.HistoryWindowDays == 0 {
			opts.HistoryWindowDays = defaults.HistoryWindowDays
		}

		var b broker.Broker
		switch opts.Broker {
		case "", "simulator":
			if opts.StartingCash <= 0 {
				return nil, &domain.ConfigurationError{Field: "startingCash", Reason: "must be positive for a simulator session"}
			}
			b = broker.NewSimulatorBroker(opts.StartingCash)
		case "alpaca":
			if creds.APIKey == "" || creds.APISecret == "" {
				return nil, &domain.ConfigurationError{Field: "broker", Reason: "alpaca credentials are not configured"}
			}
			b = broker.NewAlpacaBroker(creds.APIKey, creds.APISecret, creds.BaseURL)
		default:
			return nil, &domain.ConfigurationError{Field: "broker", Reason: "unknown broker " + opts.Broker}
		}

		sessionLog := log.With("session", key)
		risk := NewRiskManager(ledger, RiskOptions{
			Limits:            opts.Limits,
			HistoryWindowDays: opts.HistoryWindowDays,
			Logger:            sessionLog,
		})
		return NewEngine(b, ledger, risk, sessionLog), nil
	}
}
