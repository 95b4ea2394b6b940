package risk

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"rsibot/internal/strategy"
)

var ErrRejected = errors.New("risk rejected")

type Limits struct {
	KillSwitch  bool
	MinNotional decimal.Decimal
	// MaxNotional caps entries only; zero means no cap. Exits always flatten.
	MaxNotional decimal.Decimal
}

type OrderContext struct {
	Symbol   string
	Decision strategy.Decision
	Notional decimal.Decimal
}

type Gate struct {
	limits Limits
	logger *zap.Logger
}

func NewGate(limits Limits, logger *zap.Logger) Gate {
	return Gate{limits: limits, logger: logger}
}

func (g Gate) Evaluate(ctx OrderContext) error {
	if ctx.Decision == strategy.Hold {
		return nil
	}

	fields := []zap.Field{
		zap.String("symbol", ctx.Symbol),
		zap.String("decision", string(ctx.Decision)),
		zap.String("notional", ctx.Notional.StringFixed(2)),
	}

	if g.limits.KillSwitch {
		return g.reject("kill_switch_enabled", fields)
	}
	if !ctx.Notional.IsPositive() {
		return g.reject("invalid_notional", fields)
	}
	if ctx.Notional.LessThan(g.limits.MinNotional) {
		return g.reject("below_min_notional", append(fields, zap.String("min", g.limits.MinNotional.StringFixed(2))))
	}
	if ctx.Decision == strategy.Enter && g.limits.MaxNotional.IsPositive() && ctx.Notional.GreaterThan(g.limits.MaxNotional) {
		return g.reject("max_notional_exceeded", append(fields, zap.String("max", g.limits.MaxNotional.StringFixed(2))))
	}

	g.logger.Debug("risk approved", fields...)
	return nil
}

func (g Gate) reject(reason string, fields []zap.Field) error {
	g.logger.Info("risk rejected", append(fields, zap.String("reason", reason))...)
	return fmt.Errorf("%w: %s", ErrRejected, reason)
}
