package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/foresightmarkets/foresight/internal/arbitrage"
	"github.com/foresightmarkets/foresight/internal/domain"
	"github.com/foresightmarkets/foresight/internal/service"
)

// Listener turns bus events into operator alerts. It subscribes to the
// arbitrage and resolution channels and formats each event for the Notifier.
type Listener struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewListener creates a Listener.
func NewListener(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Listener {
	return &Listener{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_listener")),
	}
}

// Run consumes both channels until the context is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	signals, err := l.bus.Subscribe(ctx, arbitrage.ChannelArbitrage)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", arbitrage.ChannelArbitrage, err)
	}
	resolutions, err := l.bus.Subscribe(ctx, service.ChannelResolutions)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", service.ChannelResolutions, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.consume(ctx, signals, l.handleSignal) })
	g.Go(func() error { return l.consume(ctx, resolutions, l.handleResolution) })
	return g.Wait()
}

func (l *Listener) consume(ctx context.Context, msgs <-chan []byte, handle func(context.Context, []byte)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			handle(ctx, msg)
		}
	}
}

func (l *Listener) handleSignal(ctx context.Context, msg []byte) {
	var ev arbitrage.SignalEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		l.logger.WarnContext(ctx, "bad arbitrage event", slog.String("error", err.Error()))
		return
	}
	if ev.Event != "arbitrage_signal" {
		return
	}

	title := fmt.Sprintf("Arbitrage: %s (%.0f%% divergence)", ev.Kind, ev.Divergence*100)
	message := fmt.Sprintf("Market %s\nAI %.2f vs price %.2f\n%s\n→ %s",
		ev.MarketID, ev.AIProbability, ev.MarketPrice, ev.Description, ev.Recommendation)

	if err := l.notifier.Notify(ctx, ev.Event, title, message); err != nil {
		l.logger.WarnContext(ctx, "alert delivery failed", slog.String("error", err.Error()))
	}
}

func (l *Listener) handleResolution(ctx context.Context, msg []byte) {
	var ev service.ResolutionEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		l.logger.WarnContext(ctx, "bad resolution event", slog.String("error", err.Error()))
		return
	}
	if ev.Event != "market_resolved" {
		return
	}

	title := fmt.Sprintf("Resolved %s: %q", ev.WinningOutcome, ev.Question)
	message := fmt.Sprintf("Final price %.2f, %d winning trades paid %.0f credits",
		ev.FinalPrice, ev.WinningTrades, ev.PaidOut)

	if err := l.notifier.Notify(ctx, ev.Event, title, message); err != nil {
		l.logger.WarnContext(ctx, "alert delivery failed", slog.String("error", err.Error()))
	}
}
