package lifecycle

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
)

// SignalBridge translates OS signals into lifecycle signals so an operator
// can simulate backgrounding a headless host.
type SignalBridge struct {
	hub     *Hub
	mapping map[os.Signal]Signal
	logger  *slog.Logger
}

// NewSignalBridge creates a bridge using the platform default mapping.
func NewSignalBridge(hub *Hub) *SignalBridge {
	return &SignalBridge{
		hub:     hub,
		mapping: defaultSignalMapping(),
		logger:  slog.Default(),
	}
}

// WithLogger sets the logger.
func (b *SignalBridge) WithLogger(logger *slog.Logger) *SignalBridge {
	b.logger = logger
	return b
}

// Run relays OS signals until ctx is cancelled.
func (b *SignalBridge) Run(ctx context.Context) error {
	if len(b.mapping) == 0 {
		<-ctx.Done()
		return nil
	}

	ch := make(chan os.Signal, 1)
	sigs := make([]os.Signal, 0, len(b.mapping))
	for s := range b.mapping {
		sigs = append(sigs, s)
	}
	signal.Notify(ch, sigs...)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-ch:
			b.relay(s)
		}
	}
}

func (b *SignalBridge) relay(s os.Signal) {
	sig, ok := b.mapping[s]
	if !ok {
		return
	}
	b.logger.Debug("os signal relayed",
		slog.String("os_signal", s.String()),
		slog.String("signal", sig.String()),
	)
	b.hub.Emit(sig)
}
