package link

import "context"

// Observer provides hooks for link lifecycle, metrics, and tracing.
// Callbacks run on the exchange goroutine and should return quickly.
type Observer interface {
	OnExchangeStart(ctx context.Context) (context.Context, func(error))
	OnQubitsSent(n int)
	OnQubitsReceived(n int)
	OnFrameSent()
	OnKeySifted(bits int)
	OnErrorRate(rate float64, safe bool)
	OnChannelTimeout(err error)
	OnProtocolError(err error)
}

// ObserverFactory builds a per-session observer.
type ObserverFactory func(session *Session) Observer

type noopObserver struct{}

func (noopObserver) OnExchangeStart(ctx context.Context) (context.Context, func(error)) {
	return ctx, func(error) {}
}
func (noopObserver) OnQubitsSent(int)          {}
func (noopObserver) OnQubitsReceived(int)      {}
func (noopObserver) OnFrameSent()              {}
func (noopObserver) OnKeySifted(int)           {}
func (noopObserver) OnErrorRate(float64, bool) {}
func (noopObserver) OnChannelTimeout(error)    {}
func (noopObserver) OnProtocolError(error)     {}
