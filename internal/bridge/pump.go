package bridge

import (
	"context"

	"github.com/basket/mcp-bridge/internal/transport"
)

// runPump forwards every inbound frame taken off from to a Send on to,
// in from's delivery order, until ctx is cancelled or from's inbound
// stream closes. Errors on either side are reported through
// the error callback without terminating the bridge; a failed Send is
// dropped with no retry.
func (b *Bridge) runPump(ctx context.Context, from, to transport.Transport, fromSource transport.Source) {
	defer b.pumpWG.Done()

	sub := from.Inbound()
	if sub == nil {
		return
	}
	defer sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Ch():
			if !ok {
				return
			}
			if evt.Err != nil {
				b.emitError(fromSource, evt.Err)
				continue
			}
			_, span := b.startForwardSpan(ctx, fromSource)
			if err := to.Send(evt.Message); err != nil {
				span.RecordError(err)
				span.End()
				b.emitError(otherSource(fromSource), err)
				continue
			}
			span.End()
			b.recordForwarded(fromSource)
		}
	}
}

// watchClosed waits for t's ClosedFuture to resolve and hands the
// closure off to an untracked goroutine. The hand-off is required
// because this goroutine is itself one of the four counted in
// b.pumpWG: handling the closure synchronously here (deciding policy,
// possibly calling Shutdown, which cancels and waits on b.pumpWG) would
// wait on its own completion and deadlock.
func (b *Bridge) watchClosed(ctx context.Context, t transport.Transport, source transport.Source) {
	defer b.pumpWG.Done()

	select {
	case <-ctx.Done():
		return
	case <-t.ClosedFuture():
		go b.handleTransportClosed(source)
	}
}

func otherSource(s transport.Source) transport.Source {
	if s == transport.Server {
		return transport.Client
	}
	return transport.Server
}
