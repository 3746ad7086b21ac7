package analytics

import (
	"context"

	"localloop/core"
)

// BridgeHook fans one event out to several hooks.
type BridgeHook struct{ hooks []Hook }

func NewBridge(hooks ...Hook) *BridgeHook { return &BridgeHook{hooks: hooks} }

func (b *BridgeHook) OnEvent(ctx context.Context, e core.Event) {
	for _, h := range b.hooks {
		h.OnEvent(ctx, e)
	}
}
