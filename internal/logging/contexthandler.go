package logging

import (
	"context"
	"log/slog"
)

// ContextProvider yields attributes evaluated at log time, such as the
// sequence number the hub last sent.
type ContextProvider func() []slog.Attr

// ContextHandler appends the provider's attributes to every record.
type ContextHandler struct {
	slog.Handler
	provider ContextProvider
}

func NewContextHandler(inner slog.Handler, provider ContextProvider) *ContextHandler {
	return &ContextHandler{Handler: inner, provider: provider}
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.provider != nil {
		r.AddAttrs(h.provider()...)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewContextHandler(h.Handler.WithAttrs(attrs), h.provider)
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return NewContextHandler(h.Handler.WithGroup(name), h.provider)
}

// BattleContext reports the battle being served and, when lastSeq is set,
// the last sequence number sent on it.
func BattleContext(battleID string, lastSeq func() uint64) ContextProvider {
	return func() []slog.Attr {
		if lastSeq == nil {
			return []slog.Attr{slog.String("battle", battleID)}
		}
		return []slog.Attr{slog.String("battle", battleID), slog.Uint64("seq", lastSeq())}
	}
}
