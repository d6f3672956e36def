package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextHandler_BattleContext(t *testing.T) {
	var buf bytes.Buffer
	seq := uint64(3)
	h := NewContextHandler(slog.NewTextHandler(&buf, nil), BattleContext("b7", func() uint64 { return seq }))
	logger := slog.New(h)

	logger.Info("first")
	seq = 4
	logger.With("component", "server").WithGroup("g").Info("second", "k", "v")

	out := buf.String()
	assert.Contains(t, out, "battle=b7")
	assert.Contains(t, out, "seq=3")
	assert.Contains(t, out, "seq=4")
	assert.Contains(t, out, "component=server")
	assert.Contains(t, out, "g.k=v")
}

func TestContextHandler_NilSeq(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewContextHandler(slog.NewTextHandler(&buf, nil), BattleContext("b1", nil)))
	logger.Info("hello")
	assert.Contains(t, buf.String(), "battle=b1")
	assert.NotContains(t, buf.String(), "seq=")
}
