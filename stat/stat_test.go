package stat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Oppen/gptrelay/bot/bottest"
	"github.com/Oppen/gptrelay/convcache"
	"github.com/Oppen/gptrelay/module"
)

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512B", FormatBytes(512))
	assert.Equal(t, "20.00kB", FormatBytes(20*1024))
	assert.Equal(t, "15.50MB", FormatBytes(15*1024*1024+512*1024))
	assert.Equal(t, "12.00GB", FormatBytes(12*1024*1024*1024))
}

func TestReport(t *testing.T) {
	b, _, _ := bottest.NewBot()
	bottest.WithRelay(b, &bottest.Backend{})
	b.Cache.Put(1, convcache.Entry{ConversationID: "c", ParentID: "p"})
	b.Cache.Put(2, convcache.Entry{ConversationID: "d", ParentID: "q"})

	out := Report(b, 90*time.Minute+1500*time.Millisecond, 2048)
	assert.Equal(t, "Uptime: 1h30m1s\nMemory: 2048B\nConversations: 2\n", out)
}

func TestHandleCommand(t *testing.T) {
	b, s, fc := bottest.NewBot()
	s0 := &Stat{}
	require.NoError(t, s0.Init(b))
	fc.Advance(time.Hour)

	module.GetCommandHandler("stat").HandleCommand(context.Background(), b, bottest.Private(42, "/stat"))

	texts := s.Texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Uptime: 1h0m0s\n")
	assert.Contains(t, texts[0], "Memory: ")
}
