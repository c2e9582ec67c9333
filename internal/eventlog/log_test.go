package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulksend/internal/storage"
	logx "bulksend/pkg/logx"
)

func TestAppendIsNewestFirstAndBounded(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	l := New(st, logx.Nop())

	for i := 0; i < 250; i++ {
		l.Append(ctx, Entry{Kind: KindInfo, Text: fmt.Sprintf("e%d", i)})
		require.LessOrEqual(t, l.Len(), Capacity)
	}

	entries := l.Entries()
	require.Len(t, entries, Capacity)
	assert.Equal(t, "e249", entries[0].Text)
	assert.Equal(t, "e150", entries[Capacity-1].Text)
	for _, e := range entries {
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Time.IsZero())
	}

	raw, ok, err := st.Get(ctx, StoreKey)
	require.NoError(t, err)
	require.True(t, ok)
	var persisted []Entry
	require.NoError(t, json.Unmarshal(raw, &persisted))
	require.Len(t, persisted, Capacity)
	assert.Equal(t, "e249", persisted[0].Text)
}

func TestLoadRestoresOrder(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	l := New(st, logx.Nop())
	l.Append(ctx, Entry{Kind: KindInfo, Text: "first"})
	l.Append(ctx, Entry{Kind: KindError, Text: "second"})

	entries, err := Read(ctx, st)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[0].Text)
	assert.Equal(t, KindError, entries[0].Kind)
	assert.Equal(t, "first", entries[1].Text)

	// Appending after a reload keeps growing at the front.
	reloaded := New(st, logx.Nop())
	require.NoError(t, reloaded.Load(ctx))
	reloaded.Append(ctx, Entry{Kind: KindInfo, Text: "third"})
	assert.Equal(t, []string{"third", "second", "first"}, texts(reloaded.Entries()))
}

func TestClearEmptiesMemoryAndStore(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	l := New(st, logx.Nop())
	l.Append(ctx, Entry{Kind: KindInfo, Text: "x"})

	require.NoError(t, l.Clear(ctx))
	assert.Zero(t, l.Len())
	_, ok, err := st.Get(ctx, StoreKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentAppendsPersistLatest(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	l := New(st, logx.Nop())

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 40; i++ {
				l.Append(ctx, Entry{Kind: KindInfo, Text: fmt.Sprintf("g%d-%d", g, i)})
			}
		}(g)
	}
	wg.Wait()

	persisted, err := Read(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, texts(l.Entries()), texts(persisted))
}

func TestMemoryOnlyLog(t *testing.T) {
	l := New(nil, logx.Logger{})
	l.Append(context.Background(), Entry{Kind: KindInfo, Text: "x"})
	require.NoError(t, l.Load(context.Background()))
	require.NoError(t, l.Clear(context.Background()))
}

func texts(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Text
	}
	return out
}
