package statelog_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/stagehand/internal/assert/helpers"
	"github.com/kode4food/stagehand/pkg/statelog"
)

func TestWatcherObservesTransitions(t *testing.T) {
	as := assert.New(t)
	log, tb := helpers.NewStateLog(t, "run")
	ctx := context.Background()

	seen := make(chan *statelog.Transition, 8)
	w := statelog.NewWatcher(tb.GetHub(), func(tr *statelog.Transition) {
		seen <- tr
	})
	w.Start()
	defer w.Stop()

	require.NoError(t, log.Set(ctx, "level", 5))
	require.NoError(t, log.Delete(ctx, "level"))

	first := receiveTransition(t, seen)
	as.Equal(statelog.ChangeTypeSet, first.Type)
	as.Equal("level", first.Key)

	level, err := statelog.DecodeValue[int](first)
	require.NoError(t, err)
	as.Equal(5, level)

	second := receiveTransition(t, seen)
	as.Equal(statelog.ChangeTypeDelete, second.Type)
	as.Equal("level", second.Key)
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	_, tb := helpers.NewStateLog(t, "run")

	w := statelog.NewWatcher(tb.GetHub(), func(_ *statelog.Transition) {})
	w.Start()
	w.Stop()
	w.Stop()
}

func receiveTransition(
	t *testing.T, ch <-chan *statelog.Transition,
) *statelog.Transition {
	t.Helper()
	select {
	case tr := <-ch:
		return tr
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for transition")
		return nil
	}
}
