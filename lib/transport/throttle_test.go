package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestThrottleFilterZeroIsNoop(t *testing.T) {
	f := NewThrottleFilter(0)
	start := time.Now()
	require.NoError(t, f.Delay(context.Background()))
	require.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestThrottleFilterDelaysAndPreservesOrder(t *testing.T) {
	f := NewThrottleFilter(20 * time.Millisecond)
	var order []int
	done := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			require.NoError(t, f.Delay(context.Background()))
			order = append(order, i)
		}
		close(done)
	}()
	<-done
	require.Equal(t, []int{0, 1, 2}, order)
}

func TestThrottleFilterCancellable(t *testing.T) {
	f := NewThrottleFilter(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.Delay(ctx)
	require.Error(t, err)
}
