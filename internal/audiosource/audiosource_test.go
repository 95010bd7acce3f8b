package audiosource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffWithJitterStaysWithinBounds(t *testing.T) {
	base := 100 * time.Millisecond
	max := 5 * time.Second
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffWithJitter(base, max, attempt)
		require.Greater(t, d, time.Duration(0))
		require.LessOrEqual(t, d, time.Duration(float64(max)*1.2)+time.Millisecond)
	}
}

func TestCircuitOpenTripsAfterThreshold(t *testing.T) {
	src := New(Config{
		StreamName:              "test",
		CircuitBreakerWindow:    time.Minute,
		CircuitBreakerThreshold: 3,
	})
	require.False(t, src.circuitOpen())
	src.recordFailure()
	src.recordFailure()
	require.False(t, src.circuitOpen())
	src.recordFailure()
	require.True(t, src.circuitOpen())
}

func TestThreadSafeWriterTailTruncates(t *testing.T) {
	w := newThreadSafeWriter()
	_, err := w.Write([]byte("0123456789"))
	require.NoError(t, err)
	require.Equal(t, "789", w.Tail(3))
	require.Equal(t, "0123456789", w.Tail(100))
}

func TestStateString(t *testing.T) {
	require.Equal(t, "running", StateRunning.String())
	require.Equal(t, "circuit_open", StateCircuitOpen.String())
	require.Equal(t, "stopped", State(99).String())
}
