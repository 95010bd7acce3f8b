package fanout

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marvin-k3/ying/internal/recognizer"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type blockingRecognizer struct {
	name    string
	release chan struct{}
	calls   int32
}

func (b *blockingRecognizer) Name() string { return b.name }

func (b *blockingRecognizer) Recognize(ctx context.Context, _ []byte, _ time.Duration) recognizer.Result {
	atomic.AddInt32(&b.calls, 1)
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return recognizer.Result{Kind: recognizer.OutcomeNoMatch}
}

func TestAdmissionSkipsWhenGlobalCeilingExhausted(t *testing.T) {
	admission := NewAdmission(1, 1)
	release1, ok1 := admission.tryAcquire("a")
	require.True(t, ok1)
	defer release1()

	_, ok2 := admission.tryAcquire("b")
	require.False(t, ok2, "second acquisition must be skipped once the global ceiling is exhausted")
}

func TestAdmissionSkipsWhenPerProviderCeilingExhausted(t *testing.T) {
	admission := NewAdmission(10, 1)
	release1, ok1 := admission.tryAcquire("a")
	require.True(t, ok1)
	defer release1()

	_, ok2 := admission.tryAcquire("a")
	require.False(t, ok2, "second call to the same provider must be skipped once its own ceiling is exhausted")

	release3, ok3 := admission.tryAcquire("b")
	require.True(t, ok3, "a different provider must still be admitted")
	release3()
}

func TestDispatchRecordsSkippedOutcomeWithoutBlocking(t *testing.T) {
	admission := NewAdmission(1, 1)
	blockerA := &blockingRecognizer{name: "a", release: make(chan struct{})}
	blockerB := &blockingRecognizer{name: "b", release: make(chan struct{})}
	defer close(blockerA.release)
	defer close(blockerB.release)

	f := New([]recognizer.Recognizer{blockerA, blockerB}, admission, time.Second)

	done := make(chan []Outcome, 1)
	go func() {
		done <- f.Dispatch(context.Background(), []byte("wav"))
	}()

	select {
	case outcomes := <-done:
		skipped := 0
		for _, o := range outcomes {
			if o.Skipped {
				skipped++
			}
		}
		require.Equal(t, 1, skipped, "exactly one provider should be skipped under a global ceiling of 1")
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch blocked instead of skipping the second provider")
	}
}

func TestRotationOrderAdvancesRoundRobin(t *testing.T) {
	admission := NewAdmission(10, 10)
	f := New([]recognizer.Recognizer{
		&blockingRecognizer{name: "a", release: make(chan struct{})},
		&blockingRecognizer{name: "b", release: make(chan struct{})},
	}, admission, time.Second)

	first := f.rotationOrder()
	second := f.rotationOrder()
	require.NotEqual(t, first, second, "rotation order must change between calls for fairness")
}
