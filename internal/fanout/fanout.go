// Package fanout implements the Provider Fan-out (C4): dispatching one
// window to every configured Recognizer in parallel under a global and
// per-provider concurrency ceiling, recording latency for every admitted
// call regardless of its result, and stamping a Skipped
// outcome when admission control rejects a call rather than blocking.
// Admission control is built on golang.org/x/sync/semaphore, the
// idiomatic Go primitive for weighted non-blocking acquisition.
package fanout

import (
	"context"
	"sync"
	"time"

	appErrors "github.com/marvin-k3/ying/internal/errors"
	"github.com/marvin-k3/ying/internal/recognizer"
	"golang.org/x/sync/semaphore"
)

// Outcome is one provider's result from a single fan-out call, always
// present for every configured provider even when admission control
// skipped the call outright.
type Outcome struct {
	Provider  string
	Skipped   bool
	Result    recognizer.Result
	LatencyMS int64
}

// Admission controls the global and per-provider inflight recognition
// ceilings (GLOBAL_MAX_INFLIGHT_RECOGNITIONS, PER_PROVIDER_MAX_INFLIGHT).
type Admission struct {
	global *semaphore.Weighted

	mu        sync.Mutex
	perProvider map[string]*semaphore.Weighted
	perProviderMax int64
}

// NewAdmission builds an Admission controller with the given global and
// per-provider inflight ceilings.
func NewAdmission(globalMax, perProviderMax int) *Admission {
	return &Admission{
		global:         semaphore.NewWeighted(int64(globalMax)),
		perProvider:    make(map[string]*semaphore.Weighted),
		perProviderMax: int64(perProviderMax),
	}
}

func (a *Admission) providerSem(provider string) *semaphore.Weighted {
	a.mu.Lock()
	defer a.mu.Unlock()
	sem, ok := a.perProvider[provider]
	if !ok {
		sem = semaphore.NewWeighted(a.perProviderMax)
		a.perProvider[provider] = sem
	}
	return sem
}

// tryAcquire attempts to admit one call for provider without blocking. It
// returns a release function and true on success, or (nil, false) if
// either the global or per-provider ceiling is currently exhausted:
// admission control skips an overloaded call rather than queuing it.
func (a *Admission) tryAcquire(provider string) (release func(), ok bool) {
	if !a.global.TryAcquire(1) {
		return nil, false
	}
	sem := a.providerSem(provider)
	if !sem.TryAcquire(1) {
		a.global.Release(1)
		return nil, false
	}
	return func() {
		sem.Release(1)
		a.global.Release(1)
	}, true
}

// Fanout dispatches one window to a fixed, ordered set of recognizers.
type Fanout struct {
	recognizers []recognizer.Recognizer
	admission   *Admission
	timeout     time.Duration
	nextIdx     int // round-robin fairness cursor, guarded by mu
	mu          sync.Mutex
}

// New builds a Fanout over recognizers, admission-controlled by admission,
// with perCallTimeout bounding every individual provider call.
func New(recognizers []recognizer.Recognizer, admission *Admission, perCallTimeout time.Duration) *Fanout {
	return &Fanout{
		recognizers: recognizers,
		admission:   admission,
		timeout:     perCallTimeout,
	}
}

// Dispatch calls every configured recognizer in parallel for one window,
// returning one Outcome per recognizer in recognizer-configuration order
// (not completion order), so callers can deterministically zip outcomes
// back to provider identity. Providers are round-robin rotated on
// successive calls before admission control is applied, so a sustained
// overload does not starve any one provider.
func (f *Fanout) Dispatch(ctx context.Context, wav []byte) []Outcome {
	order := f.rotationOrder()
	outcomes := make([]Outcome, len(order))

	var wg sync.WaitGroup
	for _, idx := range order {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			r := f.recognizers[idx]
			outcomes[idx] = f.dispatchOne(ctx, r, wav)
		}(idx)
	}
	wg.Wait()
	return outcomes
}

func (f *Fanout) rotationOrder() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.recognizers)
	order := make([]int, n)
	for i := range order {
		order[i] = (f.nextIdx + i) % n
	}
	f.nextIdx = (f.nextIdx + 1) % n
	return order
}

func (f *Fanout) dispatchOne(ctx context.Context, r recognizer.Recognizer, wav []byte) Outcome {
	release, ok := f.admission.tryAcquire(r.Name())
	if !ok {
		return Outcome{Provider: r.Name(), Skipped: true}
	}
	defer release()

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	result := r.Recognize(callCtx, wav, f.timeout)
	latency := time.Since(start)
	result.LatencyMS = latency.Milliseconds()

	if result.Kind == recognizer.OutcomeError {
		appErrors.New(result.Err).
			Component("fanout").
			Category(appErrors.CategoryFanout).
			ProviderContext(r.Name(), latency).
			Build()
	}

	return Outcome{
		Provider:  r.Name(),
		Result:    result,
		LatencyMS: latency.Milliseconds(),
	}
}
