package model

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeClassifier struct {
	score  float32
	source string
}

func (f *fakeClassifier) Predict(pixels []float32) (float32, error) { return f.score, nil }
func (f *fakeClassifier) Source() string                            { return f.source }

func okRuntime() error { return nil }

func TestLoaderUsesStandardStrategyFirst(t *testing.T) {
	var standardCalls, compatCalls int32
	want := &fakeClassifier{source: "onnx-standard"}

	l := NewLoaderWithStrategies(
		okRuntime,
		func(string) (Classifier, error) {
			atomic.AddInt32(&standardCalls, 1)
			return want, nil
		},
		func(string) (Classifier, error) {
			atomic.AddInt32(&compatCalls, 1)
			return nil, errors.New("should not be reached")
		},
		nil,
	)

	clf, err := l.Get("model.onnx")
	require.NoError(t, err)
	require.Same(t, want, clf)
	require.EqualValues(t, 1, standardCalls)
	require.EqualValues(t, 0, compatCalls)
	require.NoError(t, l.LastError())
}

func TestLoaderFallsThroughToCompat(t *testing.T) {
	want := &fakeClassifier{source: "onnx-compat"}

	l := NewLoaderWithStrategies(
		okRuntime,
		func(string) (Classifier, error) { return nil, errors.New("batch_shape rejected") },
		func(string) (Classifier, error) { return want, nil },
		nil,
	)

	clf, err := l.Get("model.onnx")
	require.NoError(t, err)
	require.Same(t, want, clf)

	// The standard-stage failure stays recorded for diagnostics.
	require.Error(t, l.LastError())
	require.Contains(t, l.LastError().Error(), "batch_shape rejected")
}

func TestLoaderFallsThroughToMock(t *testing.T) {
	mock := &fakeClassifier{source: "mock-fallback"}

	l := NewLoaderWithStrategies(
		okRuntime,
		func(string) (Classifier, error) { return nil, errors.New("standard broken") },
		func(string) (Classifier, error) { return nil, errors.New("compat broken") },
		func() (Classifier, error) { return mock, nil },
	)

	clf, err := l.Get("model.onnx")
	require.NoError(t, err)
	require.Same(t, mock, clf)
	require.Contains(t, l.LastError().Error(), "compat broken")
}

func TestLoaderAggregatesAllStageFailures(t *testing.T) {
	l := NewLoaderWithStrategies(
		okRuntime,
		func(string) (Classifier, error) { return nil, errors.New("standard broken") },
		func(string) (Classifier, error) { return nil, errors.New("compat broken") },
		func() (Classifier, error) { return nil, errors.New("mock broken") },
	)

	_, err := l.Get("model.onnx")
	require.Error(t, err)
	require.Contains(t, err.Error(), "standard broken")
	require.Contains(t, err.Error(), "compat broken")
	require.Contains(t, err.Error(), "mock broken")
}

func TestLoaderCachesOutcome(t *testing.T) {
	var calls int32

	l := NewLoaderWithStrategies(
		okRuntime,
		func(string) (Classifier, error) {
			atomic.AddInt32(&calls, 1)
			return &fakeClassifier{}, nil
		},
		nil, nil,
	)

	first, err := l.Get("model.onnx")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := l.Get("model.onnx")
		require.NoError(t, err)
		require.Same(t, first, again)
	}
	require.EqualValues(t, 1, calls)
}

func TestLoaderCachesFailure(t *testing.T) {
	var calls int32

	l := NewLoaderWithStrategies(
		okRuntime,
		func(string) (Classifier, error) {
			atomic.AddInt32(&calls, 1)
			return nil, errors.New("standard broken")
		},
		func(string) (Classifier, error) { return nil, errors.New("compat broken") },
		func() (Classifier, error) { return nil, errors.New("mock broken") },
	)

	_, err1 := l.Get("model.onnx")
	_, err2 := l.Get("model.onnx")
	require.Error(t, err1)
	require.Equal(t, err1, err2)
	require.EqualValues(t, 1, calls)
}

func TestLoaderSingleFlightUnderConcurrency(t *testing.T) {
	var calls int32

	l := NewLoaderWithStrategies(
		okRuntime,
		func(string) (Classifier, error) {
			atomic.AddInt32(&calls, 1)
			return &fakeClassifier{}, nil
		},
		nil, nil,
	)

	var wg sync.WaitGroup
	results := make([]Classifier, 16)
	errs := make([]error, 16)
	for i := 0; i < len(results); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = l.Get("model.onnx")
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, calls)
	for i, clf := range results {
		require.NoError(t, errs[i])
		require.Same(t, results[0], clf)
	}
}

func TestLoaderReportsRuntimeUnavailable(t *testing.T) {
	l := NewLoaderWithStrategies(
		func() error { return fmt.Errorf("%w: shared library missing", ErrRuntimeUnavailable) },
		nil, nil, nil,
	)

	_, err := l.Get("model.onnx")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrRuntimeUnavailable)
}

// With an initialized runtime but an artifact that is not a valid model,
// both ONNX strategies fail and the untrained mock keeps the loader usable.
func TestLoaderGarbageArtifactEndsAtMock(t *testing.T) {
	mock := &fakeClassifier{source: "mock-fallback"}

	l := NewLoaderWithStrategies(
		okRuntime,
		func(string) (Classifier, error) { return nil, errors.New("invalid protobuf") },
		func(string) (Classifier, error) { return nil, errors.New("inspect artifact: invalid protobuf") },
		func() (Classifier, error) { return mock, nil },
	)

	clf, err := l.Get("garbage.onnx")
	require.NoError(t, err)
	require.Equal(t, "mock-fallback", clf.Source())
}
