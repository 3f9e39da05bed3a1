package model

import (
	"errors"
	"fmt"
	"log"
	"sync"
)

// Loader resolves the model artifact into a usable Classifier at most once
// per process. The outcome, success or failure, is cached with no TTL and no
// invalidation: restarting the process is the only way to retry a failed
// load.
type Loader struct {
	once sync.Once
	clf  Classifier
	err  error

	mu      sync.Mutex
	lastErr error

	// Load strategies, overridable in tests.
	ensureRuntime func() error
	loadStandard  func(modelPath string) (Classifier, error)
	loadCompat    func(modelPath string) (Classifier, error)
	buildMock     func() (Classifier, error)
}

// NewLoader returns a loader wired to the real ONNX runtime strategies.
func NewLoader() *Loader {
	return NewLoaderWithStrategies(
		EnsureRuntime,
		loadStandardSession,
		loadCompatSession,
		func() (Classifier, error) { return NewMockClassifier() },
	)
}

// NewLoaderWithStrategies builds a loader from explicit strategies. Nil
// strategies fall back to the real ones.
func NewLoaderWithStrategies(
	ensureRuntime func() error,
	loadStandard func(modelPath string) (Classifier, error),
	loadCompat func(modelPath string) (Classifier, error),
	buildMock func() (Classifier, error),
) *Loader {
	l := &Loader{
		ensureRuntime: ensureRuntime,
		loadStandard:  loadStandard,
		loadCompat:    loadCompat,
		buildMock:     buildMock,
	}
	if l.ensureRuntime == nil {
		l.ensureRuntime = EnsureRuntime
	}
	if l.loadStandard == nil {
		l.loadStandard = loadStandardSession
	}
	if l.loadCompat == nil {
		l.loadCompat = loadCompatSession
	}
	if l.buildMock == nil {
		l.buildMock = func() (Classifier, error) { return NewMockClassifier() }
	}
	return l
}

// Get returns the cached classifier, running the fallback chain on the first
// call. Concurrent first calls share a single load.
func (l *Loader) Get(modelPath string) (Classifier, error) {
	l.once.Do(func() {
		l.clf, l.err = l.load(modelPath)
	})
	return l.clf, l.err
}

// LastError reports the most recent strategy failure, kept for diagnostic
// logging. It is overwritten on each failed stage and never cleared, so it
// stays set even when a later stage succeeded.
func (l *Loader) LastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

func (l *Loader) recordError(err error) {
	l.mu.Lock()
	l.lastErr = err
	l.mu.Unlock()
}

// load runs the strategies in order: standard session, compatibility
// session, untrained mock. On total exhaustion every stage failure is folded
// into the returned error.
func (l *Loader) load(modelPath string) (Classifier, error) {
	if err := l.ensureRuntime(); err != nil {
		l.recordError(err)
		return nil, err
	}

	var attempts []error

	clf, err := l.loadStandard(modelPath)
	if err == nil {
		log.Printf("[AI] Model loaded (standard loader)")
		return clf, nil
	}
	err = fmt.Errorf("standard load: %w", err)
	l.recordError(err)
	attempts = append(attempts, err)
	log.Printf("[AI][WARN] Standard model loading failed: %v", err)

	clf, err = l.loadCompat(modelPath)
	if err == nil {
		log.Printf("[AI] Model loaded (compatibility loader)")
		return clf, nil
	}
	err = fmt.Errorf("compatibility load: %w", err)
	l.recordError(err)
	attempts = append(attempts, err)
	log.Printf("[AI][WARN] Compatibility model loading failed: %v", err)

	clf, err = l.buildMock()
	if err == nil {
		log.Printf("[AI][FALLBACK] Using untrained mock model")
		return clf, nil
	}
	err = fmt.Errorf("mock fallback: %w", err)
	l.recordError(err)
	attempts = append(attempts, err)

	return nil, fmt.Errorf("failed to load any model: %w", errors.Join(attempts...))
}
