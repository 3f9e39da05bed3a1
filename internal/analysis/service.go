package analysis

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/MGASALUCAS/deepxray/internal/model"
)

// ClassifierProvider yields the process-wide classifier for a model artifact
// path. model.Loader is the production implementation.
type ClassifierProvider interface {
	Get(modelPath string) (model.Classifier, error)
}

// Service runs the analysis pipeline: preprocess, obtain the cached model,
// forward pass, score interpretation. Analyze never returns an error; every
// failure is absorbed into a Result tagged with its category's diagnosis
// label, so nothing propagates into the calling web layer.
type Service struct {
	modelPath string
	provider  ClassifierProvider
	metrics   *Metrics
	debug     bool
}

func NewService(modelPath string, provider ClassifierProvider) *Service {
	return &Service{
		modelPath: modelPath,
		provider:  provider,
		metrics:   NewMetrics(),
		debug:     os.Getenv("DEBUG") == "true",
	}
}

func (s *Service) Metrics() *Metrics { return s.metrics }

// Analyze produces a diagnostic result for the image at filePath.
func (s *Service) Analyze(ctx context.Context, filePath string) (res Result) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%v", r)
			log.Printf("[AI][ERROR] Unexpected error in AI analysis: %v", err)
			s.metrics.recordFailure(CategoryUnknown, time.Since(start))
			res = failureResult(CategoryUnknown, err)
		}
	}()

	if _, err := os.Stat(s.modelPath); err != nil {
		log.Printf("[AI] Model file not found: %s", s.modelPath)
		s.metrics.recordFailure(CategoryModelMissing, time.Since(start))
		return failureResult(CategoryModelMissing, err)
	}

	log.Printf("[AI] Starting analysis for: %s", filePath)

	timings := &StageTimings{}
	res, err := s.run(ctx, filePath, timings)
	if err != nil {
		cat := Classify(err)
		log.Printf("[AI][ERROR] %s failure: %v", cat, err)
		s.metrics.recordFailure(cat, time.Since(start))
		return failureResult(cat, err)
	}

	timings.TotalMS = roundMS(time.Since(start))
	res.Timings = timings
	s.logTimings(timings)

	log.Printf("[AI] Result: %s | confidence=%.4f | total=%.1f ms",
		res.Diagnosis, res.Confidence, timings.TotalMS)
	s.metrics.recordPrediction(time.Since(start))
	return res
}

// run executes the fallible stages. Errors bubble up untouched so Analyze
// can classify them in one place.
func (s *Service) run(ctx context.Context, filePath string, timings *StageTimings) (Result, error) {
	preStart := time.Now()
	tensor, err := Preprocess(filePath)
	if err != nil {
		return Result{}, err
	}
	timings.PreprocessMS = roundMS(time.Since(preStart))

	loadStart := time.Now()
	clf, err := s.provider.Get(s.modelPath)
	if err != nil {
		return Result{}, err
	}
	timings.LoadModelMS = roundMS(time.Since(loadStart))

	if le, ok := s.provider.(interface{ LastError() error }); ok {
		if lastErr := le.LastError(); lastErr != nil {
			log.Printf("[AI][WARN] Model load error previously encountered: %v", lastErr)
		}
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	predStart := time.Now()
	score, err := clf.Predict(tensor.Data)
	if err != nil {
		return Result{}, err
	}
	timings.PredictMS = roundMS(time.Since(predStart))

	return predictionResult(float64(score)), nil
}

// predictionResult orients the raw positive-class probability toward the
// predicted label. Scores strictly above the threshold are pneumonia with
// confidence = score; the boundary and below are negative with confidence =
// 1 - score, so reported confidence is always >= 0.5.
func predictionResult(score float64) Result {
	raw := score
	thr := float64(Threshold)

	res := Result{
		RawScore:  &raw,
		Threshold: &thr,
	}
	if score > Threshold {
		res.Diagnosis = DiagnosisPneumonia
		res.Confidence = score
		res.Findings = fmt.Sprintf(FindingsPneumoniaFmt, score*100)
		res.Recommendations = RecPneumonia
	} else {
		res.Diagnosis = DiagnosisNormal
		res.Confidence = 1 - score
		res.Findings = fmt.Sprintf(FindingsNormalFmt, (1-score)*100)
		res.Recommendations = RecNormal
	}
	return res
}

func failureResult(c Category, err error) Result {
	res := Result{Diagnosis: c.Diagnosis(), Confidence: 0.0}
	switch c {
	case CategoryModelMissing:
		res.Findings = FindingsModelMissing
		res.Recommendations = RecContactAdmin
	case CategoryRuntime:
		res.Findings = FindingsUnavailable
		res.Recommendations = RecContactAdmin
	case CategoryProcessing:
		res.Findings = fmt.Sprintf("Error processing image: %v", err)
		res.Recommendations = RecTryDifferent
	default:
		res.Findings = fmt.Sprintf("Unexpected error: %v", err)
		res.Recommendations = RecTryAgain
	}
	return res
}

func (s *Service) logTimings(t *StageTimings) {
	if s.debug {
		log.Printf("[DEBUG] Analysis times:\n"+
			"\tPreprocess: %.1f ms\n"+
			"\tLoad Model: %.1f ms\n"+
			"\tPredict:    %.1f ms\n"+
			"\tTotal:      %.1f ms",
			t.PreprocessMS, t.LoadModelMS, t.PredictMS, t.TotalMS)
	}
}

func roundMS(d time.Duration) float64 {
	ms := float64(d.Microseconds()) / 1000.0
	return float64(int64(ms*10+0.5)) / 10.0
}
