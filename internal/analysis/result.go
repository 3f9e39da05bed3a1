// Package analysis turns an uploaded X-ray image into a structured
// pneumonia assessment. The entry point is Service.Analyze, which never
// fails: every error path is absorbed into a well-formed Result carrying one
// of the error-category diagnosis labels.
package analysis

// Diagnosis labels. The first two are real predictions; the rest name the
// failure category that produced the result.
const (
	DiagnosisPneumonia    = "Pneumonia detected"
	DiagnosisNormal       = "No pneumonia detected"
	DiagnosisModelMissing = "Model not available"
	DiagnosisFailed       = "Analysis failed"
	DiagnosisUnavailable  = "System unavailable"
	DiagnosisError        = "Analysis error"
)

// Threshold on the positive-class probability. Scores strictly above it map
// to the pneumonia label; the boundary itself maps to the negative label.
const Threshold = 0.5

// StageTimings is the per-stage latency breakdown of one analysis, in
// milliseconds. It is diagnostic output, not part of the required result
// contract.
type StageTimings struct {
	PreprocessMS float64 `json:"preprocess"`
	LoadModelMS  float64 `json:"load_model"`
	PredictMS    float64 `json:"predict"`
	TotalMS      float64 `json:"total"`
}

// Result is the immutable outcome of one analysis. Confidence is oriented
// toward the returned diagnosis: for real predictions it is always >= 0.5,
// regardless of which side of the threshold the raw score fell on. RawScore
// keeps the unoriented model output for auditing.
type Result struct {
	Diagnosis       string        `json:"diagnosis"`
	Confidence      float64       `json:"confidence"`
	Findings        string        `json:"findings"`
	Recommendations string        `json:"recommendations"`
	RawScore        *float64      `json:"raw_score,omitempty"`
	Threshold       *float64      `json:"threshold,omitempty"`
	Timings         *StageTimings `json:"timings_ms,omitempty"`
}
