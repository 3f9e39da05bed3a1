// Package model loads the pneumonia classifier and keeps it cached for the
// lifetime of the process. Loading runs a fixed fallback chain: the standard
// ONNX session first, then a compatibility path for artifacts exported with
// newer shape declarations, and finally an untrained mock classifier so the
// service stays responsive even when the real artifact is unusable.
package model

// Model input geometry. The classifier consumes a single 224x224 RGB image,
// NHWC layout, pixel values scaled to [0,1].
const (
	InputWidth  = 224
	InputHeight = 224
	InputChans  = 3

	InputLen = InputWidth * InputHeight * InputChans
)

// Canonical tensor names used by the standard export of the classifier.
const (
	inputTensorName  = "input"
	outputTensorName = "output"
)

// Classifier is a loaded pneumonia model. Predict takes preprocessed pixel
// data (InputLen float32 values, NHWC) and returns the positive-class
// probability from the sigmoid output unit.
type Classifier interface {
	Predict(pixels []float32) (float32, error)
	// Source identifies which load strategy produced this classifier. It is
	// meant for logging only and is never surfaced in analysis results.
	Source() string
}
