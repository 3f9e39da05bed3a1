package model

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Session wraps an ONNX inference session with pre-allocated input and
// output tensors. The underlying session is not safe for concurrent Run
// calls, so Predict serializes access.
type Session struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	source  string
}

// loadStandardSession deserializes the artifact assuming the canonical
// export: tensors named "input"/"output" with fixed shapes [1,224,224,3] and
// [1,1]. Inference only, no training state is required.
func loadStandardSession(modelPath string) (Classifier, error) {
	s, err := newSession(modelPath, inputTensorName, outputTensorName,
		ort.NewShape(1, InputHeight, InputWidth, InputChans), ort.NewShape(1, 1),
		"onnx-standard")
	if err != nil {
		return nil, err
	}
	return s, nil
}

// loadCompatSession retries against artifacts produced by newer exporters,
// which declare their own tensor names and often a dynamic (or explicit)
// batch dimension the canonical path rejects. The artifact's declared I/O is
// inspected and any non-positive leading dimension is pinned to batch size 1
// before the session is built.
func loadCompatSession(modelPath string) (Classifier, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("inspect artifact: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("artifact declares no usable inputs/outputs")
	}

	inShape := pinBatchDimension(inputs[0].Dimensions)
	outShape := pinBatchDimension(outputs[0].Dimensions)
	if n := elementCount(inShape); n != InputLen {
		return nil, fmt.Errorf("artifact input holds %d elements, want %d", n, InputLen)
	}

	s, err := newSession(modelPath, inputs[0].Name, outputs[0].Name, inShape, outShape, "onnx-compat")
	if err != nil {
		return nil, err
	}
	return s, nil
}

// pinBatchDimension replaces a dynamic leading dimension (-1 or 0) with 1.
func pinBatchDimension(dims ort.Shape) ort.Shape {
	pinned := make(ort.Shape, len(dims))
	copy(pinned, dims)
	if len(pinned) > 0 && pinned[0] <= 0 {
		pinned[0] = 1
	}
	return pinned
}

func elementCount(dims ort.Shape) int64 {
	n := int64(1)
	for _, d := range dims {
		n *= d
	}
	return n
}

func newSession(modelPath, inputName, outputName string, inShape, outShape ort.Shape, source string) (*Session, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	inputTensor, err := ort.NewEmptyTensor[float32](inShape)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{inputName},
		[]string{outputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &Session{
		session: session,
		input:   inputTensor,
		output:  outputTensor,
		source:  source,
	}, nil
}

// Predict copies the preprocessed pixels into the input tensor, runs the
// forward pass and returns the scalar at position [0][0] of the output.
func (s *Session) Predict(pixels []float32) (float32, error) {
	if len(pixels) != InputLen {
		return 0, fmt.Errorf("unexpected input length: got %d, want %d", len(pixels), InputLen)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy(s.input.GetData(), pixels)
	if err := s.session.Run(); err != nil {
		return 0, fmt.Errorf("model inference: %w", err)
	}

	out := s.output.GetData()
	if len(out) == 0 {
		return 0, fmt.Errorf("model produced empty output")
	}
	return out[0], nil
}

func (s *Session) Source() string { return s.source }

// Destroy releases the session and its tensors.
func (s *Session) Destroy() {
	if s.session != nil {
		s.session.Destroy()
	}
	if s.input != nil {
		s.input.Destroy()
	}
	if s.output != nil {
		s.output.Destroy()
	}
}
