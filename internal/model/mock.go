package model

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"
)

// mockSeed fixes the weight initialization so the fallback behaves the same
// way across restarts of a degraded process.
const mockSeed = 20240224

// MockClassifier is the stage-3 fallback: a structurally equivalent but
// untrained convolutional stack, instantiated only so the service keeps
// returning well-formed responses when the real artifact cannot be loaded.
// Its predictions carry no clinical meaning.
type MockClassifier struct {
	conv1  *convLayer
	conv2  *convLayer
	conv3  *convLayer
	dense1 *denseLayer
	dense2 *denseLayer
}

// NewMockClassifier builds the untrained fallback network: three
// convolution blocks of increasing channel width with 2x2 max pooling after
// the first two, a 64-unit hidden layer and a single sigmoid output unit.
func NewMockClassifier() (*MockClassifier, error) {
	rng := rand.New(rand.NewSource(mockSeed))

	conv1 := newConvLayer(rng, InputChans, 32, 3)
	conv2 := newConvLayer(rng, 32, 64, 3)
	conv3 := newConvLayer(rng, 64, 64, 3)

	// 224 -> conv 222 -> pool 111 -> conv 109 -> pool 54 -> conv 52
	flatSize := 52 * 52 * 64
	dense1 := newDenseLayer(rng, flatSize, 64)
	dense2 := newDenseLayer(rng, 64, 1)

	return &MockClassifier{
		conv1:  conv1,
		conv2:  conv2,
		conv3:  conv3,
		dense1: dense1,
		dense2: dense2,
	}, nil
}

func (m *MockClassifier) Predict(pixels []float32) (float32, error) {
	if len(pixels) != InputLen {
		return 0, fmt.Errorf("unexpected input length: got %d, want %d", len(pixels), InputLen)
	}

	a, h, w := m.conv1.forward(pixels, InputHeight, InputWidth)
	a, h, w = maxPool2(a, h, w, m.conv1.outCh)
	a, h, w = m.conv2.forward(a, h, w)
	a, h, w = maxPool2(a, h, w, m.conv2.outCh)
	a, _, _ = m.conv3.forward(a, h, w)

	hidden := m.dense1.forward(a, true)
	logit := m.dense2.forward(hidden, false)

	return sigmoid(logit[0]), nil
}

func (m *MockClassifier) Source() string { return "mock-fallback" }

// convLayer is a valid-padding, stride-1 convolution with ReLU activation.
// Weights are stored as [outCh][k][k][inCh], activations as NHWC.
type convLayer struct {
	inCh, outCh, k int
	weights        []float32
	bias           []float32
}

func newConvLayer(rng *rand.Rand, inCh, outCh, k int) *convLayer {
	fanIn := inCh * k * k
	fanOut := outCh * k * k
	return &convLayer{
		inCh:    inCh,
		outCh:   outCh,
		k:       k,
		weights: glorotUniform(rng, outCh*k*k*inCh, fanIn, fanOut),
		bias:    make([]float32, outCh),
	}
}

func (c *convLayer) forward(in []float32, inH, inW int) ([]float32, int, int) {
	outH := inH - c.k + 1
	outW := inW - c.k + 1
	out := make([]float32, outH*outW*c.outCh)

	// Split output rows across workers; each row is independent.
	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers > outH {
		numWorkers = outH
	}
	rowsPerWorker := outH / numWorkers

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for wi := 0; wi < numWorkers; wi++ {
		startRow := wi * rowsPerWorker
		endRow := (wi + 1) * rowsPerWorker
		if wi == numWorkers-1 {
			endRow = outH
		}

		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				for x := 0; x < outW; x++ {
					outBase := (y*outW + x) * c.outCh
					for oc := 0; oc < c.outCh; oc++ {
						sum := c.bias[oc]
						wBase := oc * c.k * c.k * c.inCh
						for ky := 0; ky < c.k; ky++ {
							inRow := ((y+ky)*inW + x) * c.inCh
							wRow := wBase + ky*c.k*c.inCh
							for i := 0; i < c.k*c.inCh; i++ {
								sum += in[inRow+i] * c.weights[wRow+i]
							}
						}
						if sum < 0 {
							sum = 0
						}
						out[outBase+oc] = sum
					}
				}
			}
		}(startRow, endRow)
	}
	wg.Wait()

	return out, outH, outW
}

// maxPool2 is a 2x2, stride-2 max pool over NHWC activations. Odd trailing
// rows/columns are dropped, matching the default pooling behavior of the
// original network.
func maxPool2(in []float32, inH, inW, ch int) ([]float32, int, int) {
	outH := inH / 2
	outW := inW / 2
	out := make([]float32, outH*outW*ch)

	for y := 0; y < outH; y++ {
		for x := 0; x < outW; x++ {
			a := ((2*y)*inW + 2*x) * ch
			b := ((2*y)*inW + 2*x + 1) * ch
			c := ((2*y+1)*inW + 2*x) * ch
			d := ((2*y+1)*inW + 2*x + 1) * ch
			outBase := (y*outW + x) * ch
			for k := 0; k < ch; k++ {
				m := in[a+k]
				if in[b+k] > m {
					m = in[b+k]
				}
				if in[c+k] > m {
					m = in[c+k]
				}
				if in[d+k] > m {
					m = in[d+k]
				}
				out[outBase+k] = m
			}
		}
	}

	return out, outH, outW
}

type denseLayer struct {
	in, out int
	weights []float32
	bias    []float32
}

func newDenseLayer(rng *rand.Rand, in, out int) *denseLayer {
	return &denseLayer{
		in:      in,
		out:     out,
		weights: glorotUniform(rng, in*out, in, out),
		bias:    make([]float32, out),
	}
}

func (d *denseLayer) forward(in []float32, relu bool) []float32 {
	out := make([]float32, d.out)
	for o := 0; o < d.out; o++ {
		sum := d.bias[o]
		wBase := o * d.in
		for i := 0; i < d.in; i++ {
			sum += in[i] * d.weights[wBase+i]
		}
		if relu && sum < 0 {
			sum = 0
		}
		out[o] = sum
	}
	return out
}

func glorotUniform(rng *rand.Rand, n, fanIn, fanOut int) []float32 {
	limit := float32(math.Sqrt(6.0 / float64(fanIn+fanOut)))
	w := make([]float32, n)
	for i := range w {
		w[i] = (rng.Float32()*2 - 1) * limit
	}
	return w
}

func sigmoid(z float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(-float64(z))))
}
