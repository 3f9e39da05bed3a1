package analysis

import (
	"fmt"
	"image"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/MGASALUCAS/deepxray/internal/model"
)

// Tensor is a preprocessed image ready for the classifier: NHWC float32
// data, one batch entry, pixel values in [0,1].
type Tensor struct {
	Data []float32
}

// Shape reports the fixed tensor geometry: [1, 224, 224, 3].
func (t *Tensor) Shape() [4]int64 {
	return [4]int64{1, model.InputHeight, model.InputWidth, model.InputChans}
}

// Preprocess decodes the image at path and normalizes it into the tensor
// shape the model expects. Any color mode is forced through RGB sampling, so
// grayscale X-rays and alpha-carrying images come out uniformly three
// channel. The resize is a direct 224x224 mapping with no aspect-ratio
// preservation. Decode errors propagate to the caller; there is no recovery
// here.
func Preprocess(path string) (*Tensor, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	resized := imaging.Resize(img, model.InputWidth, model.InputHeight, imaging.Linear)

	buffer := make([]float32, model.InputLen)
	fillBuffer(resized, buffer)

	return &Tensor{Data: buffer}, nil
}

// fillBuffer scales pixels to [0,1] and lays them out interleaved (NHWC).
// Rows are split across workers; the NRGBA fast path reads the raster
// directly and the generic path goes through the color model, which also
// performs the RGB conversion for grayscale and alpha inputs.
func fillBuffer(img image.Image, buffer []float32) {
	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers > model.InputHeight {
		numWorkers = model.InputHeight
	}
	rowsPerWorker := model.InputHeight / numWorkers

	nrgba, fast := img.(*image.NRGBA)

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := (w + 1) * rowsPerWorker
		if w == numWorkers-1 {
			endRow = model.InputHeight
		}

		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				if fast {
					row := nrgba.Pix[y*nrgba.Stride:]
					for x := 0; x < model.InputWidth; x++ {
						i := (y*model.InputWidth + x) * 3
						buffer[i] = float32(row[x*4]) / 255.0
						buffer[i+1] = float32(row[x*4+1]) / 255.0
						buffer[i+2] = float32(row[x*4+2]) / 255.0
					}
					continue
				}
				for x := 0; x < model.InputWidth; x++ {
					i := (y*model.InputWidth + x) * 3
					r, g, b, _ := img.At(x, y).RGBA()
					buffer[i] = float32(r>>8) / 255.0
					buffer[i+1] = float32(g>>8) / 255.0
					buffer[i+2] = float32(b>>8) / 255.0
				}
			}
		}(startRow, endRow)
	}
	wg.Wait()
}
