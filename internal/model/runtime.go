package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ErrRuntimeUnavailable marks failures to bring up the ONNX runtime itself,
// as opposed to failures loading a particular artifact. Callers map it to the
// "System unavailable" diagnosis.
var ErrRuntimeUnavailable = errors.New("inference runtime unavailable")

var (
	runtimeOnce sync.Once
	runtimeErr  error

	libraryPath string
)

// SetLibraryPath overrides the onnxruntime shared library location. Must be
// called before the first EnsureRuntime.
func SetLibraryPath(path string) {
	libraryPath = path
}

// EnsureRuntime initializes the ONNX runtime environment once per process.
// The outcome is cached either way: a process that failed to bring up the
// runtime stays degraded until restart.
func EnsureRuntime() error {
	runtimeOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		if lib := resolveLibraryPath(); lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			runtimeErr = fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
		}
	})
	return runtimeErr
}

// resolveLibraryPath picks the onnxruntime shared library for the current OS.
// An explicit override wins; otherwise the well-known names are probed next
// to the executable and in the system library directories.
func resolveLibraryPath() string {
	if libraryPath != "" {
		return libraryPath
	}
	if env := os.Getenv("ONNXRUNTIME_LIB_PATH"); env != "" {
		return env
	}

	libName := "libonnxruntime.so"
	switch runtime.GOOS {
	case "darwin":
		libName = "libonnxruntime.dylib"
	case "windows":
		libName = "onnxruntime.dll"
	}

	candidates := []string{libName}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates,
			filepath.Join(filepath.Dir(exe), libName),
			filepath.Join(filepath.Dir(exe), "lib", libName),
		)
	}
	if runtime.GOOS == "linux" {
		candidates = append(candidates,
			filepath.Join("/usr/lib", libName),
			filepath.Join("/usr/local/lib", libName),
		)
	}

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	// Let the binding fall back to its default lookup.
	return ""
}
