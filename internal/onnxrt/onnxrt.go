//go:build cgo
// +build cgo

// Package onnxrt initializes the shared ONNX Runtime environment used by the
// embedding and rerank models.
package onnxrt

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	once    sync.Once
	initErr error
)

// Init initializes the runtime once per process. KOTAE_ONNXRUNTIME_LIB may point
// at the onnxruntime shared library when it is not on the default search path.
func Init() error {
	once.Do(func() {
		if lib := os.Getenv("KOTAE_ONNXRUNTIME_LIB"); lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			initErr = fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	})
	return initErr
}
