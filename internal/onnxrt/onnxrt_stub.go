//go:build !cgo
// +build !cgo

package onnxrt

import "errors"

// ErrNoCGO is returned by Init in builds without cgo.
var ErrNoCGO = errors.New("ONNX runtime requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// Init always fails without cgo.
func Init() error { return ErrNoCGO }
