// Package config provides environment helpers for go-labvision commands.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Defaults used when the environment does not override them.
const (
	DefaultWebPort      = "8181"
	DefaultCameraDevice = 0
	DefaultLogLevel     = "info"
	DefaultLabelsPath   = "labels.txt"
)

// PredictionURL returns the remote detection endpoint from PREDICTION_URL.
// An empty string means no remote detector is configured.
func PredictionURL() string {
	return os.Getenv("PREDICTION_URL")
}

// PredictionKey returns the remote detection key from PREDICTION_KEY.
func PredictionKey() string {
	return os.Getenv("PREDICTION_KEY")
}

// ModelPath returns the local ONNX model path from MODEL_PATH.
// An empty string means the local detector is disabled.
func ModelPath() string {
	return os.Getenv("MODEL_PATH")
}

// LabelsPath returns the label file path from LABELS_PATH or the default.
func LabelsPath() string {
	if p := os.Getenv("LABELS_PATH"); p != "" {
		return p
	}
	return DefaultLabelsPath
}

// WebPort returns the dashboard port from WEB_PORT or the default.
func WebPort() string {
	if port := os.Getenv("WEB_PORT"); port != "" {
		return port
	}
	return DefaultWebPort
}

// SignallingURL returns the WebRTC signalling server from SIGNALLING_URL.
// An empty string selects the local capture device instead.
func SignallingURL() string {
	return os.Getenv("SIGNALLING_URL")
}

// CameraDevice returns the capture device index from CAMERA_DEVICE.
func CameraDevice() int {
	v := os.Getenv("CAMERA_DEVICE")
	if v == "" {
		return DefaultCameraDevice
	}
	id, err := strconv.Atoi(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: CAMERA_DEVICE=%q is not a number, using %d\n", v, DefaultCameraDevice)
		return DefaultCameraDevice
	}
	return id
}

// LogLevel returns the log level from LOG_LEVEL or the default.
func LogLevel() string {
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		return lvl
	}
	return DefaultLogLevel
}

// RemoteDetectorRequired returns the prediction URL and key.
// Exits if PREDICTION_URL is set without PREDICTION_KEY.
func RemoteDetectorRequired() (string, string) {
	url, key := PredictionURL(), PredictionKey()
	if url != "" && key == "" {
		fmt.Fprintln(os.Stderr, "Error: PREDICTION_KEY is required when PREDICTION_URL is set")
		fmt.Fprintln(os.Stderr, "Usage: PREDICTION_URL=https://... PREDICTION_KEY=... go run ./cmd/labvision")
		os.Exit(1)
	}
	return url, key
}
