// Package core defines the core business logic and interfaces for the narrator service.
package core

import "context"

// Engine defines the interface for a text-to-speech synthesis engine.
//
// A single sentence may produce more than one audio segment because the
// underlying model is free to re-chunk its input. Implementations must
// normalize whatever representation the model returns into AudioSegment
// before it leaves this boundary.
type Engine interface {
	Synthesize(ctx context.Context, sentence, voice string, speed float64) ([]AudioSegment, error)
}

// BlobStore defines the interface for the remote audio blob collaborator.
//
// Upload returns an opaque handle; Resolve exchanges a handle for a
// temporary download URL. The URL validity window is collaborator-defined
// and callers must not assume permanence.
type BlobStore interface {
	Upload(ctx context.Context, filename string, data []byte) (string, error)
	Resolve(ctx context.Context, handle string) (string, error)
}

// ObjectStore defines the interface for interacting with a key-value blob store.
// It spools chapter text and finished audio payloads between the worker and
// its clients.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// Probe reports device capability and power state used to size synthesis
// batches. Production implementations read OS sensors; tests substitute
// fixed values.
type Probe interface {
	DeviceClass() string
	OnBattery() bool
	TemperatureC() (float64, bool)
}
