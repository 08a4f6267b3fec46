package decode

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// Common errors
var (
	ErrProviderNotFound  = errors.New("provider not available")
	ErrCodecNotSupported = errors.New("codec not supported")
)

// FrameSink consumes the output of a decoder engine. A sink is handed to
// Database.GetDecoder together with each frame and is registered with the
// engine the first time a decoder is built for a payload type.
type FrameSink interface {
	// HasReceiver reports whether the sink is wired to something that can
	// actually receive frames. GetDecoder refuses to hand out decoders to a
	// sink without a receiver.
	HasReceiver() bool

	// OnPayloadTypeChanged is invoked once per decoder rebuild with the
	// payload type the new decoder was initialized for.
	OnPayloadTypeChanged(payloadType uint8)

	// OnFrame delivers a decoded frame.
	OnFrame(frame *VideoFrame) error
}

// Engine decodes a single codec's bitstream. Built-in engines are created by
// the provider registry and owned by the Database that initialized them;
// external engines are registered by the caller and never closed by the
// Database.
type Engine interface {
	io.Closer

	// Initialize prepares the engine for the given receive codec. It is
	// called exactly once by the Database before any Decode call, and may be
	// computationally heavy. numberOfCores is a parallelism hint.
	Initialize(config CodecConfig, numberOfCores int) error

	// Decode decodes one encoded frame. Output is delivered through the
	// sink registered with RegisterFrameSink; engines may buffer and emit
	// nothing for a given input.
	Decode(frame *EncodedFrame) error

	// RegisterFrameSink attaches the sink decoded frames are delivered to.
	RegisterFrameSink(sink FrameSink) error

	// PrefersLateDecoding reports whether the engine prefers to be handed
	// complete frames rather than partial data as it arrives.
	PrefersLateDecoding() bool

	// Same reports whether other is this same engine instance. Identity is
	// decided by the implementation rather than by comparing opaque
	// interface values.
	Same(other Engine) bool
}

// EngineFactory builds an uninitialized decoder engine for a codec, or
// reports the codec as unsupported. The zero value of DatabaseConfig uses
// NewEngine, which resolves engines through the provider registry.
type EngineFactory func(codec VideoCodec) (Engine, error)

// EngineStats provides decoder engine statistics.
type EngineStats struct {
	FramesDecoded    uint64
	KeyframesDecoded uint64
	BytesDecoded     uint64
	CorruptedFrames  uint64
}

// --- Registry ---

type engineFactory func() (Engine, error)

type engineRegistry struct {
	mu sync.RWMutex

	// Provider-aware registry: codec -> provider -> factory
	providers map[VideoCodec]map[Provider]engineFactory

	// Default provider per codec
	defaults map[VideoCodec]Provider
}

var globalEngineRegistry = &engineRegistry{
	providers: make(map[VideoCodec]map[Provider]engineFactory),
	defaults:  make(map[VideoCodec]Provider),
}

// registerEngine registers a decoder engine factory for a codec+provider.
func registerEngine(codec VideoCodec, provider Provider, factory engineFactory) {
	globalEngineRegistry.mu.Lock()
	defer globalEngineRegistry.mu.Unlock()

	if globalEngineRegistry.providers[codec] == nil {
		globalEngineRegistry.providers[codec] = make(map[Provider]engineFactory)
	}
	globalEngineRegistry.providers[codec][provider] = factory

	// Set default: prefer BSD (permissive) license providers
	current, exists := globalEngineRegistry.defaults[codec]
	if !exists || (provider.License().Permissive() && !current.License().Permissive()) {
		globalEngineRegistry.defaults[codec] = provider
	}
}

// SetDefaultEngineProvider sets the default provider for a codec.
func SetDefaultEngineProvider(codec VideoCodec, provider Provider) {
	globalEngineRegistry.mu.Lock()
	defer globalEngineRegistry.mu.Unlock()
	globalEngineRegistry.defaults[codec] = provider
}

// NewEngine creates a built-in decoder engine for codec using the default
// provider. The returned engine is not yet initialized.
func NewEngine(codec VideoCodec) (Engine, error) {
	return NewEngineWithProvider(codec, ProviderAuto)
}

// NewEngineWithProvider creates a built-in decoder engine for codec using the
// given provider. ProviderAuto resolves to the codec's default provider.
func NewEngineWithProvider(codec VideoCodec, provider Provider) (Engine, error) {
	globalEngineRegistry.mu.RLock()
	defer globalEngineRegistry.mu.RUnlock()

	providers := globalEngineRegistry.providers[codec]
	if providers == nil {
		return nil, fmt.Errorf("%w: no providers for %s", ErrCodecNotSupported, codec)
	}

	// Resolve provider
	p := provider
	if p == ProviderAuto {
		p = globalEngineRegistry.defaults[codec]
	}

	factory, ok := providers[p]
	if !ok || !p.Available() {
		return nil, fmt.Errorf("%w: %s for %s", ErrProviderNotFound, p, codec)
	}

	return factory()
}

// EngineProviders returns available providers for a codec.
func EngineProviders(codec VideoCodec) []Provider {
	globalEngineRegistry.mu.RLock()
	defer globalEngineRegistry.mu.RUnlock()

	providers := globalEngineRegistry.providers[codec]
	result := make([]Provider, 0, len(providers))
	for p := range providers {
		if p.Available() {
			result = append(result, p)
		}
	}
	return result
}
