package decode

import (
	"errors"
	"fmt"

	"github.com/pion/logging"
)

var (
	// ErrDecoderNotFound is returned by GetDecoder when no receive codec is
	// registered for the requested payload type, or when the wildcard payload
	// type is requested with nothing cached.
	ErrDecoderNotFound = errors.New("no decoder associated with payload type")

	// ErrInvalidCoreCount is returned by RegisterReceiveCodec for a negative
	// core count.
	ErrInvalidCoreCount = errors.New("invalid number of cores")

	// ErrNoReceiver is returned by GetDecoder when the sink has no receiver
	// attached. Decoders are never handed out without a frame destination.
	ErrNoReceiver = errors.New("no frame receiver registered")
)

// receiveCodecEntry is one registered receive codec. The database owns the
// config; callers pass configs by value and never see them again.
type receiveCodecEntry struct {
	config          CodecConfig
	numberOfCores   int
	requireKeyFrame bool
}

// DecoderHandle is an initialized decoder bound to the active payload type.
// The handle tags whether the engine is owned (built in, closed on eviction)
// or borrowed (externally registered, never closed by the database).
type DecoderHandle struct {
	engine   Engine
	external bool
}

// Engine returns the underlying decoder engine.
func (h *DecoderHandle) Engine() Engine {
	return h.engine
}

// External reports whether the engine is borrowed from the caller.
func (h *DecoderHandle) External() bool {
	return h.external
}

// Decode decodes one encoded frame on the underlying engine.
func (h *DecoderHandle) Decode(frame *EncodedFrame) error {
	return h.engine.Decode(frame)
}

// PrefersLateDecoding reports the underlying engine's preference.
func (h *DecoderHandle) PrefersLateDecoding() bool {
	return h.engine.PrefersLateDecoding()
}

// Same reports whether the handle wraps exactly the given engine instance.
func (h *DecoderHandle) Same(engine Engine) bool {
	return h.engine.Same(engine)
}

// release closes the engine if the handle owns it. Borrowed engines stay
// alive for their registrant.
func (h *DecoderHandle) release() error {
	if h.external {
		return nil
	}
	return h.engine.Close()
}

// DatabaseStats counts decoder cache activity. Counters follow the same
// single caller discipline as the database itself.
type DatabaseStats struct {
	// CacheHits counts GetDecoder calls served from the active slot.
	CacheHits uint64
	// Rebuilds counts successful decoder builds after a payload type change.
	Rebuilds uint64
	// LookupMisses counts GetDecoder calls for payload types with no
	// registered receive codec.
	LookupMisses uint64
	// BuildFailures counts decoder builds that failed after a successful
	// receive codec lookup.
	BuildFailures uint64
}

// DatabaseConfig configures a Database. The zero value is usable.
type DatabaseConfig struct {
	// LoggerFactory builds the database logger. Defaults to the pion
	// default factory.
	LoggerFactory logging.LoggerFactory

	// EngineFactory builds built-in decoder engines. Defaults to NewEngine,
	// which resolves engines through the provider registry.
	EngineFactory EngineFactory
}

// Database maps payload types to receive codecs and external decoder engines
// and keeps at most one initialized decoder, rebuilt whenever the incoming
// payload type changes.
//
// A Database is not safe for concurrent use and its methods must not be
// reentered from sink callbacks.
type Database struct {
	log       logging.LeveledLogger
	newEngine EngineFactory

	receiveCodecs map[uint8]receiveCodecEntry
	externals     map[uint8]Engine

	// Active slot. activeConfig is the settings snapshot the decoder was
	// initialized with; its PayloadType doubles as the cache key and is
	// WildcardPayloadType when cleared.
	active       *DecoderHandle
	activeConfig CodecConfig

	stats DatabaseStats
}

// NewDatabase creates an empty decoder database.
func NewDatabase(config DatabaseConfig) *Database {
	loggerFactory := config.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	newEngine := config.EngineFactory
	if newEngine == nil {
		newEngine = NewEngine
	}
	return &Database{
		log:           loggerFactory.NewLogger("decode"),
		newEngine:     newEngine,
		receiveCodecs: make(map[uint8]receiveCodecEntry),
		externals:     make(map[uint8]Engine),
	}
}

// RegisterReceiveCodec registers the codec settings to decode payloads of
// config.PayloadType with. Registering an already registered payload type
// replaces the previous settings; if the replaced payload type is the active
// one, the cached decoder is invalidated and rebuilt on the next GetDecoder.
func (d *Database) RegisterReceiveCodec(config CodecConfig, numberOfCores int, requireKeyFrame bool) error {
	if numberOfCores < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCoreCount, numberOfCores)
	}
	if config.Codec == VideoCodecUnknown {
		return fmt.Errorf("%w: %s", ErrCodecNotSupported, config.Codec)
	}
	d.DeregisterReceiveCodec(config.PayloadType)
	d.receiveCodecs[config.PayloadType] = receiveCodecEntry{
		config:          config,
		numberOfCores:   numberOfCores,
		requireKeyFrame: requireKeyFrame,
	}
	return nil
}

// DeregisterReceiveCodec removes the receive codec registered for
// payloadType. It reports whether an entry was removed.
//
// Only the cache key is cleared when the active decoder was built for
// payloadType. The decoder itself stays in the slot and remains reachable
// through the wildcard payload type until the next rebuild evicts it.
func (d *Database) DeregisterReceiveCodec(payloadType uint8) bool {
	if _, ok := d.receiveCodecs[payloadType]; !ok {
		return false
	}
	delete(d.receiveCodecs, payloadType)
	if d.activeConfig.PayloadType == payloadType {
		// The active decoder was built for this payload type.
		d.activeConfig = CodecConfig{}
	}
	return true
}

// HasReceiveCodecs reports whether any receive codec is registered.
func (d *Database) HasReceiveCodecs() bool {
	return len(d.receiveCodecs) > 0
}

// RegisterExternalDecoder registers a caller-owned engine to decode payloads
// of payloadType. The engine must already be able to decode the codec that
// will be registered for the payload type; the database initializes it but
// never closes it. Registering an already registered payload type first
// deregisters the previous engine, including its receive codec.
func (d *Database) RegisterExternalDecoder(engine Engine, payloadType uint8) {
	d.DeregisterExternalDecoder(payloadType)
	d.externals[payloadType] = engine
}

// DeregisterExternalDecoder removes the external engine registered for
// payloadType and its receive codec. It reports whether an engine was
// removed. If the engine is the active decoder it is dropped from the slot;
// being borrowed, it is not closed.
func (d *Database) DeregisterExternalDecoder(payloadType uint8) bool {
	engine, ok := d.externals[payloadType]
	if !ok {
		return false
	}
	// The payload type may be stale while the active decoder still wraps
	// this engine, so compare identity instead.
	if d.active != nil && d.active.Same(engine) {
		d.releaseActiveHandle()
	}
	d.DeregisterReceiveCodec(payloadType)
	delete(d.externals, payloadType)
	return true
}

// GetDecoder returns the decoder for frame's payload type, building and
// initializing one if the payload type changed since the last call. Frames
// carrying WildcardPayloadType are served by whatever decoder is cached.
//
// The sink receives OnPayloadTypeChanged once per rebuild and is registered
// with the new engine for decoded frames.
func (d *Database) GetDecoder(frame *EncodedFrame, sink FrameSink) (*DecoderHandle, error) {
	if sink == nil || !sink.HasReceiver() {
		return nil, ErrNoReceiver
	}
	payloadType := frame.PayloadType
	if payloadType == d.activeConfig.PayloadType || payloadType == WildcardPayloadType {
		if d.active == nil {
			return nil, fmt.Errorf("%w: %d", ErrDecoderNotFound, payloadType)
		}
		d.stats.CacheHits++
		return d.active, nil
	}
	// Payload type changed. Release the current decoder before building the
	// replacement.
	if d.active != nil {
		d.evictActive()
	}
	handle, config, err := d.createAndInitDecoder(frame)
	if err != nil {
		return nil, err
	}
	d.active = handle
	d.activeConfig = config
	sink.OnPayloadTypeChanged(config.PayloadType)
	if err := handle.engine.RegisterFrameSink(sink); err != nil {
		d.evictActive()
		return nil, fmt.Errorf("registering frame sink for payload type %d: %w", payloadType, err)
	}
	d.stats.Rebuilds++
	return d.active, nil
}

// GetCurrentDecoder returns the cached decoder, or nil when the slot is
// empty. It never builds one.
func (d *Database) GetCurrentDecoder() *DecoderHandle {
	return d.active
}

// PrefersLateDecoding reports whether decoding should be started as late as
// possible. True when the slot is empty; otherwise the active engine
// decides.
func (d *Database) PrefersLateDecoding() bool {
	if d.active == nil {
		return true
	}
	return d.active.PrefersLateDecoding()
}

// Stats returns a copy of the cache counters.
func (d *Database) Stats() DatabaseStats {
	return d.stats
}

// Close evicts the active decoder and clears both registries. Borrowed
// engines are left open for their registrants.
func (d *Database) Close() error {
	var errs []error
	if d.active != nil {
		if err := d.active.release(); err != nil {
			errs = append(errs, err)
		}
		d.active = nil
	}
	d.activeConfig = CodecConfig{}
	d.receiveCodecs = make(map[uint8]receiveCodecEntry)
	d.externals = make(map[uint8]Engine)
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// createAndInitDecoder builds and initializes a decoder for frame's payload
// type and returns it with the settings snapshot it was initialized with.
// Nothing is stored in the active slot here.
func (d *Database) createAndInitDecoder(frame *EncodedFrame) (*DecoderHandle, CodecConfig, error) {
	payloadType := frame.PayloadType
	d.log.Infof("initializing decoder with payload type %d", payloadType)

	entry, ok := d.receiveCodecs[payloadType]
	if !ok {
		d.log.Errorf("can't find a decoder associated with payload type: %d", payloadType)
		d.stats.LookupMisses++
		return nil, CodecConfig{}, fmt.Errorf("%w: %d", ErrDecoderNotFound, payloadType)
	}

	var handle *DecoderHandle
	if engine, ok := d.externals[payloadType]; ok {
		handle = &DecoderHandle{engine: engine, external: true}
	} else {
		engine, err := d.newEngine(entry.config.Codec)
		if err != nil {
			d.stats.BuildFailures++
			return nil, CodecConfig{}, fmt.Errorf("building decoder for payload type %d: %w", payloadType, err)
		}
		handle = &DecoderHandle{engine: engine}
	}

	// Carry the frame resolution into the stored settings so the first
	// decoded frame does not force a reinitialize.
	entry = d.applyResolutionHint(payloadType, frame)

	if err := handle.engine.Initialize(entry.config, entry.numberOfCores); err != nil {
		d.stats.BuildFailures++
		if cerr := handle.release(); cerr != nil {
			d.log.Warnf("closing failed decoder: %v", cerr)
		}
		return nil, CodecConfig{}, fmt.Errorf("initializing decoder for payload type %d: %w", payloadType, err)
	}
	return handle, entry.config, nil
}

// applyResolutionHint copies frame's resolution onto the stored receive
// codec settings when the frame carries one, and returns the entry to
// initialize with. The patch outlives the decoder it was applied for.
func (d *Database) applyResolutionHint(payloadType uint8, frame *EncodedFrame) receiveCodecEntry {
	entry := d.receiveCodecs[payloadType]
	if frame.Width > 0 && frame.Height > 0 {
		entry.config.Width = frame.Width
		entry.config.Height = frame.Height
		d.receiveCodecs[payloadType] = entry
	}
	return entry
}

// evictActive drops the active decoder and clears the settings snapshot.
func (d *Database) evictActive() {
	d.releaseActiveHandle()
	d.activeConfig = CodecConfig{}
}

// releaseActiveHandle drops the active decoder without touching the settings
// snapshot.
func (d *Database) releaseActiveHandle() {
	if d.active == nil {
		return
	}
	if err := d.active.release(); err != nil {
		d.log.Warnf("closing evicted decoder: %v", err)
	}
	d.active = nil
}
