package decode

import (
	"fmt"
	"sync"

	"github.com/pion/logging"
)

// ReceiverStats provides receive-side statistics.
type ReceiverStats struct {
	PacketsReceived   uint64
	FramesReceived    uint64
	FramesDecoded     uint64
	FramesDropped     uint64
	KeyframesReceived uint64
}

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	// LoggerFactory builds the receiver and database loggers. Defaults to
	// the pion default factory.
	LoggerFactory logging.LoggerFactory

	// EngineFactory builds built-in decoder engines. Defaults to NewEngine.
	EngineFactory EngineFactory

	// OnFrame receives decoded frames. A receiver without it refuses to
	// decode.
	OnFrame VideoFrameCallback

	// OnPayloadTypeChanged is invoked whenever a decoder is rebuilt for a
	// new payload type. Optional.
	OnPayloadTypeChanged func(payloadType uint8)
}

// receiverStream is the per payload type receive state.
type receiverStream struct {
	codec        VideoCodec
	assembler    *FrameAssembler
	requireKey   bool
	seenKeyframe bool
}

// Receiver assembles RTP packets into encoded frames and decodes them
// through a decoder database. It is the database's frame sink: decoded
// frames are forwarded to the configured callback.
//
// ProcessPacket and ProcessFrame must be called from a single goroutine.
// Stats may be read from any goroutine.
type Receiver struct {
	log logging.LeveledLogger
	db  *Database

	streams map[uint8]*receiverStream

	onFrame              VideoFrameCallback
	onPayloadTypeChanged func(payloadType uint8)

	statsMu sync.Mutex
	stats   ReceiverStats
}

// NewReceiver creates a receiver with an empty decoder database.
func NewReceiver(config ReceiverConfig) *Receiver {
	loggerFactory := config.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	db := NewDatabase(DatabaseConfig{
		LoggerFactory: loggerFactory,
		EngineFactory: config.EngineFactory,
	})
	return &Receiver{
		log:                  loggerFactory.NewLogger("decode"),
		db:                   db,
		streams:              make(map[uint8]*receiverStream),
		onFrame:              config.OnFrame,
		onPayloadTypeChanged: config.OnPayloadTypeChanged,
	}
}

// Database returns the underlying decoder database.
func (r *Receiver) Database() *Database {
	return r.db
}

// RegisterReceiveCodec registers a receive codec and sets up frame assembly
// for its payload type. When requireKeyFrame is set, delta frames are
// dropped until the first keyframe arrives.
func (r *Receiver) RegisterReceiveCodec(config CodecConfig, numberOfCores int, requireKeyFrame bool) error {
	if err := r.db.RegisterReceiveCodec(config, numberOfCores, requireKeyFrame); err != nil {
		return err
	}
	stream := &receiverStream{codec: config.Codec, requireKey: requireKeyFrame}
	assembler, err := NewFrameAssembler(config.Codec)
	if err != nil {
		// Frames for this payload type can still be fed through
		// ProcessFrame.
		r.log.Warnf("no frame assembly for payload type %d: %v", config.PayloadType, err)
	} else {
		stream.assembler = assembler
	}
	r.streams[config.PayloadType] = stream
	return nil
}

// DeregisterReceiveCodec removes the receive codec and assembly state for
// payloadType. It reports whether an entry was removed.
func (r *Receiver) DeregisterReceiveCodec(payloadType uint8) bool {
	delete(r.streams, payloadType)
	return r.db.DeregisterReceiveCodec(payloadType)
}

// RegisterExternalDecoder registers a caller-owned engine for payloadType.
func (r *Receiver) RegisterExternalDecoder(engine Engine, payloadType uint8) {
	r.db.RegisterExternalDecoder(engine, payloadType)
}

// DeregisterExternalDecoder removes the external engine registered for
// payloadType together with its receive codec and assembly state.
func (r *Receiver) DeregisterExternalDecoder(payloadType uint8) bool {
	ok := r.db.DeregisterExternalDecoder(payloadType)
	if ok {
		delete(r.streams, payloadType)
	}
	return ok
}

// ProcessPacket feeds one RTP packet into frame assembly and decodes any
// frame it completes.
func (r *Receiver) ProcessPacket(packet *RTPPacket) error {
	r.statsMu.Lock()
	r.stats.PacketsReceived++
	r.statsMu.Unlock()

	stream, ok := r.streams[packet.PayloadType]
	if !ok {
		return fmt.Errorf("%w: %d", ErrDecoderNotFound, packet.PayloadType)
	}
	if stream.assembler == nil {
		return fmt.Errorf("%w: no depacketizer for payload type %d", ErrCodecNotSupported, packet.PayloadType)
	}
	frame, err := stream.assembler.Push(packet)
	if err != nil {
		return err
	}
	if frame == nil {
		return nil
	}
	return r.ProcessFrame(frame)
}

// ProcessFrame decodes one assembled frame. Delta frames are dropped while
// a stream registered with requireKeyFrame is waiting for its first
// keyframe. Frames arriving unclassified are classified from the bitstream.
func (r *Receiver) ProcessFrame(frame *EncodedFrame) error {
	stream := r.streams[frame.PayloadType]
	if frame.FrameType == FrameTypeUnknown && stream != nil {
		frame.FrameType = detectFrameType(stream.codec, frame.Data)
	}

	r.statsMu.Lock()
	r.stats.FramesReceived++
	if frame.FrameType == FrameTypeKey {
		r.stats.KeyframesReceived++
	}
	r.statsMu.Unlock()

	if stream != nil && stream.requireKey && !stream.seenKeyframe {
		if frame.FrameType != FrameTypeKey {
			r.statsMu.Lock()
			r.stats.FramesDropped++
			r.statsMu.Unlock()
			r.log.Debugf("dropping delta frame for payload type %d, waiting for keyframe", frame.PayloadType)
			return nil
		}
		stream.seenKeyframe = true
	}

	handle, err := r.db.GetDecoder(frame, r)
	if err != nil {
		return err
	}
	if err := handle.Decode(frame); err != nil {
		if stream != nil && stream.requireKey {
			// Resynchronize on the next keyframe.
			stream.seenKeyframe = false
		}
		return fmt.Errorf("decoding frame for payload type %d: %w", frame.PayloadType, err)
	}
	return nil
}

// Stats returns a copy of the receiver statistics.
func (r *Receiver) Stats() ReceiverStats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}

// Close closes the underlying decoder database.
func (r *Receiver) Close() error {
	return r.db.Close()
}

// HasReceiver implements FrameSink.
func (r *Receiver) HasReceiver() bool {
	return r.onFrame != nil
}

// OnPayloadTypeChanged implements FrameSink.
func (r *Receiver) OnPayloadTypeChanged(payloadType uint8) {
	r.log.Infof("incoming payload type changed to %d", payloadType)
	if r.onPayloadTypeChanged != nil {
		r.onPayloadTypeChanged(payloadType)
	}
}

// OnFrame implements FrameSink.
func (r *Receiver) OnFrame(frame *VideoFrame) error {
	r.statsMu.Lock()
	r.stats.FramesDecoded++
	r.statsMu.Unlock()
	r.onFrame(frame)
	return nil
}
