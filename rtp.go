package decode

import (
	"fmt"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// Re-export pion/rtp types for convenience
type (
	// RTPPacket is an alias to pion's rtp.Packet
	RTPPacket = rtp.Packet

	// RTPHeader is an alias to pion's rtp.Header
	RTPHeader = rtp.Header
)

// IsRTPTimestampOlder returns true if ts1 is older than or equal to ts2,
// handling 32-bit wraparound correctly per RTP timestamp comparison rules.
// This is used by frame assembly to discard late-arriving packets.
func IsRTPTimestampOlder(ts1, ts2 uint32) bool {
	if ts1 == ts2 {
		return true
	}
	// Standard RTP timestamp comparison with wraparound handling:
	// ts1 is older if (ts2 - ts1) < 2^31
	diff := ts2 - ts1
	return diff < 0x80000000
}

// FrameAssembler reassembles encoded frames from RTP packets for a single
// payload type. A packet with a newer timestamp flushes an incomplete frame;
// the marker bit closes a frame. Late packets from abandoned frames are
// dropped.
//
// A FrameAssembler is not safe for concurrent use.
type FrameAssembler struct {
	codec        VideoCodec
	depacketizer rtp.Depacketizer

	buffer    []byte
	timestamp uint32
	started   bool
}

// NewFrameAssembler creates a frame assembler for codec.
func NewFrameAssembler(codec VideoCodec) (*FrameAssembler, error) {
	var depacketizer rtp.Depacketizer
	switch codec {
	case VideoCodecVP8:
		depacketizer = &codecs.VP8Packet{}
	case VideoCodecVP9:
		depacketizer = &codecs.VP9Packet{}
	case VideoCodecH264:
		depacketizer = &codecs.H264Packet{}
	case VideoCodecAV1:
		depacketizer = &codecs.AV1Depacketizer{}
	default:
		return nil, fmt.Errorf("%w: no depacketizer for %s", ErrCodecNotSupported, codec)
	}
	return &FrameAssembler{codec: codec, depacketizer: depacketizer}, nil
}

// Codec returns the codec the assembler was created for.
func (a *FrameAssembler) Codec() VideoCodec {
	return a.codec
}

// Push adds one RTP packet. It returns a complete encoded frame when the
// packet closes one, or nil while a frame is still being assembled.
func (a *FrameAssembler) Push(packet *RTPPacket) (*EncodedFrame, error) {
	payload, err := a.depacketizer.Unmarshal(packet.Payload)
	if err != nil {
		return nil, fmt.Errorf("unmarshaling %s payload: %w", a.codec, err)
	}
	if a.started && packet.Timestamp != a.timestamp {
		if IsRTPTimestampOlder(packet.Timestamp, a.timestamp) {
			// Late packet from an already abandoned frame.
			return nil, nil
		}
		// Never saw the end of the previous frame. Drop it.
		a.buffer = a.buffer[:0]
	}
	a.timestamp = packet.Timestamp
	a.started = true
	a.buffer = append(a.buffer, payload...)
	if !packet.Marker {
		return nil, nil
	}

	data := make([]byte, len(a.buffer))
	copy(data, a.buffer)
	frame := &EncodedFrame{
		Data:        data,
		FrameType:   detectFrameType(a.codec, data),
		PayloadType: packet.PayloadType,
		Timestamp:   packet.Timestamp,
	}
	if a.codec == VideoCodecVP8 && frame.FrameType == FrameTypeKey {
		frame.Width, frame.Height = vp8KeyframeDimensions(data)
	}
	a.Reset()
	return frame, nil
}

// Reset discards any partially assembled frame.
func (a *FrameAssembler) Reset() {
	a.buffer = a.buffer[:0]
	a.started = false
}
