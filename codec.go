package decode

// VideoCodec identifies the video codec type.
type VideoCodec int

const (
	VideoCodecUnknown VideoCodec = iota
	VideoCodecVP8
	VideoCodecVP9
	VideoCodecH264
	VideoCodecH265
	VideoCodecAV1
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecVP8:
		return "VP8"
	case VideoCodecVP9:
		return "VP9"
	case VideoCodecH264:
		return "H264"
	case VideoCodecH265:
		return "H265"
	case VideoCodecAV1:
		return "AV1"
	default:
		return "Unknown"
	}
}

// MimeType returns the MIME type for this codec.
func (c VideoCodec) MimeType() string {
	switch c {
	case VideoCodecVP8:
		return "video/VP8"
	case VideoCodecVP9:
		return "video/VP9"
	case VideoCodecH264:
		return "video/H264"
	case VideoCodecH265:
		return "video/H265"
	case VideoCodecAV1:
		return "video/AV1"
	default:
		return ""
	}
}

// ClockRate returns the RTP clock rate for this codec.
func (c VideoCodec) ClockRate() uint32 {
	// All video codecs use 90kHz clock
	return 90000
}

// DefaultPayloadType returns a typical payload type for this codec.
// Note: Actual payload type is negotiated via SDP.
func (c VideoCodec) DefaultPayloadType() uint8 {
	switch c {
	case VideoCodecVP8:
		return 96
	case VideoCodecVP9:
		return 98
	case VideoCodecH264:
		return 102
	case VideoCodecH265:
		return 104
	case VideoCodecAV1:
		return 35
	default:
		return 96
	}
}

// WildcardPayloadType is the reserved payload type value meaning
// "unspecified". Database.GetDecoder treats a frame carrying this value as a
// match for whatever decoder is currently cached, and a cleared cache slot
// stores it as its key. The value doubles as a theoretically valid wire
// payload type, so a real stream negotiated onto payload type 0 cannot be
// distinguished from the wildcard.
const WildcardPayloadType uint8 = 0

// CodecConfig describes a receive codec: the payload type a stream was
// negotiated onto and the codec carried on it. Width and Height may be zero
// when the resolution is not yet known; they are updated from the first
// decodable frame (see Database.GetDecoder).
type CodecConfig struct {
	Codec       VideoCodec // Codec type (VP8, VP9, H264, ...)
	PayloadType uint8      // Negotiated RTP payload type

	Width  int // Frame width in pixels (0 = unknown)
	Height int // Frame height in pixels (0 = unknown)
}

// DefaultCodecConfig returns a receive codec configuration for codec using
// its default payload type. The resolution is left unknown and is filled in
// from the stream once frames arrive.
func DefaultCodecConfig(codec VideoCodec) CodecConfig {
	return CodecConfig{
		Codec:       codec,
		PayloadType: codec.DefaultPayloadType(),
	}
}
