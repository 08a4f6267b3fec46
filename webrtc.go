package decode

import (
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// Re-export pion/webrtc codec parameter types for convenience
type (
	// RTPCodecParameters is an alias to pion's webrtc.RTPCodecParameters
	RTPCodecParameters = webrtc.RTPCodecParameters

	// RTPCodecCapability is an alias to pion's webrtc.RTPCodecCapability
	RTPCodecCapability = webrtc.RTPCodecCapability
)

// VideoCodecFromMimeType maps an RTP codec MIME type to a VideoCodec.
// Unrecognized MIME types map to VideoCodecUnknown.
func VideoCodecFromMimeType(mimeType string) VideoCodec {
	switch {
	case strings.EqualFold(mimeType, webrtc.MimeTypeVP8):
		return VideoCodecVP8
	case strings.EqualFold(mimeType, webrtc.MimeTypeVP9):
		return VideoCodecVP9
	case strings.EqualFold(mimeType, webrtc.MimeTypeH264):
		return VideoCodecH264
	case strings.EqualFold(mimeType, webrtc.MimeTypeH265):
		return VideoCodecH265
	case strings.EqualFold(mimeType, webrtc.MimeTypeAV1):
		return VideoCodecAV1
	default:
		return VideoCodecUnknown
	}
}

// ConfigFromCodecParameters builds a receive codec config from negotiated
// RTP codec parameters. Resolution is left unset; it is learned from the
// first keyframe.
func ConfigFromCodecParameters(params RTPCodecParameters) (CodecConfig, error) {
	codec := VideoCodecFromMimeType(params.MimeType)
	if codec == VideoCodecUnknown {
		return CodecConfig{}, fmt.Errorf("%w: %s", ErrCodecNotSupported, params.MimeType)
	}
	return CodecConfig{
		Codec:       codec,
		PayloadType: uint8(params.PayloadType),
	}, nil
}

// RegisterCodecParameters registers a receive codec from negotiated RTP
// codec parameters. It is a convenience wrapper around RegisterReceiveCodec.
func (d *Database) RegisterCodecParameters(params RTPCodecParameters, numberOfCores int, requireKeyFrame bool) error {
	config, err := ConfigFromCodecParameters(params)
	if err != nil {
		return err
	}
	return d.RegisterReceiveCodec(config, numberOfCores, requireKeyFrame)
}
