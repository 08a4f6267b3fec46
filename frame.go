// Core frame types used across the decode package.
package decode

// PixelFormat represents video pixel formats.
type PixelFormat int

const (
	PixelFormatI420 PixelFormat = iota // YUV 4:2:0 planar (Y + U + V)
	PixelFormatNV12                    // YUV 4:2:0 semi-planar (Y + interleaved UV)
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatI420:
		return "I420"
	case PixelFormatNV12:
		return "NV12"
	default:
		return "Unknown"
	}
}

// PlaneCount returns the number of planes for this pixel format.
func (p PixelFormat) PlaneCount() int {
	switch p {
	case PixelFormatI420:
		return 3 // Y, U, V
	case PixelFormatNV12:
		return 2 // Y, UV
	default:
		return 0
	}
}

// VideoFrame represents a decoded raw video frame.
// The Data slices may point to memory owned by the decoder engine.
// Callers must ensure the data remains valid for the lifetime of the frame.
type VideoFrame struct {
	Data      [][]byte    // Plane data
	Stride    []int       // Stride for each plane in bytes
	Width     int         // Frame width in pixels
	Height    int         // Frame height in pixels
	Format    PixelFormat // Pixel format
	Timestamp int64       // Presentation timestamp in nanoseconds
}

// Clone creates a deep copy of the video frame.
// Use this when you need to keep the frame data beyond its original lifetime.
func (f *VideoFrame) Clone() *VideoFrame {
	clone := &VideoFrame{
		Data:      make([][]byte, len(f.Data)),
		Stride:    make([]int, len(f.Stride)),
		Width:     f.Width,
		Height:    f.Height,
		Format:    f.Format,
		Timestamp: f.Timestamp,
	}
	copy(clone.Stride, f.Stride)
	for i, plane := range f.Data {
		if plane != nil {
			clone.Data[i] = make([]byte, len(plane))
			copy(clone.Data[i], plane)
		}
	}
	return clone
}

// VideoFrameCallback is invoked for each decoded video frame.
type VideoFrameCallback func(frame *VideoFrame)

// I420Size returns the total buffer size needed for an I420 frame.
func I420Size(width, height int) int {
	// Y plane: width * height
	// U plane: (width/2) * (height/2)
	// V plane: (width/2) * (height/2)
	ySize := width * height
	uvSize := (width / 2) * (height / 2)
	return ySize + uvSize*2
}

// VideoFrameBuffer is a pre-allocated buffer decoder engines reuse across
// frames to avoid per-frame plane allocations.
type VideoFrameBuffer struct {
	Y []byte // Y plane buffer
	U []byte // U plane buffer (interleaved UV for NV12)
	V []byte // V plane buffer (unused for NV12)

	Width       int
	Height      int
	StrideY     int
	StrideU     int
	StrideV     int
	Format      PixelFormat
	TimestampNs int64
}

// NewVideoFrameBuffer creates a new pre-allocated frame buffer.
func NewVideoFrameBuffer(width, height int, format PixelFormat) *VideoFrameBuffer {
	buf := &VideoFrameBuffer{
		Width:  width,
		Height: height,
		Format: format,
	}

	switch format {
	case PixelFormatI420:
		ySize := width * height
		uvSize := (width / 2) * (height / 2)
		buf.Y = make([]byte, ySize)
		buf.U = make([]byte, uvSize)
		buf.V = make([]byte, uvSize)
		buf.StrideY = width
		buf.StrideU = width / 2
		buf.StrideV = width / 2
	case PixelFormatNV12:
		ySize := width * height
		uvSize := (width / 2) * (height / 2) * 2 // Interleaved UV
		buf.Y = make([]byte, ySize)
		buf.U = make([]byte, uvSize) // UV interleaved in U buffer
		buf.StrideY = width
		buf.StrideU = width
	}

	return buf
}

// ToVideoFrame creates a VideoFrame pointing to this buffer's data.
// The returned frame is only valid while the buffer is not modified.
func (b *VideoFrameBuffer) ToVideoFrame() VideoFrame {
	frame := VideoFrame{
		Width:     b.Width,
		Height:    b.Height,
		Format:    b.Format,
		Timestamp: b.TimestampNs,
	}

	switch b.Format {
	case PixelFormatNV12:
		frame.Data = [][]byte{b.Y, b.U}
		frame.Stride = []int{b.StrideY, b.StrideU}
	default:
		frame.Data = [][]byte{b.Y, b.U, b.V}
		frame.Stride = []int{b.StrideY, b.StrideU, b.StrideV}
	}

	return frame
}

// FrameType indicates whether a frame is a keyframe or delta frame.
type FrameType int

const (
	FrameTypeUnknown FrameType = iota
	FrameTypeKey               // I-frame, can be decoded independently
	FrameTypeDelta             // P/B-frame, requires previous frames
)

func (f FrameType) String() string {
	switch f {
	case FrameTypeKey:
		return "Key"
	case FrameTypeDelta:
		return "Delta"
	default:
		return "Unknown"
	}
}

// EncodedFrame holds one encoded video frame together with the stream
// metadata decoder selection runs on.
type EncodedFrame struct {
	Data        []byte    // Encoded bitstream data
	FrameType   FrameType // Key or delta frame
	PayloadType uint8     // RTP payload type the frame arrived on
	Timestamp   uint32    // RTP timestamp (90kHz clock)

	// Encoded resolution as reported by the bitstream, or 0 when unknown.
	Width  int
	Height int
}

// IsKeyframe returns true if this is a keyframe.
func (f *EncodedFrame) IsKeyframe() bool {
	return f.FrameType == FrameTypeKey
}

// Clone creates a deep copy of the encoded frame.
func (f *EncodedFrame) Clone() *EncodedFrame {
	clone := &EncodedFrame{
		FrameType:   f.FrameType,
		PayloadType: f.PayloadType,
		Timestamp:   f.Timestamp,
		Width:       f.Width,
		Height:      f.Height,
	}
	if f.Data != nil {
		clone.Data = make([]byte, len(f.Data))
		copy(clone.Data, f.Data)
	}
	return clone
}
