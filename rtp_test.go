package decode

import (
	"bytes"
	"errors"
	"testing"
)

// vp8KeyframeHeader is a 640x480 VP8 keyframe header (RFC 6386 section 9.1).
var vp8KeyframeHeader = []byte{0x10, 0x00, 0x00, 0x9d, 0x01, 0x2a, 0x80, 0x02, 0xe0, 0x01}

// vp8DeltaHeader has the P bit set.
var vp8DeltaHeader = []byte{0x11, 0x00, 0x00, 0xaa, 0xbb, 0xcc}

func vp8Packet(seq uint16, timestamp uint32, marker bool, start bool, frameData []byte) *RTPPacket {
	descriptor := byte(0x00)
	if start {
		descriptor = 0x10 // S bit
	}
	return &RTPPacket{
		Header: RTPHeader{
			Version:        2,
			Marker:         marker,
			PayloadType:    96,
			SequenceNumber: seq,
			Timestamp:      timestamp,
		},
		Payload: append([]byte{descriptor}, frameData...),
	}
}

// av1KeyframePayload is a single-packet temporal unit: aggregation header
// with W=2 and N=1 (new coded video sequence), a length-prefixed sequence
// header OBU, and a frame OBU running to the end of the packet.
var av1KeyframePayload = []byte{0x28, 0x04, 0x08, 0x20, 0x00, 0x00, 0x30, 0x01, 0x02, 0x03}

// av1DeltaPayload carries a single frame OBU (W=1, N=0).
var av1DeltaPayload = []byte{0x10, 0x30, 0x04, 0x05, 0x06}

func av1Packet(seq uint16, timestamp uint32, marker bool, payload []byte) *RTPPacket {
	return &RTPPacket{
		Header: RTPHeader{
			Version:        2,
			Marker:         marker,
			PayloadType:    35,
			SequenceNumber: seq,
			Timestamp:      timestamp,
		},
		Payload: payload,
	}
}

func TestIsRTPTimestampOlder(t *testing.T) {
	tests := []struct {
		name     string
		ts1, ts2 uint32
		want     bool
	}{
		{"equal", 3000, 3000, true},
		{"older", 3000, 6000, true},
		{"newer", 6000, 3000, false},
		{"wraparound older", 0xFFFFF000, 0x00001000, true},
		{"wraparound newer", 0x00001000, 0xFFFFF000, false},
	}

	for _, tc := range tests {
		if got := IsRTPTimestampOlder(tc.ts1, tc.ts2); got != tc.want {
			t.Errorf("%s: IsRTPTimestampOlder(%d, %d) = %v, want %v",
				tc.name, tc.ts1, tc.ts2, got, tc.want)
		}
	}
}

func TestNewFrameAssembler(t *testing.T) {
	for _, codec := range []VideoCodec{VideoCodecVP8, VideoCodecVP9, VideoCodecH264, VideoCodecAV1} {
		assembler, err := NewFrameAssembler(codec)
		if err != nil {
			t.Errorf("NewFrameAssembler(%s) failed: %v", codec, err)
			continue
		}
		if assembler.Codec() != codec {
			t.Errorf("Codec() = %v, want %v", assembler.Codec(), codec)
		}
	}

	for _, codec := range []VideoCodec{VideoCodecH265, VideoCodecUnknown} {
		if _, err := NewFrameAssembler(codec); !errors.Is(err, ErrCodecNotSupported) {
			t.Errorf("NewFrameAssembler(%s) = %v, want ErrCodecNotSupported", codec, err)
		}
	}
}

func TestFrameAssemblerSinglePacket(t *testing.T) {
	assembler, err := NewFrameAssembler(VideoCodecVP8)
	if err != nil {
		t.Fatalf("NewFrameAssembler failed: %v", err)
	}

	frame, err := assembler.Push(vp8Packet(1, 3000, true, true, vp8KeyframeHeader))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if frame == nil {
		t.Fatal("marker packet did not close a frame")
	}
	if !bytes.Equal(frame.Data, vp8KeyframeHeader) {
		t.Errorf("frame data = %x, want %x", frame.Data, vp8KeyframeHeader)
	}
	if frame.FrameType != FrameTypeKey {
		t.Errorf("FrameType = %v, want key", frame.FrameType)
	}
	if frame.PayloadType != 96 {
		t.Errorf("PayloadType = %d, want 96", frame.PayloadType)
	}
	if frame.Timestamp != 3000 {
		t.Errorf("Timestamp = %d, want 3000", frame.Timestamp)
	}
	if frame.Width != 640 || frame.Height != 480 {
		t.Errorf("dimensions = %dx%d, want 640x480", frame.Width, frame.Height)
	}
}

func TestFrameAssemblerMultiPacket(t *testing.T) {
	assembler, _ := NewFrameAssembler(VideoCodecVP8)

	first := vp8KeyframeHeader[:5]
	second := vp8KeyframeHeader[5:]

	frame, err := assembler.Push(vp8Packet(1, 3000, false, true, first))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if frame != nil {
		t.Fatal("frame closed before the marker packet")
	}

	frame, err = assembler.Push(vp8Packet(2, 3000, true, false, second))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if frame == nil {
		t.Fatal("marker packet did not close the frame")
	}
	if !bytes.Equal(frame.Data, vp8KeyframeHeader) {
		t.Errorf("frame data = %x, want %x", frame.Data, vp8KeyframeHeader)
	}
}

func TestFrameAssemblerTimestampFlush(t *testing.T) {
	assembler, _ := NewFrameAssembler(VideoCodecVP8)

	// Incomplete frame at ts 3000; a newer timestamp abandons it.
	if _, err := assembler.Push(vp8Packet(1, 3000, false, true, vp8DeltaHeader)); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	frame, err := assembler.Push(vp8Packet(2, 6000, true, true, vp8KeyframeHeader))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if frame == nil {
		t.Fatal("marker packet did not close the frame")
	}
	if !bytes.Equal(frame.Data, vp8KeyframeHeader) {
		t.Errorf("frame data = %x, want only the newer frame %x", frame.Data, vp8KeyframeHeader)
	}
}

func TestFrameAssemblerLatePacket(t *testing.T) {
	assembler, _ := NewFrameAssembler(VideoCodecVP8)

	first := vp8KeyframeHeader[:5]
	second := vp8KeyframeHeader[5:]

	if _, err := assembler.Push(vp8Packet(2, 6000, false, true, first)); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	// A straggler from an older frame is dropped without disturbing the
	// frame in progress.
	frame, err := assembler.Push(vp8Packet(1, 3000, true, true, vp8DeltaHeader))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if frame != nil {
		t.Fatal("late packet closed a frame")
	}

	frame, err = assembler.Push(vp8Packet(3, 6000, true, false, second))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if frame == nil {
		t.Fatal("marker packet did not close the frame")
	}
	if !bytes.Equal(frame.Data, vp8KeyframeHeader) {
		t.Errorf("frame data = %x, want %x", frame.Data, vp8KeyframeHeader)
	}
}

func TestFrameAssemblerReset(t *testing.T) {
	assembler, _ := NewFrameAssembler(VideoCodecVP8)

	if _, err := assembler.Push(vp8Packet(1, 3000, false, true, vp8DeltaHeader)); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	assembler.Reset()

	frame, err := assembler.Push(vp8Packet(2, 3000, true, true, vp8KeyframeHeader))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if frame == nil {
		t.Fatal("marker packet did not close the frame")
	}
	if !bytes.Equal(frame.Data, vp8KeyframeHeader) {
		t.Errorf("frame data = %x, want %x", frame.Data, vp8KeyframeHeader)
	}
}

func TestFrameAssemblerDeltaFrame(t *testing.T) {
	assembler, _ := NewFrameAssembler(VideoCodecVP8)

	frame, err := assembler.Push(vp8Packet(1, 3000, true, true, vp8DeltaHeader))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if frame.FrameType != FrameTypeDelta {
		t.Errorf("FrameType = %v, want delta", frame.FrameType)
	}
	if frame.Width != 0 || frame.Height != 0 {
		t.Errorf("dimensions = %dx%d, want 0x0 for delta frames", frame.Width, frame.Height)
	}
}

func TestFrameAssemblerH264(t *testing.T) {
	assembler, err := NewFrameAssembler(VideoCodecH264)
	if err != nil {
		t.Fatalf("NewFrameAssembler failed: %v", err)
	}

	sps := []byte{0x67, 0x42, 0x00, 0x1e, 0x88}
	packet := &RTPPacket{
		Header: RTPHeader{
			Version:        2,
			Marker:         true,
			PayloadType:    102,
			SequenceNumber: 1,
			Timestamp:      3000,
		},
		Payload: sps,
	}

	frame, err := assembler.Push(packet)
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if frame == nil {
		t.Fatal("marker packet did not close a frame")
	}

	// The depacketizer emits Annex B.
	want := append([]byte{0x00, 0x00, 0x00, 0x01}, sps...)
	if !bytes.Equal(frame.Data, want) {
		t.Errorf("frame data = %x, want %x", frame.Data, want)
	}
	if frame.FrameType != FrameTypeKey {
		t.Errorf("FrameType = %v, want key (SPS)", frame.FrameType)
	}
}

func TestFrameAssemblerAV1(t *testing.T) {
	assembler, err := NewFrameAssembler(VideoCodecAV1)
	if err != nil {
		t.Fatalf("NewFrameAssembler failed: %v", err)
	}

	frame, err := assembler.Push(av1Packet(1, 3000, true, av1KeyframePayload))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if frame == nil {
		t.Fatal("marker packet did not close a frame")
	}
	if len(frame.Data) == 0 {
		t.Fatal("frame data is empty")
	}
	if frame.FrameType != FrameTypeKey {
		t.Errorf("FrameType = %v, want key (sequence header present)", frame.FrameType)
	}
	if frame.PayloadType != 35 {
		t.Errorf("PayloadType = %d, want 35", frame.PayloadType)
	}

	frame, err = assembler.Push(av1Packet(2, 6000, true, av1DeltaPayload))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if frame == nil {
		t.Fatal("marker packet did not close a frame")
	}
	if frame.FrameType != FrameTypeDelta {
		t.Errorf("FrameType = %v, want delta", frame.FrameType)
	}
}

