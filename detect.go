package decode

// DetectVideoCodec detects the video codec from raw bitstream data.
// Supports detection of:
//   - H.264/AVC: Annex-B format (ITU-T H.264) and AVCC format (ISO/IEC 14496-15)
//   - VP8: RFC 6386 - VP8 Data Format and Decoding Guide
//   - VP9: VP9 Bitstream & Decoding Process Specification
//   - AV1: AV1 Bitstream & Decoding Process Specification
//   - IVF: WebM Project container format
//
// Returns VideoCodecUnknown if the codec cannot be determined. Only VP8
// keyframes carry a signature, so mid-stream VP8 data may go undetected.
func DetectVideoCodec(data []byte) VideoCodec {
	if len(data) < 4 {
		return VideoCodecUnknown
	}

	// Annex-B start code (H.264/H.265)
	if isAnnexBStartCode(data) {
		if isH264NALType(getNALType(data)) {
			return VideoCodecH264
		}
	}

	// AVCC format (H.264 in container)
	if isAVCCFormat(data) {
		return VideoCodecH264
	}

	// IVF header (VP8/VP9/AV1 file dumps)
	if len(data) >= 32 && string(data[0:4]) == "DKIF" {
		switch string(data[8:12]) {
		case "VP80":
			return VideoCodecVP8
		case "VP90":
			return VideoCodecVP9
		case "AV01":
			return VideoCodecAV1
		}
	}

	if isVP8Keyframe(data) {
		return VideoCodecVP8
	}

	if isVP9Frame(data) {
		return VideoCodecVP9
	}

	if isAV1OBU(data) {
		return VideoCodecAV1
	}

	return VideoCodecUnknown
}

// detectFrameType classifies a frame of a known codec by probing its
// bitstream. Frame assembly and ProcessFrame use it to tag frames that did
// not arrive pre-classified.
func detectFrameType(codec VideoCodec, data []byte) FrameType {
	if len(data) == 0 {
		return FrameTypeUnknown
	}
	switch codec {
	case VideoCodecVP8:
		if isVP8Keyframe(data) {
			return FrameTypeKey
		}
		return FrameTypeDelta
	case VideoCodecVP9:
		if isVP9Keyframe(data) {
			return FrameTypeKey
		}
		return FrameTypeDelta
	case VideoCodecH264:
		if isH264Keyframe(data) {
			return FrameTypeKey
		}
		return FrameTypeDelta
	case VideoCodecAV1:
		if isAV1Keyframe(data) {
			return FrameTypeKey
		}
		return FrameTypeDelta
	default:
		return FrameTypeUnknown
	}
}

// isAnnexBStartCode checks for H.264/H.265 Annex-B start codes.
// Per ITU-T H.264 Annex B, NAL units are prefixed with:
//   - 4-byte start code: 0x00000001 (used at stream start and after certain NALUs)
//   - 3-byte start code: 0x000001 (used between NALUs)
func isAnnexBStartCode(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	if data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1 {
		return true
	}
	if data[0] == 0 && data[1] == 0 && data[2] == 1 {
		return true
	}
	return false
}

// getNALType extracts the NAL unit type from Annex-B data.
// Per ITU-T H.264 Section 7.3.1, the NAL unit header is:
//   - forbidden_zero_bit (1 bit): must be 0
//   - nal_ref_idc (2 bits): reference priority
//   - nal_unit_type (5 bits): type identifier
func getNALType(data []byte) byte {
	if len(data) < 4 {
		return 0
	}
	offset := 3
	if data[2] == 0 {
		offset = 4
	}
	if len(data) <= offset {
		return 0
	}
	return data[offset] & 0x1F
}

// isH264NALType checks if a NAL type is valid H.264.
// Per ITU-T H.264 Table 7-1, valid NAL unit types are:
//   - 1: Non-IDR slice, 2-4: Slice data partitions A/B/C
//   - 5: IDR slice, 6: SEI, 7: SPS, 8: PPS, 9: AUD, 10-11: End of seq/stream, 12: Filler
//   - 19-21: Coded slice extensions
func isH264NALType(nalType byte) bool {
	return (nalType >= 1 && nalType <= 12) || (nalType >= 19 && nalType <= 21)
}

// isAVCCFormat checks for AVCC (length-prefixed) format.
// Per ISO/IEC 14496-15 (MPEG-4 Part 15), AVCC uses a 4-byte big-endian NAL
// unit length prefix instead of start codes. Commonly seen in MP4/MOV
// containers and RTMP streams.
func isAVCCFormat(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	length := int(data[0])<<24 | int(data[1])<<16 | int(data[2])<<8 | int(data[3])
	// The prefix must describe a plausible NAL unit length.
	return length > 0 && length < len(data) && length < 10*1024*1024
}

// isVP8Keyframe checks for the VP8 keyframe signature.
// Per RFC 6386 Section 9.1, the uncompressed data chunk starts with a 3-byte
// frame tag (frame_type in bit 0, 0 = keyframe); keyframes follow it with the
// start code 0x9D 0x01 0x2A and 4 bytes of frame size.
func isVP8Keyframe(data []byte) bool {
	if len(data) < 10 {
		return false
	}
	if data[0]&0x01 != 0 { // Not a keyframe
		return false
	}
	return data[3] == 0x9D && data[4] == 0x01 && data[5] == 0x2A
}

// vp8KeyframeDimensions reads the frame size from a VP8 keyframe header.
// Width and height are 14-bit little endian values at bytes 6-9
// (RFC 6386 Section 9.1).
func vp8KeyframeDimensions(data []byte) (width, height int) {
	if len(data) < 10 {
		return 0, 0
	}
	width = (int(data[7])<<8 | int(data[6])) & 0x3FFF
	height = (int(data[9])<<8 | int(data[8])) & 0x3FFF
	return width, height
}

// isVP9Frame checks for VP9 frame structure.
// Per VP9 Bitstream Specification Section 6.2, the uncompressed header starts
// with frame_marker (2 bits), always 0b10.
func isVP9Frame(data []byte) bool {
	if len(data) < 3 {
		return false
	}
	frameMarker := (data[0] >> 6) & 0x03
	return frameMarker == 0x02
}

// isVP9Keyframe checks if VP9 frame data is a keyframe.
// Per VP9 Bitstream Specification Section 6.2, keyframes have
// show_existing_frame and frame_type both 0 after the frame marker.
func isVP9Keyframe(data []byte) bool {
	if len(data) < 1 {
		return false
	}
	if data[0]>>6 != 0x02 {
		return false
	}
	if (data[0]>>3)&0x01 != 0 { // show_existing_frame
		return false
	}
	return (data[0]>>2)&0x01 == 0 // frame_type 0 = keyframe
}

// isH264Keyframe checks if H.264 Annex-B frame data contains an IDR slice or
// SPS NAL unit.
func isH264Keyframe(data []byte) bool {
	for i := 0; i+4 < len(data); i++ {
		if data[i] != 0x00 || data[i+1] != 0x00 {
			continue
		}
		var naluType byte
		switch {
		case data[i+2] == 0x01:
			naluType = data[i+3] & 0x1F
		case data[i+2] == 0x00 && data[i+3] == 0x01:
			naluType = data[i+4] & 0x1F
		default:
			continue
		}
		if naluType == 5 || naluType == 7 {
			return true
		}
	}
	return false
}

// isAV1OBU checks for AV1 OBU (Open Bitstream Unit) format.
// Per AV1 Bitstream Specification Section 5.3.2, the OBU header is:
//   - obu_forbidden_bit (1 bit): must be 0
//   - obu_type (4 bits): 1=Seq header, 2=Temporal delimiter, 3=Frame header,
//     4=Tile group, 5=Metadata, 6=Frame, 7=Redundant frame header,
//     8=Tile list, 15=Padding
//   - obu_extension_flag, obu_has_size_field, obu_reserved_1bit
func isAV1OBU(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	obuForbidden := (data[0] >> 7) & 0x01
	obuType := (data[0] >> 3) & 0x0F
	if obuForbidden != 0 {
		return false
	}
	return (obuType >= 1 && obuType <= 8) || obuType == 15
}

// isAV1Keyframe checks if an AV1 temporal unit starts a new coded video
// sequence. Per AV1 Bitstream Specification Section 7.5, a coded video
// sequence begins with a sequence header OBU (type 1), which delta frames
// never repeat. Leading OBUs (temporal delimiters, metadata) are skipped by
// their size fields.
func isAV1Keyframe(data []byte) bool {
	offset := 0
	for offset < len(data) {
		header := data[offset]
		if header&0x80 != 0 { // obu_forbidden_bit
			return false
		}
		obuType := (header >> 3) & 0x0F
		if obuType == 1 { // OBU_SEQUENCE_HEADER
			return true
		}
		offset++
		if header&0x04 != 0 { // obu_extension_flag
			offset++
		}
		if header&0x02 == 0 {
			// Without a size field the OBU extends to the end of the unit.
			return false
		}
		size, n := av1LEB128(data[offset:])
		if n == 0 || size > uint64(len(data)) {
			return false
		}
		offset += n + int(size)
	}
	return false
}

// av1LEB128 decodes a little-endian base-128 integer per AV1 Bitstream
// Specification Section 4.10.5. It returns the value and the number of bytes
// consumed, with zero bytes when the encoding does not terminate within the
// 8-byte limit.
func av1LEB128(data []byte) (uint64, int) {
	var value uint64
	for i := 0; i < 8 && i < len(data); i++ {
		value |= uint64(data[i]&0x7F) << (7 * i)
		if data[i]&0x80 == 0 {
			return value, i + 1
		}
	}
	return 0, 0
}
