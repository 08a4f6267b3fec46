// Package decode maps RTP payload types to video decoders and keeps a single
// decoder initialized for the payload type currently arriving, backed by
// native decoder wrappers (libdecode_*).
//
// Key pieces include:
//   - Database: receive codec and external decoder registries with a
//     single-slot decoder cache keyed by payload type
//   - Decoder engines for VP8/VP9, H.264 and AV1
//   - FrameAssembler for RTP depacketization into encoded frames
//   - Receiver, a packet-to-frame session loop on top of the Database
//
// # Architecture
//
//	Decode: RTPPacket -> FrameAssembler -> Database.GetDecoder -> Engine -> VideoFrame callback
//
// The Database rebuilds its cached decoder whenever the incoming payload
// type changes. External engines registered for a payload type take
// precedence over built-in providers and are never closed by the Database.
//
// # Native Libraries
//
// Bindings load libdecode_* libraries via purego (CGO_ENABLED=0). Set
// DECODE_SDK_LIB_PATH to the directory containing these libraries.
//
// # Build Tags
//
// Optional tags disable features:
//   - novpx, noh264, noav1: disable specific codecs
//
// # Supported Codecs
//
// VP8/VP9 (libvpx), H.264 (OpenH264), AV1 (dav1d).
// Availability depends on which native libraries are present at runtime.
package decode
