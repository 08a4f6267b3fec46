//go:build (darwin || linux) && !novpx

// VP8/VP9 decoding via libdecode_vpx using purego.
//
// This implementation uses purego to load libdecode_vpx dynamically at
// runtime, a thin wrapper around libvpx with a simple primitive-only API.
//
// Library locations checked (in order):
//   - DECODE_VPX_LIB_PATH environment variable
//   - DECODE_SDK_LIB_PATH environment variable (shared with the other shims)
//   - Executable and working directory build paths
//   - System library paths

package decode

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

var (
	decodeVPXOnce    sync.Once
	decodeVPXHandle  uintptr
	decodeVPXInitErr error
	decodeVPXLoaded  bool
)

// libdecode_vpx function pointers
var (
	decodeVPXDecoderCreate        func(codec, threads int32) uint64
	decodeVPXDecoderDecode        func(decoder uint64, data uintptr, dataLen int32, resultOut uintptr) int32
	decodeVPXDecoderGetDimensions func(decoder uint64, width, height uintptr)
	decodeVPXDecoderGetStats      func(decoder uint64, framesDecoded, keyframesDecoded, bytesDecoded, corruptedFrames uintptr)
	decodeVPXDecoderReset         func(decoder uint64) int32
	decodeVPXDecoderDestroy       func(decoder uint64)

	decodeVPXGetError       func() uintptr
	decodeVPXCodecAvailable func(codec int32) int32
)

// decodeVPXResult matches decode_vpx_result_t in C.
// This struct must be heap-allocated for purego to work correctly on arm64.
type decodeVPXResult struct {
	YPtr     uint64 // Pointer to Y plane
	UPtr     uint64 // Pointer to U plane
	VPtr     uint64 // Pointer to V plane
	YStride  int32  // Y plane stride
	UVStride int32  // UV plane stride
	Width    int32  // Frame width
	Height   int32  // Frame height
	Result   int32  // 1=decoded, 0=buffering, <0=error
	Reserved int32  // Padding for alignment
}

// Constants from decode_vpx.h
const (
	decodeVPXCodecVP8 = 0
	decodeVPXCodecVP9 = 1

	decodeVPXOK = 0
)

// loadDecodeVPX loads the libdecode_vpx shared library.
func loadDecodeVPX() error {
	decodeVPXOnce.Do(func() {
		decodeVPXInitErr = loadDecodeVPXLib()
		if decodeVPXInitErr == nil {
			decodeVPXLoaded = true
		}
	})
	return decodeVPXInitErr
}

func loadDecodeVPXLib() error {
	paths := getDecodeVPXLibPaths()

	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			decodeVPXHandle = handle
			if err := loadDecodeVPXSymbols(); err != nil {
				purego.Dlclose(handle)
				lastErr = err
				continue
			}
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to load libdecode_vpx: %w", lastErr)
	}
	return errors.New("libdecode_vpx not found in any standard location")
}

func getDecodeVPXLibPaths() []string {
	var paths []string

	libName := "libdecode_vpx.so"
	if runtime.GOOS == "darwin" {
		libName = "libdecode_vpx.dylib"
	}

	// Environment variable overrides (highest priority)
	if envPath := os.Getenv("DECODE_VPX_LIB_PATH"); envPath != "" {
		paths = append(paths, envPath)
	}
	if envPath := os.Getenv("DECODE_SDK_LIB_PATH"); envPath != "" {
		paths = append(paths, filepath.Join(envPath, libName))
	}

	// Search relative to executable location
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, libName),
			filepath.Join(exeDir, "..", "lib", libName),
			filepath.Join(exeDir, "..", "..", "build", libName),
			filepath.Join(exeDir, "..", "..", "build", "ffi", libName),
		)
	}

	// Search relative to working directory (with parent traversal)
	if wd, err := os.Getwd(); err == nil {
		paths = append(paths,
			filepath.Join(wd, "build", libName),
			filepath.Join(wd, "build", "ffi", libName),
			filepath.Join(wd, "..", "build", libName),
			filepath.Join(wd, "..", "build", "ffi", libName),
			filepath.Join(wd, "..", "..", "build", libName),
			filepath.Join(wd, "..", "..", "build", "ffi", libName),
		)
	}

	// Search relative to module root (find go.mod from cwd)
	if moduleRoot := findModuleRoot(); moduleRoot != "" {
		paths = append(paths,
			filepath.Join(moduleRoot, "build", libName),
			filepath.Join(moduleRoot, "build", "ffi", libName),
		)
	}

	// System paths (lowest priority)
	switch runtime.GOOS {
	case "darwin":
		paths = append(paths,
			"libdecode_vpx.dylib",
			"/usr/local/lib/libdecode_vpx.dylib",
			"/opt/homebrew/lib/libdecode_vpx.dylib",
		)
	case "linux":
		paths = append(paths,
			"libdecode_vpx.so",
			"/usr/local/lib/libdecode_vpx.so",
			"/usr/lib/libdecode_vpx.so",
		)
	}

	return paths
}

func loadDecodeVPXSymbols() error {
	purego.RegisterLibFunc(&decodeVPXDecoderCreate, decodeVPXHandle, "decode_vpx_decoder_create")
	purego.RegisterLibFunc(&decodeVPXDecoderDecode, decodeVPXHandle, "decode_vpx_decoder_decode")
	purego.RegisterLibFunc(&decodeVPXDecoderGetDimensions, decodeVPXHandle, "decode_vpx_decoder_get_dimensions")
	purego.RegisterLibFunc(&decodeVPXDecoderGetStats, decodeVPXHandle, "decode_vpx_decoder_get_stats")
	purego.RegisterLibFunc(&decodeVPXDecoderReset, decodeVPXHandle, "decode_vpx_decoder_reset")
	purego.RegisterLibFunc(&decodeVPXDecoderDestroy, decodeVPXHandle, "decode_vpx_decoder_destroy")

	purego.RegisterLibFunc(&decodeVPXGetError, decodeVPXHandle, "decode_vpx_get_error")
	purego.RegisterLibFunc(&decodeVPXCodecAvailable, decodeVPXHandle, "decode_vpx_codec_available")

	return nil
}

// IsVPXAvailable checks if libdecode_vpx is available.
func IsVPXAvailable() bool {
	if err := loadDecodeVPX(); err != nil {
		return false
	}
	return decodeVPXLoaded
}

// IsVP8Available checks if VP8 decoding is available.
func IsVP8Available() bool {
	if !IsVPXAvailable() {
		return false
	}
	return decodeVPXCodecAvailable(decodeVPXCodecVP8) != 0
}

// IsVP9Available checks if VP9 decoding is available.
func IsVP9Available() bool {
	if !IsVPXAvailable() {
		return false
	}
	return decodeVPXCodecAvailable(decodeVPXCodecVP9) != 0
}

func getVPXError() string {
	ptr := decodeVPXGetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

// VPXEngine implements Engine for VP8 and VP9 using libdecode_vpx via
// purego. The native decoder is created by Initialize, so a fresh engine
// holds no native resources.
type VPXEngine struct {
	codec  VideoCodec
	config CodecConfig

	handle    uint64
	outputBuf *VideoFrameBuffer
	width     int
	height    int

	sink FrameSink

	// Persistent output struct for purego workaround on arm64.
	// The struct layout must match decode_vpx_result_t in C exactly.
	decodeResult *decodeVPXResult

	stats   EngineStats
	statsMu sync.Mutex
	mu      sync.Mutex
}

// NewVP8Engine creates an uninitialized VP8 decoder engine.
func NewVP8Engine() (*VPXEngine, error) {
	return newVPXEngine(VideoCodecVP8)
}

// NewVP9Engine creates an uninitialized VP9 decoder engine.
func NewVP9Engine() (*VPXEngine, error) {
	return newVPXEngine(VideoCodecVP9)
}

func newVPXEngine(codec VideoCodec) (*VPXEngine, error) {
	if err := loadDecodeVPX(); err != nil {
		return nil, fmt.Errorf("%s decoder not available: %w", codec, err)
	}

	switch codec {
	case VideoCodecVP8, VideoCodecVP9:
	default:
		return nil, fmt.Errorf("%w: %s", ErrCodecNotSupported, codec)
	}

	return &VPXEngine{
		codec:        codec,
		decodeResult: &decodeVPXResult{}, // Heap-allocated for purego on arm64
	}, nil
}

// Codec returns the codec the engine decodes.
func (e *VPXEngine) Codec() VideoCodec {
	return e.codec
}

// Initialize implements Engine. Initializing an already initialized engine
// replaces the native decoder.
func (e *VPXEngine) Initialize(config CodecConfig, numberOfCores int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if config.Codec != e.codec {
		return fmt.Errorf("%w: engine decodes %s, got %s", ErrCodecNotSupported, e.codec, config.Codec)
	}

	codecType := int32(decodeVPXCodecVP8)
	if e.codec == VideoCodecVP9 {
		codecType = decodeVPXCodecVP9
	}

	threads := int32(numberOfCores)
	if threads <= 0 {
		threads = 4
	}

	if e.handle != 0 {
		decodeVPXDecoderDestroy(e.handle)
		e.handle = 0
	}

	handle := decodeVPXDecoderCreate(codecType, threads)
	if handle == 0 {
		return fmt.Errorf("failed to create %s decoder: %s", e.codec, getVPXError())
	}

	e.handle = handle
	e.config = config
	return nil
}

// Decode implements Engine. Decoded frames are delivered to the registered
// sink; the decoder may buffer and deliver nothing for a given input.
func (e *VPXEngine) Decode(frame *EncodedFrame) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle == 0 {
		return fmt.Errorf("decoder not initialized")
	}
	if e.sink == nil {
		return ErrNoReceiver
	}
	if len(frame.Data) == 0 {
		return fmt.Errorf("empty encoded data")
	}

	out := e.decodeResult

	result := decodeVPXDecoderDecode(
		e.handle,
		uintptr(unsafe.Pointer(&frame.Data[0])),
		int32(len(frame.Data)),
		uintptr(unsafe.Pointer(out)),
	)

	runtime.KeepAlive(frame.Data)
	// Keep the struct alive during and after the C call
	runtime.KeepAlive(out)

	if result < 0 {
		e.statsMu.Lock()
		e.stats.CorruptedFrames++
		e.statsMu.Unlock()
		return fmt.Errorf("decode failed: %s", getVPXError())
	}

	if result == 0 {
		return nil // Buffering, no frame yet
	}

	w := int(out.Width)
	h := int(out.Height)

	// Validate dimensions and strides
	if w <= 0 || h <= 0 || out.YPtr == 0 || out.YStride <= 0 || out.UVStride <= 0 {
		e.statsMu.Lock()
		e.stats.CorruptedFrames++
		e.statsMu.Unlock()
		return fmt.Errorf("invalid decoder output: stride=%d/%d, size=%dx%d",
			out.YStride, out.UVStride, w, h)
	}

	e.width = w
	e.height = h

	// Allocate or reuse output buffer
	if e.outputBuf == nil || e.outputBuf.Width != w || e.outputBuf.Height != h {
		e.outputBuf = NewVideoFrameBuffer(w, h, PixelFormatI420)
	}

	uvW := w / 2
	uvH := h / 2
	for row := 0; row < h; row++ {
		src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(out.YPtr)+uintptr(row*int(out.YStride)))), w)
		dstStart := row * e.outputBuf.StrideY
		copy(e.outputBuf.Y[dstStart:dstStart+w], src)
	}

	for row := 0; row < uvH; row++ {
		src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(out.UPtr)+uintptr(row*int(out.UVStride)))), uvW)
		dstStart := row * e.outputBuf.StrideU
		copy(e.outputBuf.U[dstStart:dstStart+uvW], src)
	}

	for row := 0; row < uvH; row++ {
		src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(out.VPtr)+uintptr(row*int(out.UVStride)))), uvW)
		dstStart := row * e.outputBuf.StrideV
		copy(e.outputBuf.V[dstStart:dstStart+uvW], src)
	}

	e.outputBuf.TimestampNs = int64(frame.Timestamp) * 1000000 / 90

	e.statsMu.Lock()
	e.stats.FramesDecoded++
	e.stats.BytesDecoded += uint64(len(frame.Data))
	if frame.FrameType == FrameTypeKey {
		e.stats.KeyframesDecoded++
	}
	e.statsMu.Unlock()

	decoded := e.outputBuf.ToVideoFrame()
	return e.sink.OnFrame(&decoded)
}

// RegisterFrameSink implements Engine.
func (e *VPXEngine) RegisterFrameSink(sink FrameSink) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if sink == nil {
		return ErrNoReceiver
	}
	e.sink = sink
	return nil
}

// PrefersLateDecoding implements Engine. libvpx decodes complete frames, so
// input should be handed over as late as possible.
func (e *VPXEngine) PrefersLateDecoding() bool {
	return true
}

// Same implements Engine.
func (e *VPXEngine) Same(other Engine) bool {
	o, ok := other.(*VPXEngine)
	return ok && o == e
}

// Stats returns decoder statistics.
func (e *VPXEngine) Stats() EngineStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

// Reset drops any buffered reference frames.
func (e *VPXEngine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle == 0 {
		return fmt.Errorf("decoder not initialized")
	}

	if decodeVPXDecoderReset(e.handle) != decodeVPXOK {
		return fmt.Errorf("failed to reset decoder: %s", getVPXError())
	}

	return nil
}

// GetDimensions returns the dimensions of the last decoded frame.
func (e *VPXEngine) GetDimensions() (width, height int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle != 0 {
		var w, h int32
		decodeVPXDecoderGetDimensions(e.handle, uintptr(unsafe.Pointer(&w)), uintptr(unsafe.Pointer(&h)))
		return int(w), int(h)
	}
	return e.width, e.height
}

// Close implements Engine.
func (e *VPXEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle != 0 {
		decodeVPXDecoderDestroy(e.handle)
		e.handle = 0
	}

	return nil
}

// Register VP8/VP9 decoder engines (libvpx)
func init() {
	if err := loadDecodeVPX(); err != nil {
		return
	}

	if decodeVPXCodecAvailable(decodeVPXCodecVP8) != 0 {
		setProviderAvailable(ProviderLibvpx)
		registerEngine(VideoCodecVP8, ProviderLibvpx, func() (Engine, error) {
			return NewVP8Engine()
		})
	}

	if decodeVPXCodecAvailable(decodeVPXCodecVP9) != 0 {
		setProviderAvailable(ProviderLibvpx)
		registerEngine(VideoCodecVP9, ProviderLibvpx, func() (Engine, error) {
			return NewVP9Engine()
		})
	}
}
