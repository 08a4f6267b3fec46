//go:build (darwin || linux) && !noh264

// H.264 decoding via libdecode_h264 using purego. The shim wraps OpenH264.

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
	decodeH264Once    sync.Once
	decodeH264Handle  uintptr
	decodeH264InitErr error
	decodeH264Loaded  bool
)

// libdecode_h264 function pointers
var (
	decodeH264DecoderCreate        func(threads int32) uint64
	decodeH264DecoderDecode        func(decoder uint64, data uintptr, dataLen int32, outY, outU, outV, outYStride, outUVStride, outWidth, outHeight uintptr) int32
	decodeH264DecoderGetDimensions func(decoder uint64, width, height uintptr)
	decodeH264DecoderGetStats      func(decoder uint64, framesDecoded, keyframesDecoded, bytesDecoded, corruptedFrames uintptr)
	decodeH264DecoderReset         func(decoder uint64) int32
	decodeH264DecoderDestroy       func(decoder uint64)

	decodeH264GetError         func() uintptr
	decodeH264DecoderAvailable func() int32
)

// Constants from decode_h264.h
const (
	decodeH264OK = 0
)

// decodeH264Result is a heap-allocated struct for decoder output parameters.
// This struct must be heap-allocated for purego to work correctly on arm64.
// Using local stack variables for output parameters can fail due to GC
// moving the stack during the C call.
type decodeH264Result struct {
	YPtr     uintptr // Pointer to Y plane
	UPtr     uintptr // Pointer to U plane
	VPtr     uintptr // Pointer to V plane
	YStride  int32   // Y plane stride
	UVStride int32   // UV plane stride
	Width    int32   // Frame width
	Height   int32   // Frame height
}

func loadDecodeH264() error {
	decodeH264Once.Do(func() {
		decodeH264InitErr = loadDecodeH264Lib()
		if decodeH264InitErr == nil {
			decodeH264Loaded = true
		}
	})
	return decodeH264InitErr
}

func loadDecodeH264Lib() error {
	paths := getDecodeH264LibPaths()

	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			decodeH264Handle = handle
			if err := loadDecodeH264Symbols(); err != nil {
				purego.Dlclose(handle)
				lastErr = err
				continue
			}
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to load libdecode_h264: %w", lastErr)
	}
	return errors.New("libdecode_h264 not found in any standard location")
}

func getDecodeH264LibPaths() []string {
	var paths []string

	libName := "libdecode_h264.so"
	if runtime.GOOS == "darwin" {
		libName = "libdecode_h264.dylib"
	}

	// Environment variable overrides (highest priority)
	if envPath := os.Getenv("DECODE_H264_LIB_PATH"); envPath != "" {
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
			"libdecode_h264.dylib",
			"/usr/local/lib/libdecode_h264.dylib",
			"/opt/homebrew/lib/libdecode_h264.dylib",
		)
	case "linux":
		paths = append(paths,
			"libdecode_h264.so",
			"/usr/local/lib/libdecode_h264.so",
			"/usr/lib/libdecode_h264.so",
		)
	}

	return paths
}

func loadDecodeH264Symbols() error {
	purego.RegisterLibFunc(&decodeH264DecoderCreate, decodeH264Handle, "decode_h264_decoder_create")
	purego.RegisterLibFunc(&decodeH264DecoderDecode, decodeH264Handle, "decode_h264_decoder_decode")
	purego.RegisterLibFunc(&decodeH264DecoderGetDimensions, decodeH264Handle, "decode_h264_decoder_get_dimensions")
	purego.RegisterLibFunc(&decodeH264DecoderGetStats, decodeH264Handle, "decode_h264_decoder_get_stats")
	purego.RegisterLibFunc(&decodeH264DecoderReset, decodeH264Handle, "decode_h264_decoder_reset")
	purego.RegisterLibFunc(&decodeH264DecoderDestroy, decodeH264Handle, "decode_h264_decoder_destroy")

	purego.RegisterLibFunc(&decodeH264GetError, decodeH264Handle, "decode_h264_get_error")
	purego.RegisterLibFunc(&decodeH264DecoderAvailable, decodeH264Handle, "decode_h264_decoder_available")

	return nil
}

// IsH264Available checks if libdecode_h264 is available.
func IsH264Available() bool {
	if err := loadDecodeH264(); err != nil {
		return false
	}
	return decodeH264Loaded
}

// IsH264DecoderAvailable checks if H.264 decoding is available.
func IsH264DecoderAvailable() bool {
	if !IsH264Available() {
		return false
	}
	return decodeH264DecoderAvailable() != 0
}

func getH264Error() string {
	ptr := decodeH264GetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

// H264Engine implements Engine for H.264 using libdecode_h264 via purego.
// Input must be Annex B with start codes.
type H264Engine struct {
	config CodecConfig

	handle    uint64
	outputBuf *VideoFrameBuffer
	width     int
	height    int

	sink FrameSink

	// Heap-allocated output parameters for purego on arm64
	decodeResult *decodeH264Result

	stats   EngineStats
	statsMu sync.Mutex
	mu      sync.Mutex
}

// NewH264Engine creates an uninitialized H.264 decoder engine.
func NewH264Engine() (*H264Engine, error) {
	if err := loadDecodeH264(); err != nil {
		return nil, fmt.Errorf("H.264 decoder not available: %w", err)
	}

	if decodeH264DecoderAvailable() == 0 {
		return nil, errors.New("H.264 decoder not available (OpenH264 not compiled)")
	}

	return &H264Engine{
		decodeResult: &decodeH264Result{}, // Heap-allocated for purego arm64
	}, nil
}

// Codec returns the codec the engine decodes.
func (e *H264Engine) Codec() VideoCodec {
	return VideoCodecH264
}

// Initialize implements Engine. Initializing an already initialized engine
// replaces the native decoder.
func (e *H264Engine) Initialize(config CodecConfig, numberOfCores int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if config.Codec != VideoCodecH264 {
		return fmt.Errorf("%w: engine decodes %s, got %s", ErrCodecNotSupported, VideoCodecH264, config.Codec)
	}

	threads := int32(numberOfCores)
	if threads <= 0 {
		threads = 4
	}

	if e.handle != 0 {
		decodeH264DecoderDestroy(e.handle)
		e.handle = 0
	}

	handle := decodeH264DecoderCreate(threads)
	if handle == 0 {
		return fmt.Errorf("failed to create H.264 decoder: %s", getH264Error())
	}

	e.handle = handle
	e.config = config
	return nil
}

// Decode implements Engine.
func (e *H264Engine) Decode(frame *EncodedFrame) error {
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

	result := decodeH264DecoderDecode(
		e.handle,
		uintptr(unsafe.Pointer(&frame.Data[0])),
		int32(len(frame.Data)),
		uintptr(unsafe.Pointer(&out.YPtr)),
		uintptr(unsafe.Pointer(&out.UPtr)),
		uintptr(unsafe.Pointer(&out.VPtr)),
		uintptr(unsafe.Pointer(&out.YStride)),
		uintptr(unsafe.Pointer(&out.UVStride)),
		uintptr(unsafe.Pointer(&out.Width)),
		uintptr(unsafe.Pointer(&out.Height)),
	)

	runtime.KeepAlive(frame.Data)
	runtime.KeepAlive(out)

	if result < 0 {
		e.statsMu.Lock()
		e.stats.CorruptedFrames++
		e.statsMu.Unlock()
		return fmt.Errorf("decode failed: %s", getH264Error())
	}

	if result == 0 {
		return nil // Buffering, no frame yet
	}

	w := int(out.Width)
	h := int(out.Height)

	if w <= 0 || h <= 0 || out.YPtr == 0 || out.YStride <= 0 || out.UVStride <= 0 {
		e.statsMu.Lock()
		e.stats.CorruptedFrames++
		e.statsMu.Unlock()
		return fmt.Errorf("invalid decoder output: stride=%d/%d, size=%dx%d",
			out.YStride, out.UVStride, w, h)
	}

	e.width = w
	e.height = h

	if e.outputBuf == nil || e.outputBuf.Width != w || e.outputBuf.Height != h {
		e.outputBuf = NewVideoFrameBuffer(w, h, PixelFormatI420)
	}

	uvW := w / 2
	uvH := h / 2
	for row := 0; row < h; row++ {
		src := unsafe.Slice((*byte)(unsafe.Pointer(out.YPtr+uintptr(row*int(out.YStride)))), w)
		dstStart := row * e.outputBuf.StrideY
		copy(e.outputBuf.Y[dstStart:dstStart+w], src)
	}

	for row := 0; row < uvH; row++ {
		src := unsafe.Slice((*byte)(unsafe.Pointer(out.UPtr+uintptr(row*int(out.UVStride)))), uvW)
		dstStart := row * e.outputBuf.StrideU
		copy(e.outputBuf.U[dstStart:dstStart+uvW], src)
	}

	for row := 0; row < uvH; row++ {
		src := unsafe.Slice((*byte)(unsafe.Pointer(out.VPtr+uintptr(row*int(out.UVStride)))), uvW)
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
func (e *H264Engine) RegisterFrameSink(sink FrameSink) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if sink == nil {
		return ErrNoReceiver
	}
	e.sink = sink
	return nil
}

// PrefersLateDecoding implements Engine.
func (e *H264Engine) PrefersLateDecoding() bool {
	return true
}

// Same implements Engine.
func (e *H264Engine) Same(other Engine) bool {
	o, ok := other.(*H264Engine)
	return ok && o == e
}

// Stats returns decoder statistics.
func (e *H264Engine) Stats() EngineStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

// Reset drops any buffered reference frames.
func (e *H264Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle == 0 {
		return fmt.Errorf("decoder not initialized")
	}

	if decodeH264DecoderReset(e.handle) != decodeH264OK {
		return fmt.Errorf("failed to reset decoder: %s", getH264Error())
	}

	return nil
}

// GetDimensions returns the dimensions of the last decoded frame.
func (e *H264Engine) GetDimensions() (width, height int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle != 0 {
		var w, h int32
		decodeH264DecoderGetDimensions(e.handle, uintptr(unsafe.Pointer(&w)), uintptr(unsafe.Pointer(&h)))
		return int(w), int(h)
	}
	return e.width, e.height
}

// Close implements Engine.
func (e *H264Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle != 0 {
		decodeH264DecoderDestroy(e.handle)
		e.handle = 0
	}

	return nil
}

// Register the H.264 decoder engine (OpenH264, BSD)
func init() {
	if err := loadDecodeH264(); err != nil {
		return
	}

	if decodeH264DecoderAvailable() != 0 {
		setProviderAvailable(ProviderOpenH264)
		registerEngine(VideoCodecH264, ProviderOpenH264, func() (Engine, error) {
			return NewH264Engine()
		})
	}
}
