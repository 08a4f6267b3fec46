//go:build (darwin || linux) && !noav1

// AV1 decoding via libdecode_av1 using purego. The shim wraps dav1d.

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
	decodeAV1Once    sync.Once
	decodeAV1Handle  uintptr
	decodeAV1InitErr error
	decodeAV1Loaded  bool
)

// libdecode_av1 function pointers
var (
	decodeAV1DecoderCreate        func(threads int32) uint64
	decodeAV1DecoderDecode        func(decoder uint64, data uintptr, dataLen int32, outY, outU, outV, outYStride, outUVStride, outWidth, outHeight uintptr) int32
	decodeAV1DecoderGetDimensions func(decoder uint64, width, height uintptr)
	decodeAV1DecoderGetStats      func(decoder uint64, framesDecoded, keyframesDecoded, bytesDecoded, corruptedFrames uintptr)
	decodeAV1DecoderReset         func(decoder uint64) int32
	decodeAV1DecoderDestroy       func(decoder uint64)

	decodeAV1GetError         func() uintptr
	decodeAV1DecoderAvailable func() int32
)

// Constants from decode_av1.h
const (
	decodeAV1OK = 0
)

// decodeAV1Result is a heap-allocated struct for decoder output parameters.
// This struct must be heap-allocated for purego to work correctly on arm64.
type decodeAV1Result struct {
	YPtr     uintptr // Pointer to Y plane
	UPtr     uintptr // Pointer to U plane
	VPtr     uintptr // Pointer to V plane
	YStride  int32   // Y plane stride
	UVStride int32   // UV plane stride
	Width    int32   // Frame width
	Height   int32   // Frame height
}

func loadDecodeAV1() error {
	decodeAV1Once.Do(func() {
		decodeAV1InitErr = loadDecodeAV1Lib()
		if decodeAV1InitErr == nil {
			decodeAV1Loaded = true
		}
	})
	return decodeAV1InitErr
}

func loadDecodeAV1Lib() error {
	paths := getDecodeAV1LibPaths()

	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			decodeAV1Handle = handle
			if err := loadDecodeAV1Symbols(); err != nil {
				purego.Dlclose(handle)
				lastErr = err
				continue
			}
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to load libdecode_av1: %w", lastErr)
	}
	return errors.New("libdecode_av1 not found in any standard location")
}

func getDecodeAV1LibPaths() []string {
	var paths []string

	libName := "libdecode_av1.so"
	if runtime.GOOS == "darwin" {
		libName = "libdecode_av1.dylib"
	}

	// Environment variable overrides (highest priority)
	if envPath := os.Getenv("DECODE_AV1_LIB_PATH"); envPath != "" {
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
			"libdecode_av1.dylib",
			"/usr/local/lib/libdecode_av1.dylib",
			"/opt/homebrew/lib/libdecode_av1.dylib",
		)
	case "linux":
		paths = append(paths,
			"libdecode_av1.so",
			"/usr/local/lib/libdecode_av1.so",
			"/usr/lib/libdecode_av1.so",
		)
	}

	return paths
}

func loadDecodeAV1Symbols() error {
	purego.RegisterLibFunc(&decodeAV1DecoderCreate, decodeAV1Handle, "decode_av1_decoder_create")
	purego.RegisterLibFunc(&decodeAV1DecoderDecode, decodeAV1Handle, "decode_av1_decoder_decode")
	purego.RegisterLibFunc(&decodeAV1DecoderGetDimensions, decodeAV1Handle, "decode_av1_decoder_get_dimensions")
	purego.RegisterLibFunc(&decodeAV1DecoderGetStats, decodeAV1Handle, "decode_av1_decoder_get_stats")
	purego.RegisterLibFunc(&decodeAV1DecoderReset, decodeAV1Handle, "decode_av1_decoder_reset")
	purego.RegisterLibFunc(&decodeAV1DecoderDestroy, decodeAV1Handle, "decode_av1_decoder_destroy")

	purego.RegisterLibFunc(&decodeAV1GetError, decodeAV1Handle, "decode_av1_get_error")
	purego.RegisterLibFunc(&decodeAV1DecoderAvailable, decodeAV1Handle, "decode_av1_decoder_available")

	return nil
}

// IsAV1Available checks if libdecode_av1 is available.
func IsAV1Available() bool {
	if err := loadDecodeAV1(); err != nil {
		return false
	}
	return decodeAV1Loaded
}

// IsAV1DecoderAvailable checks if AV1 decoding is available.
func IsAV1DecoderAvailable() bool {
	if !IsAV1Available() {
		return false
	}
	return decodeAV1DecoderAvailable() != 0
}

func getAV1Error() string {
	ptr := decodeAV1GetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

// AV1Engine implements Engine for AV1 using libdecode_av1 via purego.
type AV1Engine struct {
	config CodecConfig

	handle    uint64
	outputBuf *VideoFrameBuffer
	width     int
	height    int

	sink FrameSink

	// Heap-allocated output parameters for purego on arm64
	decodeResult *decodeAV1Result

	stats   EngineStats
	statsMu sync.Mutex
	mu      sync.Mutex
}

// NewAV1Engine creates an uninitialized AV1 decoder engine.
func NewAV1Engine() (*AV1Engine, error) {
	if err := loadDecodeAV1(); err != nil {
		return nil, fmt.Errorf("AV1 decoder not available: %w", err)
	}

	if decodeAV1DecoderAvailable() == 0 {
		return nil, errors.New("AV1 decoder not available (dav1d not compiled)")
	}

	return &AV1Engine{
		decodeResult: &decodeAV1Result{}, // Heap-allocated for purego arm64
	}, nil
}

// Codec returns the codec the engine decodes.
func (e *AV1Engine) Codec() VideoCodec {
	return VideoCodecAV1
}

// Initialize implements Engine. Initializing an already initialized engine
// replaces the native decoder.
func (e *AV1Engine) Initialize(config CodecConfig, numberOfCores int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if config.Codec != VideoCodecAV1 {
		return fmt.Errorf("%w: engine decodes %s, got %s", ErrCodecNotSupported, VideoCodecAV1, config.Codec)
	}

	threads := int32(numberOfCores)
	if threads <= 0 {
		threads = 4
	}

	if e.handle != 0 {
		decodeAV1DecoderDestroy(e.handle)
		e.handle = 0
	}

	handle := decodeAV1DecoderCreate(threads)
	if handle == 0 {
		return fmt.Errorf("failed to create AV1 decoder: %s", getAV1Error())
	}

	e.handle = handle
	e.config = config
	return nil
}

// Decode implements Engine.
func (e *AV1Engine) Decode(frame *EncodedFrame) error {
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

	result := decodeAV1DecoderDecode(
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
		return fmt.Errorf("decode failed: %s", getAV1Error())
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
func (e *AV1Engine) RegisterFrameSink(sink FrameSink) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if sink == nil {
		return ErrNoReceiver
	}
	e.sink = sink
	return nil
}

// PrefersLateDecoding implements Engine.
func (e *AV1Engine) PrefersLateDecoding() bool {
	return true
}

// Same implements Engine.
func (e *AV1Engine) Same(other Engine) bool {
	o, ok := other.(*AV1Engine)
	return ok && o == e
}

// Stats returns decoder statistics.
func (e *AV1Engine) Stats() EngineStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

// Reset drops any buffered reference frames.
func (e *AV1Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle == 0 {
		return fmt.Errorf("decoder not initialized")
	}

	if decodeAV1DecoderReset(e.handle) != decodeAV1OK {
		return fmt.Errorf("failed to reset decoder: %s", getAV1Error())
	}

	return nil
}

// GetDimensions returns the dimensions of the last decoded frame.
func (e *AV1Engine) GetDimensions() (width, height int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle != 0 {
		var w, h int32
		decodeAV1DecoderGetDimensions(e.handle, uintptr(unsafe.Pointer(&w)), uintptr(unsafe.Pointer(&h)))
		return int(w), int(h)
	}
	return e.width, e.height
}

// Close implements Engine.
func (e *AV1Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle != 0 {
		decodeAV1DecoderDestroy(e.handle)
		e.handle = 0
	}

	return nil
}

// Register the AV1 decoder engine (dav1d, BSD)
func init() {
	if err := loadDecodeAV1(); err != nil {
		return
	}

	if decodeAV1DecoderAvailable() != 0 {
		setProviderAvailable(ProviderDAV1D)
		registerEngine(VideoCodecAV1, ProviderDAV1D, func() (Engine, error) {
			return NewAV1Engine()
		})
	}
}
