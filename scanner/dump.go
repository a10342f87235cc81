package scanner

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"scanqr/crop"
	"scanqr/imaging"
)

const rawFrameMagic = "SQRF"

// FileDumper writes each cropped region as a numbered PNG into a directory.
// With raw frames enabled it also stores the full captured frame, zstd
// compressed, so a failed scan can be replayed through the decoder later.
type FileDumper struct {
	dir     string
	cropper *crop.Cropper
	seq     atomic.Uint64

	mu  sync.Mutex
	enc *zstd.Encoder
}

// NewFileDumper creates dir if needed.
func NewFileDumper(dir string, cropper *crop.Cropper) (*FileDumper, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if cropper == nil {
		cropper = crop.NewCropper(nil)
	}
	return &FileDumper{dir: dir, cropper: cropper}, nil
}

// EnableRawFrames makes Dump also write frame-*.raw.zst files.
func (d *FileDumper) EnableRawFrames() error {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.enc = enc
	d.mu.Unlock()
	return nil
}

func (d *FileDumper) Dump(frame *imaging.Frame, r crop.Rect) error {
	n := d.seq.Add(1)
	stamp := time.Now().Format("150405")
	data, err := d.cropper.CropPNG(frame, r)
	if err != nil {
		return err
	}
	if data != nil {
		name := fmt.Sprintf("crop-%s-%05d.png", stamp, n)
		if err := os.WriteFile(filepath.Join(d.dir, name), data, 0o644); err != nil {
			return err
		}
	}

	d.mu.Lock()
	enc := d.enc
	d.mu.Unlock()
	if enc == nil || frame == nil {
		return nil
	}
	name := fmt.Sprintf("frame-%s-%05d.raw.zst", stamp, n)
	return os.WriteFile(filepath.Join(d.dir, name), enc.EncodeAll(encodeRawFrame(frame), nil), 0o644)
}

func encodeRawFrame(f *imaging.Frame) []byte {
	var buf bytes.Buffer
	buf.Grow(len(rawFrameMagic) + 12 + len(f.Data))
	buf.WriteString(rawFrameMagic)
	var hdr [12]byte
	binary.BigEndian.PutUint32(hdr[0:], uint32(f.Width))
	binary.BigEndian.PutUint32(hdr[4:], uint32(f.Height))
	binary.BigEndian.PutUint32(hdr[8:], uint32(f.Format))
	buf.Write(hdr[:])
	buf.Write(f.Data)
	return buf.Bytes()
}

// LoadRawFrame reads a frame written by a FileDumper with raw frames enabled.
func LoadRawFrame(path string) (*imaging.Frame, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", path, err)
	}
	if len(raw) < len(rawFrameMagic)+12 || string(raw[:len(rawFrameMagic)]) != rawFrameMagic {
		return nil, errors.New("not a raw frame dump")
	}
	hdr := raw[len(rawFrameMagic):]
	w, h := binary.BigEndian.Uint32(hdr[0:]), binary.BigEndian.Uint32(hdr[4:])
	if w == 0 || h == 0 || w > imaging.MaxFrameSide || h > imaging.MaxFrameSide {
		return nil, fmt.Errorf("raw frame %dx%d out of range", w, h)
	}
	f := &imaging.Frame{
		Width:  int(w),
		Height: int(h),
		Format: imaging.PixelFormat(binary.BigEndian.Uint32(hdr[8:])),
		Data:   hdr[12:],
	}
	if f.Format == imaging.FormatRGB24 && len(f.Data) != f.Width*f.Height*3 {
		return nil, fmt.Errorf("raw frame %dx%d holds %d bytes, want %d", w, h, len(f.Data), f.Width*f.Height*3)
	}
	return f, nil
}
