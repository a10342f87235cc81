// Package decoder reads QR codes out of cropped camera regions using gozxing.
package decoder

import (
	"errors"
	"fmt"
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// Options mirror the reader switches of the barcode library.
type Options struct {
	TryHarder  bool
	AutoRotate bool
}

// DefaultOptions enables both try-harder and auto-rotate.
func DefaultOptions() Options {
	return Options{TryHarder: true, AutoRotate: true}
}

// QR decodes QR codes. It is safe for sequential use only; the scan loop owns one.
type QR struct {
	opts   Options
	reader gozxing.Reader
	hints  map[gozxing.DecodeHintType]interface{}
}

// NewQR returns a QR decoder configured with opts.
func NewQR(opts Options) *QR {
	hints := map[gozxing.DecodeHintType]interface{}{}
	if opts.TryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}
	return &QR{opts: opts, reader: qrcode.NewQRCodeReader(), hints: hints}
}

// Decode returns the text of the first QR code found in img. ok is false when
// the image holds no readable code; err is reserved for broken input.
func (q *QR) Decode(img image.Image) (text string, ok bool, err error) {
	if img == nil {
		return "", false, nil
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", false, fmt.Errorf("binarize: %w", err)
	}

	attempts := 1
	if q.opts.AutoRotate && bmp.IsRotateSupported() {
		attempts = 4
	}
	for i := 0; i < attempts; i++ {
		if i > 0 {
			bmp, err = bmp.RotateCounterClockwise()
			if err != nil {
				return "", false, fmt.Errorf("rotate: %w", err)
			}
		}
		result, err := q.reader.Decode(bmp, q.hints)
		if err == nil {
			return result.GetText(), true, nil
		}
		if !notFound(err) {
			return "", false, err
		}
		q.reader.Reset()
	}
	return "", false, nil
}

func notFound(err error) bool {
	var (
		nf gozxing.NotFoundException
		cs gozxing.ChecksumException
		fe gozxing.FormatException
	)
	return errors.As(err, &nf) || errors.As(err, &cs) || errors.As(err, &fe)
}
