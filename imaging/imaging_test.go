package imaging

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/draw"
)

func solidRGB24(w, h int, r, g, b byte) []byte {
	data := make([]byte, w*h*3)
	for i := 0; i < len(data); i += 3 {
		data[i], data[i+1], data[i+2] = r, g, b
	}
	return data
}

func TestFromRGB24(t *testing.T) {
	img, err := FromRGB24(2, 2, solidRGB24(2, 2, 10, 20, 30))
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 10, G: 20, B: 30, A: 0xff}, img.RGBAAt(1, 1))

	_, err = FromRGB24(4, 4, make([]byte, 10))
	assert.ErrorIs(t, err, ErrBadFrame)
}

func TestDecodeRejectsHugeDimensions(t *testing.T) {
	std := NewStd()
	for _, f := range []*Frame{
		{Width: 1 << 31, Height: 1 << 31, Format: FormatRGB24, Data: make([]byte, 3)},
		{Width: MaxFrameSide + 1, Height: 1, Format: FormatRGB24, Data: make([]byte, 3*(MaxFrameSide+1))},
	} {
		assert.NotPanics(t, func() {
			_, err := std.Decode(f)
			assert.ErrorIs(t, err, ErrBadFrame)
		})
	}
}

func TestDecode(t *testing.T) {
	codec := NewStd()

	t.Run("nil frame", func(t *testing.T) {
		_, err := codec.Decode(nil)
		assert.ErrorIs(t, err, ErrNoFrame)
	})

	t.Run("rgb24", func(t *testing.T) {
		d, err := codec.Decode(&Frame{Width: 8, Height: 4, Format: FormatRGB24, Data: solidRGB24(8, 4, 1, 2, 3)})
		require.NoError(t, err)
		assert.Equal(t, 8, d.Width)
		assert.Equal(t, 4, d.Height)
	})

	t.Run("png round trip", func(t *testing.T) {
		src := image.NewRGBA(image.Rect(0, 0, 5, 3))
		encoded, err := codec.EncodePNG(src)
		require.NoError(t, err)

		d, err := codec.Decode(&Frame{Format: FormatPNG, Data: encoded})
		require.NoError(t, err)
		assert.Equal(t, 5, d.Width)
		assert.Equal(t, 3, d.Height)
		assert.Equal(t, FormatPNG, d.Format)
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := codec.Decode(&Frame{Width: 1, Height: 1, Data: []byte{0}})
		assert.ErrorIs(t, err, ErrUnsupported)
	})
}

func TestResample(t *testing.T) {
	src, err := FromRGB24(10, 10, solidRGB24(10, 10, 200, 100, 50))
	require.NoError(t, err)

	tests := []struct {
		name    string
		bounds  image.Rectangle
		w, h    int
		wantErr error
	}{
		{name: "copy", bounds: image.Rect(2, 2, 6, 6), w: 4, h: 4},
		{name: "scale", bounds: image.Rect(0, 0, 10, 10), w: 3, h: 3},
		{name: "outside", bounds: image.Rect(8, 8, 12, 12), w: 4, h: 4, wantErr: ErrBadBounds},
		{name: "empty", bounds: image.Rect(0, 0, 0, 0), w: 1, h: 1, wantErr: ErrBadBounds},
		{name: "bad size", bounds: image.Rect(0, 0, 2, 2), w: 0, h: 2, wantErr: ErrBadOutSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewStd().Resample(src, tt.bounds, tt.w, tt.h)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.w, out.Bounds().Dx())
			assert.Equal(t, tt.h, out.Bounds().Dy())
			assert.Equal(t, uint8(200), out.RGBAAt(0, 0).R)
		})
	}
}

func TestResampleNearestNeighbor(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	src.SetRGBA(3, 3, color.RGBA{R: 255, A: 255})
	codec := &Std{Interpolator: draw.NearestNeighbor}

	out, err := codec.Resample(src, image.Rect(2, 2, 4, 4), 4, 4)
	require.NoError(t, err)
	assert.Equal(t, uint8(255), out.RGBAAt(3, 3).R)
	assert.Equal(t, uint8(0), out.RGBAAt(0, 0).R)
}
