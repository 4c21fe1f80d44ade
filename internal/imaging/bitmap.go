package imaging

import (
	"image"
	"image/color"
)

// Bitmap is a packed 1-bit image, MSB first, each row padded to a byte
type Bitmap struct {
	Width      int
	Height     int
	WidthBytes int
	Data       []byte
}

// Band is a horizontal strip of a Bitmap small enough for one raster command
type Band struct {
	WidthBytes int
	Height     int
	Data       []byte
}

// Binarize converts an image to a packed bitmap. Pixels with luminance
// below threshold are ink, fully transparent pixels never are.
func Binarize(img image.Image, threshold uint8) *Bitmap {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	widthBytes := (width + 7) / 8
	data := make([]byte, widthBytes*height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := img.At(bounds.Min.X+x, bounds.Min.Y+y)
			if !isInk(c, threshold) {
				continue
			}
			byteIdx := y*widthBytes + x/8
			bitIdx := 7 - (x % 8)
			data[byteIdx] |= 1 << bitIdx
		}
	}

	return &Bitmap{Width: width, Height: height, WidthBytes: widthBytes, Data: data}
}

func isInk(c color.Color, threshold uint8) bool {
	if _, _, _, a := c.RGBA(); a == 0 {
		return false
	}
	return rgbToGray(c) < threshold
}

// rgbToGray converts a color to grayscale value
func rgbToGray(c color.Color) uint8 {
	r, g, b, _ := c.RGBA()
	// values are 16-bit so divide by 256
	gray := (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 256
	return uint8(gray)
}

// Bands splits bm into strips of at most maxRows rows
func Bands(bm *Bitmap, maxRows int) []Band {
	if bm == nil || bm.Height == 0 {
		return nil
	}
	if maxRows <= 0 || maxRows > MaxBandRows {
		maxRows = MaxBandRows
	}

	bands := make([]Band, 0, (bm.Height+maxRows-1)/maxRows)
	for top := 0; top < bm.Height; top += maxRows {
		rows := min(maxRows, bm.Height-top)
		data := make([]byte, rows*bm.WidthBytes)
		copy(data, bm.Data[top*bm.WidthBytes:(top+rows)*bm.WidthBytes])
		bands = append(bands, Band{WidthBytes: bm.WidthBytes, Height: rows, Data: data})
	}
	return bands
}

// Join stacks bands back into a single bitmap
func Join(bands []Band) *Bitmap {
	bm := &Bitmap{}
	for _, b := range bands {
		if bm.WidthBytes == 0 {
			bm.WidthBytes = b.WidthBytes
			bm.Width = b.WidthBytes * 8
		}
		bm.Height += b.Height
		bm.Data = append(bm.Data, b.Data...)
	}
	return bm
}

// Preview creates a viewable image from bands
func Preview(bands []Band) image.Image {
	bm := Join(bands)
	img := image.NewGray(image.Rect(0, 0, bm.Width, bm.Height))

	for y := 0; y < bm.Height; y++ {
		for x := 0; x < bm.Width; x++ {
			byteIdx := y*bm.WidthBytes + x/8
			bitIdx := 7 - (x % 8)
			if (bm.Data[byteIdx]>>bitIdx)&1 == 1 {
				img.SetGray(x, y, color.Gray{0})
			} else {
				img.SetGray(x, y, color.Gray{255})
			}
		}
	}

	return img
}
