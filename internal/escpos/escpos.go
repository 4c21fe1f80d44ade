package escpos

import (
	"bytes"

	"receipt-print/internal/imaging"
)

const (
	ESC = 0x1B
	GS  = 0x1D
	NUL = 0x00
)

// FeedLines is the number of lines fed after the last band
const FeedLines = 3

// Command builds ESC/POS byte sequences
type Command struct {
	buf bytes.Buffer
}

func New() *Command {
	return &Command{}
}

// Init resets the printer to its power-on state
func (c *Command) Init() *Command {
	c.buf.Write([]byte{ESC, '@'})
	return c
}

// AlignLeft sets left justification
func (c *Command) AlignLeft() *Command {
	c.buf.Write([]byte{ESC, 'a', 0x00})
	return c
}

// DefaultLineSpacing selects the firmware default line spacing
func (c *Command) DefaultLineSpacing() *Command {
	c.buf.Write([]byte{ESC, '2'})
	return c
}

// Raster adds a GS v 0 raster image in normal mode
// widthBytes: width in bytes (pixels / 8)
// height: height in dots
// data: packed 1-bit rows, MSB first
func (c *Command) Raster(widthBytes, height int, data []byte) *Command {
	c.buf.Write([]byte{
		GS, 'v', '0', 0x00,
		byte(widthBytes), byte(widthBytes >> 8),
		byte(height), byte(height >> 8),
	})
	c.buf.Write(data)
	return c
}

// Band adds a raster command for one band
func (c *Command) Band(b imaging.Band) *Command {
	return c.Raster(b.WidthBytes, b.Height, b.Data)
}

// Feed prints the buffer and feeds n lines
func (c *Command) Feed(n int) *Command {
	if n < 0 {
		n = 0
	}
	if n > 255 {
		n = 255
	}
	c.buf.Write([]byte{ESC, 'd', byte(n)})
	return c
}

// Bytes returns the raw command bytes to send to printer
func (c *Command) Bytes() []byte {
	return bytes.Clone(c.buf.Bytes())
}

// Heartbeat is the single byte written to check a link is alive. Printers ignore NUL.
func Heartbeat() []byte {
	return []byte{NUL}
}

// BuildPrintJob returns the ordered segments of a receipt job. Each segment
// is chunked independently by the transport: init, setup, one per band,
// feed, then a trailing init that stops firmware from replaying the job.
func BuildPrintJob(bands []imaging.Band) [][]byte {
	job := make([][]byte, 0, len(bands)+4)
	job = append(job,
		New().Init().Bytes(),
		New().AlignLeft().DefaultLineSpacing().Bytes(),
	)
	for _, b := range bands {
		job = append(job, New().Band(b).Bytes())
	}
	job = append(job,
		New().Feed(FeedLines).Bytes(),
		New().Init().Bytes(),
	)
	return job
}
