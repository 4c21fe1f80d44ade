package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"unicode"

	"github.com/go-text/typesetting/font"
	"golang.org/x/image/font/gofont/goregular"
)

var ErrNoFont = errors.New("no usable font loaded")

// Parsed fonts are shared process wide. Faces are created per render
// because they cache glyph extents and are not safe for concurrent use.
var (
	latinOnce sync.Once
	latinFont *font.Font
	latinErr  error

	scriptOnce sync.Once
	scriptFont *font.Font
)

func baseFont() (*font.Font, error) {
	latinOnce.Do(func() {
		face, err := font.ParseTTF(bytes.NewReader(goregular.TTF))
		if err != nil {
			latinErr = fmt.Errorf("parsing built-in font: %w", err)
			return
		}
		latinFont = face.Font
	})
	return latinFont, latinErr
}

// RegisterScriptFont loads the supplementary font used for Gujarati text.
// Only the first call has any effect; later calls return whether a font is
// active. An empty or unreadable path leaves Latin-only rendering in place.
func RegisterScriptFont(path string, logger *slog.Logger) bool {
	if logger == nil {
		logger = slog.Default()
	}
	scriptOnce.Do(func() {
		if path == "" {
			logger.Info("no script font configured, Gujarati text will not be shaped")
			return
		}
		f, err := loadFont(path)
		if err != nil {
			logger.Warn("loading script font", "path", path, "error", err)
			return
		}
		scriptFont = f
		logger.Info("script font registered", "path", path)
	})
	return scriptFont != nil
}

func loadFont(path string) (*font.Font, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	face, err := font.ParseTTF(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return face.Font, nil
}

// faceSet holds per-render faces
type faceSet struct {
	latin  *font.Face
	script *font.Face
}

func newFaceSet() (*faceSet, error) {
	return facesWith(scriptFont)
}

// facesWith pairs the built-in Latin font with script, which may be nil
func facesWith(script *font.Font) (*faceSet, error) {
	base, err := baseFont()
	if err != nil {
		return nil, err
	}
	if base == nil {
		return nil, ErrNoFont
	}
	fs := &faceSet{latin: font.NewFace(base)}
	if script != nil {
		fs.script = font.NewFace(script)
	}
	return fs, nil
}

// ResolveFace routes Gujarati runes, and anything the Latin font has no
// glyph for, to the script face when one is registered
func (fs *faceSet) ResolveFace(r rune) *font.Face {
	if fs.script == nil {
		return fs.latin
	}
	if unicode.Is(unicode.Gujarati, r) {
		return fs.script
	}
	if _, ok := fs.latin.NominalGlyph(r); !ok {
		if _, ok := fs.script.NominalGlyph(r); ok {
			return fs.script
		}
	}
	return fs.latin
}
