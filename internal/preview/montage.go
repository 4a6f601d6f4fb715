// Package preview renders a converted series as a PNG montage.
package preview

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"strconv"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/Onset-lab/nii2dcm/internal/dicom"
	"github.com/Onset-lab/nii2dcm/internal/pixel"
)

// Options controls the montage layout.
type Options struct {
	TileSize int  // edge of each square tile in pixels, default 128
	Columns  int  // tiles per row, default ceil(sqrt(n))
	Labels   bool // draw the instance number on each tile
}

type tile struct {
	instance int
	slice    pixel.Slice
	slope    float64
	icept    float64
	center   float64
	width    float64
}

// Collector is a dicom.RecordWriter that keeps every slice for rendering.
type Collector struct {
	mu    sync.Mutex
	tiles []tile
}

// NewCollector returns an empty collector.
func NewCollector() *Collector { return &Collector{} }

// WriteRecord keeps the pixels and display window of rec.
func (c *Collector) WriteRecord(rec *dicom.Record) error {
	f := rec.Fields
	t := tile{
		instance: rec.InstanceNumber,
		slice:    rec.Pixels,
		slope:    parseFloat(f.First("RescaleSlope"), 1),
		icept:    parseFloat(f.First("RescaleIntercept"), 0),
		center:   parseFloat(f.First("WindowCenter"), math.NaN()),
		width:    parseFloat(f.First("WindowWidth"), math.NaN()),
	}
	c.mu.Lock()
	c.tiles = append(c.tiles, t)
	c.mu.Unlock()
	return nil
}

// Abort drops everything collected.
func (c *Collector) Abort() error {
	c.mu.Lock()
	c.tiles = nil
	c.mu.Unlock()
	return nil
}

// Len returns the number of collected slices.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tiles)
}

func parseFloat(s string, fallback float64) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fallback
	}
	return v
}

// Render draws every collected slice into a grid.
func (c *Collector) Render(opts Options) (*image.RGBA, error) {
	c.mu.Lock()
	tiles := append([]tile(nil), c.tiles...)
	c.mu.Unlock()
	if len(tiles) == 0 {
		return nil, errors.New("no slices to preview")
	}

	size := opts.TileSize
	if size <= 0 {
		size = 128
	}
	cols := opts.Columns
	if cols <= 0 {
		cols = int(math.Ceil(math.Sqrt(float64(len(tiles)))))
	}
	rows := (len(tiles) + cols - 1) / cols

	montage := image.NewRGBA(image.Rect(0, 0, cols*size, rows*size))
	draw.Draw(montage, montage.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	for n, t := range tiles {
		origin := image.Pt((n%cols)*size, (n/cols)*size)
		src := t.gray()
		dst := fitRect(src.Bounds().Dx(), src.Bounds().Dy(), size).Add(origin)
		draw.CatmullRom.Scale(montage, dst, src, src.Bounds(), draw.Src, nil)
		if opts.Labels {
			drawLabel(montage, origin, strconv.Itoa(t.instance))
		}
	}
	return montage, nil
}

// gray maps the stored samples through the rescale and display window.
func (t tile) gray() *image.Gray {
	s := t.slice
	img := image.NewGray(image.Rect(0, 0, s.Columns, s.Rows))

	center, width := t.center, t.width
	if math.IsNaN(center) || math.IsNaN(width) || width <= 0 {
		lo := float64(s.Min)*t.slope + t.icept
		hi := float64(s.Max)*t.slope + t.icept
		center, width = (lo+hi)/2, math.Max(math.Abs(hi-lo), 1)
	}
	low := center - width/2

	for r := 0; r < s.Rows; r++ {
		for c := 0; c < s.Columns; c++ {
			v := float64(s.Value(r, c))*t.slope + t.icept
			g := (v - low) / width * 255
			img.SetGray(c, r, color.Gray{Y: uint8(math.Max(0, math.Min(255, math.Round(g))))})
		}
	}
	return img
}

// fitRect returns the largest rectangle with the aspect of w×h centered in
// a size×size tile.
func fitRect(w, h, size int) image.Rectangle {
	scale := float64(size) / float64(max(w, h))
	sw := max(1, int(math.Round(float64(w)*scale)))
	sh := max(1, int(math.Round(float64(h)*scale)))
	x := (size - sw) / 2
	y := (size - sh) / 2
	return image.Rect(x, y, x+sw, y+sh)
}

// drawLabel writes text in the top-left corner of a tile, white with a
// black outline.
func drawLabel(dst draw.Image, origin image.Point, text string) {
	face := basicfont.Face7x13
	base := fixed.P(origin.X+3, origin.Y+13)

	outline := &font.Drawer{Dst: dst, Src: image.NewUniform(color.Black), Face: face}
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			if dx == 0 && dy == 0 {
				continue
			}
			outline.Dot = base.Add(fixed.P(dx, dy))
			outline.DrawString(text)
		}
	}
	fg := &font.Drawer{Dst: dst, Src: image.NewUniform(color.White), Face: face, Dot: base}
	fg.DrawString(text)
}

// WritePNG renders the montage and encodes it to w.
func (c *Collector) WritePNG(w io.Writer, opts Options) error {
	img, err := c.Render(opts)
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}

// SaveFile writes the montage to path.
func (c *Collector) SaveFile(path string, opts Options) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create preview: %w", err)
	}
	if err := c.WritePNG(f, opts); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
