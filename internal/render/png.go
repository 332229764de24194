package render

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	colorBackground = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	colorBox        = color.RGBA{R: 0xe8, G: 0xf0, B: 0xfe, A: 0xff}
	colorStroke     = color.RGBA{R: 0x23, G: 0x2f, B: 0x3e, A: 0xff}
	colorEdge       = color.RGBA{R: 0x54, G: 0x6e, B: 0x7a, A: 0xff}
)

func writePNG(g *Graph, path string) error {
	l := computeLayout(g)
	img := image.NewRGBA(image.Rect(0, 0, l.width, l.height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: colorBackground}, image.Point{}, draw.Src)

	drawText(img, margin, margin+14, g.Name, colorStroke)

	for _, e := range g.Edges {
		if e.From == e.To {
			continue
		}
		x1, y1, x2, y2 := l.anchors(e, g.Direction)
		drawLine(img, x1, y1, x2, y2, colorEdge)
		drawArrowHead(img, x2, y2, g.Direction, colorEdge)
	}

	for _, b := range l.boxes {
		r := image.Rect(b.x, b.y, b.x+boxWidth, b.y+boxHeight)
		draw.Draw(img, r, &image.Uniform{C: colorBox}, image.Point{}, draw.Src)
		drawRect(img, r, colorStroke)
		if b.node.Kind != "" {
			drawText(img, b.x+6, b.y+16, fit(b.node.Kind), colorEdge)
		}
		drawText(img, b.x+6, b.y+boxHeight-12, fit(nodeText(b.node)), colorStroke)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// fit truncates s to the number of 7px glyphs that fit in a box.
func fit(s string) string {
	const maxRunes = (boxWidth - 12) / 7
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes-1]) + "~"
}

func drawText(img draw.Image, x, y int, s string, c color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func drawRect(img draw.Image, r image.Rectangle, c color.Color) {
	for x := r.Min.X; x < r.Max.X; x++ {
		img.Set(x, r.Min.Y, c)
		img.Set(x, r.Max.Y-1, c)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.Set(r.Min.X, y, c)
		img.Set(r.Max.X-1, y, c)
	}
}

// drawLine rasterizes a segment with Bresenham's algorithm.
func drawLine(img draw.Image, x1, y1, x2, y2 int, c color.Color) {
	dx, dy := abs(x2-x1), -abs(y2-y1)
	sx, sy := 1, 1
	if x1 > x2 {
		sx = -1
	}
	if y1 > y2 {
		sy = -1
	}
	e := dx + dy
	for {
		img.Set(x1, y1, c)
		if x1 == x2 && y1 == y2 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x1 += sx
		}
		if e2 <= dx {
			e += dx
			y1 += sy
		}
	}
}

func drawArrowHead(img draw.Image, x, y int, direction string, c color.Color) {
	const size = 6
	if direction == DirectionTB {
		drawLine(img, x, y, x-size, y-size, c)
		drawLine(img, x, y, x+size, y-size, c)
		return
	}
	drawLine(img, x, y, x-size, y-size, c)
	drawLine(img, x, y, x-size, y+size, c)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
