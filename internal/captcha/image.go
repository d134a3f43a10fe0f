package captcha

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"math/rand/v2"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	ImageWidth  = 100
	ImageHeight = 30

	noiseLines = 12
)

var palette = []color.RGBA{
	{0x00, 0x00, 0x00, 0xff},
	{0x00, 0x00, 0xff, 0xff},
	{0xff, 0x00, 0x00, 0xff},
	{0x00, 0x66, 0x00, 0xff},
	{0xff, 0x00, 0xff, 0xff},
	{0x40, 0x40, 0x40, 0xff},
}

// Render は白背景に色付きの文字と妨害線を描いた JPEG を返します。
func Render(code string, width, height int) ([]byte, error) {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	glyphW, glyphH := face.Advance, face.Height
	// 7x13 のグリフを文字高さに合わせて拡大する
	scale := max(1, (height-4)/glyphH)
	slot := width / max(1, len(code))

	for i, r := range code {
		glyph := image.NewRGBA(image.Rect(0, 0, glyphW, glyphH))
		d := &font.Drawer{
			Dst:  glyph,
			Src:  image.NewUniform(palette[rand.IntN(len(palette))]),
			Face: face,
			Dot:  fixed.P(0, face.Ascent),
		}
		d.DrawString(string(r))

		x := i*slot + rand.IntN(max(1, slot-glyphW*scale+1))
		y := rand.IntN(max(1, height-glyphH*scale+1))
		target := image.Rect(x, y, x+glyphW*scale, y+glyphH*scale)
		xdraw.NearestNeighbor.Scale(dst, target, glyph, glyph.Bounds(), xdraw.Over, nil)
	}

	for i := 0; i < noiseLines; i++ {
		x0, y0 := rand.IntN(width), rand.IntN(height)
		line(dst, x0, y0, x0+rand.IntN(30), y0+rand.IntN(30), palette[rand.IntN(len(palette))])
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DataURL は JPEG を data URL 形式にします。
func DataURL(jpegBytes []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegBytes)
}

// line はブレゼンハムのアルゴリズムで直線を描きます。範囲外は無視されます。
func line(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		img.SetRGBA(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
