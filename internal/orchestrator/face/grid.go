package face

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/nfnt/resize"

	"github.com/GriffinCanCode/deepwatch/internal/detect"
)

// Grid lays faces out in GridColumns columns of square cells. It returns nil
// for an empty batch.
func Grid(faces []detect.ScreenshotFace, cell int) image.Image {
	if len(faces) == 0 {
		return nil
	}
	if cell <= 0 {
		cell = DefaultCellSize
	}
	cols := min(GridColumns, len(faces))
	rows := (len(faces) + GridColumns - 1) / GridColumns

	out := image.NewRGBA(image.Rect(0, 0, cols*cell, rows*cell))
	draw.Draw(out, out.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)
	for i, f := range faces {
		src := f.Resized
		if src == nil {
			src = f.Raw
		}
		if src == nil {
			continue
		}
		thumb := resize.Resize(uint(cell), uint(cell), src, resize.Bilinear)
		at := image.Pt((i%GridColumns)*cell, (i/GridColumns)*cell)
		draw.Draw(out, image.Rectangle{Min: at, Max: at.Add(image.Pt(cell, cell))}, thumb, thumb.Bounds().Min, draw.Src)
	}
	return out
}

// Crop cuts box out of frame and scales it to size x size.
func Crop(frame image.Image, box image.Rectangle, size int) (raw, resized image.Image) {
	box = box.Intersect(frame.Bounds())
	if box.Empty() {
		return nil, nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, box.Dx(), box.Dy()))
	draw.Draw(dst, dst.Bounds(), frame, box.Min, draw.Src)
	return dst, resize.Resize(uint(size), uint(size), dst, resize.Bilinear)
}

// Thumbnail scales img so its longer side is size, keeping the aspect ratio.
func Thumbnail(img image.Image, size int) image.Image {
	return resize.Thumbnail(uint(size), uint(size), img, resize.Bilinear)
}
