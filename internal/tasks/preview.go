package tasks

import (
	"fmt"
	"path/filepath"

	"gopkg.in/gographics/imagick.v3/imagick"

	"pan360/internal/fsutil"
)

// WritePreview produces a downscaled JPEG preview of a mosaic. Mosaics from
// full revolutions run several thousand pixels wide, so dashboards fetch
// these instead of the full output.
func WritePreview(src, dst string, maxWidth uint) error {
	if maxWidth == 0 {
		maxWidth = 1600
	}

	imagick.Initialize()
	defer imagick.Terminate()

	wand := imagick.NewMagickWand()
	defer wand.Destroy()

	if err := wand.ReadImage(src); err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}

	width := wand.GetImageWidth()
	height := wand.GetImageHeight()
	if width > maxWidth {
		scaled := uint(float64(height) * float64(maxWidth) / float64(width))
		if scaled == 0 {
			scaled = 1
		}
		if err := wand.ResizeImage(maxWidth, scaled, imagick.FILTER_LANCZOS); err != nil {
			return fmt.Errorf("resize preview: %w", err)
		}
	}

	if err := wand.SetImageCompressionQuality(85); err != nil {
		return fmt.Errorf("set preview quality: %w", err)
	}

	if err := fsutil.EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	if err := wand.WriteImage(dst); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

// PreviewPath derives the preview filename next to a mosaic output.
func PreviewPath(output string) string {
	ext := filepath.Ext(output)
	return output[:len(output)-len(ext)] + "_preview.jpg"
}
