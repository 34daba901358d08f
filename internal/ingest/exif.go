package ingest

import (
	"os"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
)

// cameraFromEXIF returns "Make Model" from the file's EXIF block, or "" when
// the file has none or cannot be parsed. colmap groups images into shared
// intrinsics by camera, so the value is kept with the upload record.
func cameraFromEXIF(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return ""
	}
	var parts []string
	for _, field := range []exif.FieldName{exif.Make, exif.Model} {
		tag, err := x.Get(field)
		if err != nil {
			continue
		}
		value, err := tag.StringVal()
		if err != nil {
			continue
		}
		value = strings.TrimSpace(strings.TrimRight(value, "\x00"))
		if value != "" {
			parts = append(parts, value)
		}
	}
	camera := strings.Join(parts, " ")
	// Many vendors repeat the make inside the model string.
	if len(parts) == 2 && strings.HasPrefix(strings.ToLower(parts[1]), strings.ToLower(parts[0])) {
		camera = parts[1]
	}
	return camera
}
