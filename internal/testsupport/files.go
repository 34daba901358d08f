package testsupport

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, bytes.Repeat([]byte{0x42}, int(size)), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func sortedNames(entries map[string][]byte) []string {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ZipBytes builds an in-memory zip archive. Names ending in "/" become
// directory entries.
func ZipBytes(t testing.TB, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range sortedNames(entries) {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write(entries[name]); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// TarGzBytes builds an in-memory gzip-compressed tar archive.
func TarGzBytes(t testing.TB, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, name := range sortedNames(entries) {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(entries[name])), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header %s: %v", name, err)
		}
		if _, err := tw.Write(entries[name]); err != nil {
			t.Fatalf("tar write %s: %v", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

// JPEGWithCamera returns a minimal JPEG byte stream whose APP1 segment holds
// an EXIF IFD with the given Make and Model strings.
func JPEGWithCamera(cameraMake, model string) []byte {
	type entry struct {
		tag   uint16
		value []byte
	}
	entries := []entry{
		{0x010F, append([]byte(cameraMake), 0)},
		{0x0110, append([]byte(model), 0)},
	}

	le := binary.LittleEndian
	var tiff bytes.Buffer
	tiff.WriteString("II")
	_ = binary.Write(&tiff, le, uint16(42))
	_ = binary.Write(&tiff, le, uint32(8))

	ifdSize := 2 + 12*len(entries) + 4
	dataOffset := uint32(8 + ifdSize)
	var data bytes.Buffer
	_ = binary.Write(&tiff, le, uint16(len(entries)))
	for _, e := range entries {
		_ = binary.Write(&tiff, le, e.tag)
		_ = binary.Write(&tiff, le, uint16(2))
		_ = binary.Write(&tiff, le, uint32(len(e.value)))
		if len(e.value) <= 4 {
			inline := make([]byte, 4)
			copy(inline, e.value)
			tiff.Write(inline)
			continue
		}
		_ = binary.Write(&tiff, le, dataOffset+uint32(data.Len()))
		data.Write(e.value)
	}
	_ = binary.Write(&tiff, le, uint32(0))
	tiff.Write(data.Bytes())

	var out bytes.Buffer
	out.Write([]byte{0xFF, 0xD8, 0xFF, 0xE1})
	_ = binary.Write(&out, binary.BigEndian, uint16(2+6+tiff.Len()))
	out.WriteString("Exif\x00\x00")
	out.Write(tiff.Bytes())
	out.Write([]byte{0xFF, 0xD9})
	return out.Bytes()
}
