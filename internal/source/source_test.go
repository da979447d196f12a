package source

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"os"
	"path/filepath"
	"testing"
)

func writeGIF(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewPaletted(image.Rect(0, 0, w, h), color.Palette{color.Black, color.White})
	var buf bytes.Buffer
	if err := gif.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestGIFSourceExpandsDirectories(t *testing.T) {
	dir := t.TempDir()
	writeGIF(t, filepath.Join(dir, "b.gif"), 4, 2)
	writeGIF(t, filepath.Join(dir, "a.GIF"), 3, 5)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644)

	other := t.TempDir()
	writeGIF(t, filepath.Join(other, "a.gif"), 1, 1)

	src, err := NewGIFSource(dir, filepath.Join(other, "a.gif"))
	if err != nil {
		t.Fatalf("NewGIFSource failed: %v", err)
	}
	defer src.Close()

	if src.Count() != 3 {
		t.Fatalf("Expected 3 inputs, got %d", src.Count())
	}
	wantIDs := []string{"a", "b", "a-2"}
	for i, id := range wantIDs {
		if src.ID(i) != id {
			t.Errorf("Input %d: expected ID %q, got %q", i, id, src.ID(i))
		}
	}
	w, h, err := src.Dimensions(0)
	if err != nil || w != 3 || h != 5 {
		t.Errorf("Expected 3x5, got %dx%d (%v)", w, h, err)
	}
}

func TestNaturalGridSize(t *testing.T) {
	dir := t.TempDir()
	writeGIF(t, filepath.Join(dir, "1.gif"), 4, 2)
	writeGIF(t, filepath.Join(dir, "2.gif"), 3, 5)
	writeGIF(t, filepath.Join(dir, "3.gif"), 2, 2)

	src, err := NewGIFSource(dir)
	if err != nil {
		t.Fatal(err)
	}
	size, err := NaturalGridSize(src, 0)
	if err != nil {
		t.Fatalf("NaturalGridSize failed: %v", err)
	}
	// 3 inputs: 2 columns x 2 rows of 4x5 cells
	if size != image.Pt(8, 10) {
		t.Errorf("Expected 8x10, got %v", size)
	}
}

func TestNewGIFSourceWithIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.gif")
	writeGIF(t, path, 2, 2)
	if _, err := NewGIFSourceWithIDs([]string{"a", "b"}, []string{path}); err == nil {
		t.Error("Expected a mismatch error")
	}
	src, err := NewGIFSourceWithIDs([]string{"logo"}, []string{path})
	if err != nil || src.ID(0) != "logo" || src.Name(0) != "x.gif" {
		t.Errorf("Unexpected source %v (%v)", src, err)
	}
}
