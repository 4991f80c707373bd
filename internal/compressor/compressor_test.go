package compressor

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/image/bmp"

	"photo-squeeze/internal/backup"
	"photo-squeeze/internal/extractor"
	"photo-squeeze/internal/logger"
)

// Helper functions

func noiseImage(w, h int, seed int64) *image.NRGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	rng.Read(img.Pix)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return img
}

func gradientImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 255 / max(1, w-1)), G: uint8(y * 255 / max(1, h-1)), B: 90, A: 255})
		}
	}
	return img
}

func writePNG(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode PNG: %v", err)
	}
	return writeBytes(t, dir, name, buf.Bytes())
}

func writeJPEG(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("Failed to encode JPEG: %v", err)
	}
	return writeBytes(t, dir, name, buf.Bytes())
}

func writeBytes(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
	return path
}

// jpegWithOrientation splices a minimal EXIF block holding only the
// Orientation tag into a freshly encoded JPEG.
func jpegWithOrientation(t *testing.T, img image.Image, o extractor.Orientation) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("Failed to encode JPEG: %v", err)
	}

	var tiff bytes.Buffer
	tiff.WriteString("MM")
	binary.Write(&tiff, binary.BigEndian, uint16(0x2A))
	binary.Write(&tiff, binary.BigEndian, uint32(8))
	binary.Write(&tiff, binary.BigEndian, uint16(1))
	binary.Write(&tiff, binary.BigEndian, uint16(0x0112))
	binary.Write(&tiff, binary.BigEndian, uint16(3))
	binary.Write(&tiff, binary.BigEndian, uint32(1))
	binary.Write(&tiff, binary.BigEndian, uint16(o))
	binary.Write(&tiff, binary.BigEndian, uint16(0))
	binary.Write(&tiff, binary.BigEndian, uint32(0))

	payload := append([]byte("Exif\x00\x00"), tiff.Bytes()...)
	app1 := []byte{0xFF, 0xE1, byte((len(payload) + 2) >> 8), byte(len(payload) + 2)}
	app1 = append(app1, payload...)

	data := buf.Bytes()
	out := append([]byte{}, data[:2]...)
	out = append(out, app1...)
	return append(out, data[2:]...)
}

func defaultRequest(path string, target int64) Request {
	return Request{
		Path:        path,
		TargetSize:  target,
		MinQuality:  30,
		QualityStep: 5,
		ResizeStep:  0.9,
	}
}

func newTestCompressor() *DefaultCompressor {
	return NewDefaultCompressor(logger.Discard(), nil, nil, nil)
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Failed to stat %s: %v", path, err)
	}
	return info.Size()
}

func decodeConfig(t *testing.T, path string) (image.Config, string) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", path, err)
	}
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("Failed to decode %s: %v", path, err)
	}
	return cfg, format
}

// Tests

func TestCompress_AlreadyUnderTarget(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "small.png", gradientImage(16, 12))

	res := newTestCompressor().Compress(context.Background(), defaultRequest(path, 1024*1024))

	if !res.Succeeded {
		t.Fatalf("Expected success, got note %q", res.Note)
	}
	if len(res.Attempts) != 1 {
		t.Errorf("Expected a single encode, got %d", len(res.Attempts))
	}
	if res.Quality != MaxQuality {
		t.Errorf("Expected quality %d, got %d", MaxQuality, res.Quality)
	}
	if res.Width != 16 || res.Height != 12 || res.Resized() {
		t.Errorf("Expected unchanged 16x12, got %dx%d", res.Width, res.Height)
	}
	if res.FinalSize > 1024*1024 || res.FinalSize != fileSize(t, path) {
		t.Errorf("Expected final size %d to match file on disk", res.FinalSize)
	}
	if res.Note != "original format PNG converted to JPEG" {
		t.Errorf("Unexpected note: %q", res.Note)
	}
	if !res.Converted() {
		t.Error("Expected PNG source to count as converted")
	}

	cfg, format := decodeConfig(t, path)
	if format != "jpeg" || cfg.Width != 16 || cfg.Height != 12 {
		t.Errorf("Expected 16x12 jpeg on disk, got %dx%d %s", cfg.Width, cfg.Height, format)
	}
}

func TestCompress_JPEGSourceHasNoNote(t *testing.T) {
	dir := t.TempDir()
	path := writeJPEG(t, dir, "photo.jpg", gradientImage(20, 20))

	res := newTestCompressor().Compress(context.Background(), defaultRequest(path, 1024*1024))

	if !res.Succeeded {
		t.Fatalf("Expected success, got note %q", res.Note)
	}
	if res.Note != "" {
		t.Errorf("Expected no note for JPEG source, got %q", res.Note)
	}
	if res.SourceFormat != "JPEG" {
		t.Errorf("Expected JPEG source format, got %q", res.SourceFormat)
	}
}

func TestCompress_TerminatesWithExtremeParameters(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "noise.png", noiseImage(24, 24, 1))

	req := Request{
		Path:        path,
		TargetSize:  1,
		MinQuality:  MaxQuality,
		QualityStep: 5,
		ResizeStep:  0.99,
	}

	done := make(chan Result, 1)
	go func() { done <- newTestCompressor().Compress(context.Background(), req) }()

	var res Result
	select {
	case res = <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("Compress did not terminate")
	}

	if res.Succeeded {
		t.Error("Expected a 1 byte target to be unreachable")
	}
	if res.Note != NoteCannotCompress {
		t.Errorf("Expected %q, got %q", NoteCannotCompress, res.Note)
	}
	if res.Width != 1 || res.Height != 1 {
		t.Errorf("Expected 1x1 floor, got %dx%d", res.Width, res.Height)
	}
	// One encode per side length from 24 down to 1, quality pinned at 95
	if len(res.Attempts) != 24 {
		t.Errorf("Expected 24 encodes, got %d", len(res.Attempts))
	}
	for _, a := range res.Attempts {
		if a.Quality != MaxQuality {
			t.Errorf("Expected quality to stay at %d, got %d", MaxQuality, a.Quality)
		}
	}
	if res.FinalSize != fileSize(t, path) {
		t.Errorf("Expected final size %d to match file on disk %d", res.FinalSize, fileSize(t, path))
	}
}

func TestCompress_MinimumSizeFloor(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "tiny.png", noiseImage(2, 2, 2))

	req := Request{
		Path:        path,
		TargetSize:  1,
		MinQuality:  1,
		QualityStep: 5,
		ResizeStep:  0.01,
	}
	res := newTestCompressor().Compress(context.Background(), req)

	if res.Note != NoteCannotCompress {
		t.Errorf("Expected %q, got %q", NoteCannotCompress, res.Note)
	}
	last := res.Attempts[len(res.Attempts)-1]
	if last.Width != 1 || last.Height != 1 || last.Quality != 1 {
		t.Errorf("Expected last attempt at 1x1 quality 1, got %+v", last)
	}
	if res.OriginalWidth != 2 || res.OriginalHeight != 2 {
		t.Errorf("Expected original 2x2, got %dx%d", res.OriginalWidth, res.OriginalHeight)
	}
}

func TestCompress_AttemptsAreMonotonic(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "noise.png", noiseImage(64, 64, 3))

	req := Request{
		Path:        path,
		TargetSize:  800,
		MinQuality:  60,
		QualityStep: 10,
		ResizeStep:  0.5,
	}
	res := newTestCompressor().Compress(context.Background(), req)

	if len(res.Attempts) < 2 {
		t.Fatalf("Expected several attempts, got %d", len(res.Attempts))
	}

	resized := false
	for i := 1; i < len(res.Attempts); i++ {
		prev, cur := res.Attempts[i-1], res.Attempts[i]
		if cur.Quality > prev.Quality || cur.Width > prev.Width || cur.Height > prev.Height {
			t.Fatalf("Attempt %d increased: %+v -> %+v", i, prev, cur)
		}
		qualityDropped := cur.Quality < prev.Quality && cur.Width == prev.Width && cur.Height == prev.Height
		shrunk := cur.Width < prev.Width || cur.Height < prev.Height
		if !qualityDropped && !shrunk {
			t.Errorf("Attempt %d made no progress: %+v -> %+v", i, prev, cur)
		}
		if shrunk {
			resized = true
		}
	}
	if !resized {
		t.Error("Expected the search to fall back to resizing")
	}

	if res.Attempts[0].Quality != MaxQuality {
		t.Errorf("Expected first attempt at quality %d, got %d", MaxQuality, res.Attempts[0].Quality)
	}
	if res.Attempts[1].Quality != 85 {
		t.Errorf("Expected second attempt at quality 85, got %d", res.Attempts[1].Quality)
	}
}

func TestCompress_QualityFloorsAtMinimum(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "noise.png", noiseImage(48, 48, 4))

	req := Request{
		Path:        path,
		TargetSize:  1,
		MinQuality:  33,
		QualityStep: 30,
		ResizeStep:  0.5,
	}
	res := newTestCompressor().Compress(context.Background(), req)

	got := []int{}
	for _, a := range res.Attempts {
		if a.Width == 48 {
			got = append(got, a.Quality)
		}
	}
	expected := []int{95, 65, 35, 33}
	if len(got) != len(expected) {
		t.Fatalf("Expected qualities %v at full size, got %v", expected, got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Expected qualities %v at full size, got %v", expected, got)
			break
		}
	}
}

func TestCompress_OverTargetIsBestEffort(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "noise.png", noiseImage(40, 40, 5))

	req := defaultRequest(path, 1)
	req.ResizeStep = 0.5
	res := newTestCompressor().Compress(context.Background(), req)

	if res.Succeeded {
		t.Fatal("Expected failure to meet a 1 byte target")
	}
	if res.Note != NoteCannotCompress {
		t.Errorf("Expected first note to win, got %q", res.Note)
	}
	if res.FinalSize != fileSize(t, path) {
		t.Errorf("Expected final size from disk, got %d", res.FinalSize)
	}
	if res.Error != nil {
		t.Errorf("Expected no error on best-effort path, got %v", res.Error)
	}
}

func TestCompress_ReducesToTarget(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "noise.png", noiseImage(128, 128, 6))
	original := fileSize(t, path)

	target := int64(6 * 1024)
	res := newTestCompressor().Compress(context.Background(), defaultRequest(path, target))

	if !res.Succeeded {
		t.Fatalf("Expected success, got note %q (final %d)", res.Note, res.FinalSize)
	}
	if res.OriginalSize != original {
		t.Errorf("Expected original size %d, got %d", original, res.OriginalSize)
	}
	if res.FinalSize > target || res.FinalSize != fileSize(t, path) {
		t.Errorf("Expected final size %d under target and equal to disk size %d", res.FinalSize, fileSize(t, path))
	}

	cfg, format := decodeConfig(t, path)
	if format != "jpeg" {
		t.Errorf("Expected jpeg on disk, got %s", format)
	}
	if cfg.Width != res.Width || cfg.Height != res.Height {
		t.Errorf("Expected %dx%d on disk, got %dx%d", res.Width, res.Height, cfg.Width, cfg.Height)
	}
}

func TestCompress_RerunOnOutputIsStable(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "gradient.png", gradientImage(32, 32))
	c := newTestCompressor()
	req := defaultRequest(path, 1024*1024)

	first := c.Compress(context.Background(), req)
	if !first.Succeeded {
		t.Fatalf("Expected first run to succeed, got %q", first.Note)
	}

	second := c.Compress(context.Background(), req)
	if !second.Succeeded {
		t.Fatalf("Expected second run to succeed, got %q", second.Note)
	}
	if len(second.Attempts) != 1 {
		t.Errorf("Expected second run to stop at the first encode, got %d attempts", len(second.Attempts))
	}
	if second.Width != first.Width || second.Height != first.Height {
		t.Errorf("Expected dimensions to stay %dx%d, got %dx%d", first.Width, first.Height, second.Width, second.Height)
	}
	if second.Note != "" {
		t.Errorf("Expected no note once the file is JPEG, got %q", second.Note)
	}
}

func TestCompress_UndecodableFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte("this is not an image")
	path := writeBytes(t, dir, "broken.jpg", content)

	res := newTestCompressor().Compress(context.Background(), defaultRequest(path, 1024))

	if res.Succeeded {
		t.Error("Expected failure for undecodable file")
	}
	if res.OriginalSize != int64(len(content)) || res.FinalSize != res.OriginalSize {
		t.Errorf("Expected sizes %d/%d, got %d/%d", len(content), len(content), res.OriginalSize, res.FinalSize)
	}
	if !strings.HasPrefix(res.Note, "compression failed:") {
		t.Errorf("Expected failure note, got %q", res.Note)
	}
	if res.Error == nil {
		t.Error("Expected underlying error to be recorded")
	}

	data, _ := os.ReadFile(path)
	if !bytes.Equal(data, content) {
		t.Error("Expected undecodable file to be left untouched")
	}
}

func TestCompress_MissingFile(t *testing.T) {
	res := newTestCompressor().Compress(context.Background(), defaultRequest(filepath.Join(t.TempDir(), "missing.png"), 1024))

	if res.Succeeded || res.OriginalSize != 0 || res.FinalSize != 0 {
		t.Errorf("Unexpected result for missing file: %+v", res)
	}
	if !errors.Is(res.Error, os.ErrNotExist) {
		t.Errorf("Expected not-exist error, got %v", res.Error)
	}
}

func TestCompress_InvalidRequestLeavesFile(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "a.png", gradientImage(8, 8))
	before, _ := os.ReadFile(path)

	req := defaultRequest(path, 10)
	req.QualityStep = 0
	res := newTestCompressor().Compress(context.Background(), req)

	if res.Succeeded || res.FinalSize != res.OriginalSize {
		t.Errorf("Expected failure result, got %+v", res)
	}
	after, _ := os.ReadFile(path)
	if !bytes.Equal(before, after) {
		t.Error("Expected file to be untouched for an invalid request")
	}
}

func TestCompress_DropsAlphaKeepsColour(t *testing.T) {
	dir := t.TempDir()
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 220, 20, 20, 0
	}
	path := writePNG(t, dir, "transparent.png", img)

	res := newTestCompressor().Compress(context.Background(), defaultRequest(path, 1024*1024))
	if !res.Succeeded {
		t.Fatalf("Expected success, got %q", res.Note)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open output: %v", err)
	}
	defer f.Close()
	out, err := jpeg.Decode(f)
	if err != nil {
		t.Fatalf("Failed to decode output: %v", err)
	}
	r, g, b, _ := out.At(8, 8).RGBA()
	if r>>8 < 180 || g>>8 > 70 || b>>8 > 70 {
		t.Errorf("Expected stored red colour to survive alpha removal, got %d,%d,%d", r>>8, g>>8, b>>8)
	}
}

func TestCompress_BMPSource(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, gradientImage(10, 10)); err != nil {
		t.Fatalf("Failed to encode BMP: %v", err)
	}
	path := writeBytes(t, dir, "pic.bmp", buf.Bytes())

	res := newTestCompressor().Compress(context.Background(), defaultRequest(path, 1024*1024))

	if !res.Succeeded {
		t.Fatalf("Expected success, got %q", res.Note)
	}
	if res.Note != "original format BMP converted to JPEG" {
		t.Errorf("Unexpected note: %q", res.Note)
	}
}

func TestCompress_AppliesOrientation(t *testing.T) {
	dir := t.TempDir()
	data := jpegWithOrientation(t, gradientImage(8, 4), extractor.OrientationRotate270)

	oriented := writeBytes(t, dir, "oriented.jpg", data)
	c := NewDefaultCompressor(logger.Discard(), extractor.NewEXIFExtractor(logger.Discard()), nil, nil)
	res := c.Compress(context.Background(), defaultRequest(oriented, 1024*1024))
	if res.Width != 4 || res.Height != 8 {
		t.Errorf("Expected rotated 4x8, got %dx%d", res.Width, res.Height)
	}

	raw := writeBytes(t, dir, "raw.jpg", data)
	res = newTestCompressor().Compress(context.Background(), defaultRequest(raw, 1024*1024))
	if res.Width != 8 || res.Height != 4 {
		t.Errorf("Expected untouched 8x4 without orientation reader, got %dx%d", res.Width, res.Height)
	}
}

func TestCompress_PreservesPermissions(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "private.png", gradientImage(8, 8))
	if err := os.Chmod(path, 0600); err != nil {
		t.Fatalf("Failed to chmod: %v", err)
	}

	newTestCompressor().Compress(context.Background(), defaultRequest(path, 1024*1024))

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Failed to stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected mode 0600, got %v", info.Mode().Perm())
	}
}

func TestCompress_BacksUpOriginal(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "a.png", gradientImage(8, 8))
	original, _ := os.ReadFile(path)

	c := NewDefaultCompressor(logger.Discard(), nil, nil, backup.NewLocalBackup("", ".orig"))
	res := c.Compress(context.Background(), defaultRequest(path, 1024*1024))

	if res.BackupLocation != path+".orig" {
		t.Errorf("Expected backup location %s, got %q", path+".orig", res.BackupLocation)
	}
	saved, err := os.ReadFile(path + ".orig")
	if err != nil {
		t.Fatalf("Failed to read backup: %v", err)
	}
	if !bytes.Equal(saved, original) {
		t.Error("Expected backup to hold the original bytes")
	}
}

type failingBackup struct{}

func (failingBackup) Store(ctx context.Context, path string, data []byte) (string, error) {
	return "", errors.New("disk full")
}

func TestCompress_BackupFailureSkipsWrite(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "a.png", gradientImage(8, 8))
	original, _ := os.ReadFile(path)

	c := NewDefaultCompressor(logger.Discard(), nil, nil, failingBackup{})
	res := c.Compress(context.Background(), defaultRequest(path, 1024*1024))

	if res.Succeeded {
		t.Error("Expected failure when the backup cannot be stored")
	}
	if !strings.Contains(res.Note, "disk full") {
		t.Errorf("Expected note to carry the backup error, got %q", res.Note)
	}
	after, _ := os.ReadFile(path)
	if !bytes.Equal(after, original) {
		t.Error("Expected file to be untouched when the backup fails")
	}
}

type recordingCopier struct {
	snapshots     []string
	restored      map[string]extractor.Snapshot
	sizeAtRestore int64
}

func (r *recordingCopier) Snapshot(path string) (extractor.Snapshot, error) {
	r.snapshots = append(r.snapshots, path)
	return extractor.Snapshot{"Artist": "Tester"}, nil
}

func (r *recordingCopier) Restore(path string, snap extractor.Snapshot) error {
	if r.restored == nil {
		r.restored = map[string]extractor.Snapshot{}
	}
	r.restored[path] = snap
	if info, err := os.Stat(path); err == nil {
		r.sizeAtRestore = info.Size()
	}
	return nil
}

func (r *recordingCopier) Close() error { return nil }

func TestCompress_RestoresMetadataAfterWrite(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "a.png", gradientImage(8, 8))
	originalSize := fileSize(t, path)

	copier := &recordingCopier{}
	c := NewDefaultCompressor(logger.Discard(), nil, copier, nil)
	res := c.Compress(context.Background(), defaultRequest(path, 1024*1024))

	if len(copier.snapshots) != 1 || copier.snapshots[0] != path {
		t.Errorf("Expected one snapshot of %s, got %v", path, copier.snapshots)
	}
	if copier.restored[path]["Artist"] != "Tester" {
		t.Errorf("Expected snapshot to be restored, got %v", copier.restored)
	}
	if copier.sizeAtRestore == originalSize || copier.sizeAtRestore != res.FinalSize {
		t.Errorf("Expected restore to run on the rewritten file (size %d), saw %d", res.FinalSize, copier.sizeAtRestore)
	}
}

func TestWorkingImage_EncodesProgressiveJPEG(t *testing.T) {
	w := newWorkingImage(gradientImage(40, 30))
	w.quality = 80

	data, err := w.encode()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	// SOF2 marks a progressive DCT frame; baseline output would carry SOF0.
	if !bytes.Contains(data, []byte{0xFF, 0xC2}) {
		t.Error("Expected progressive (SOF2) JPEG output")
	}
	if bytes.Contains(data, []byte{0xFF, 0xC0}) {
		t.Error("Expected no baseline (SOF0) frame in output")
	}

	out, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Failed to decode output: %v", err)
	}
	if b := out.Bounds(); b.Dx() != 40 || b.Dy() != 30 {
		t.Errorf("Expected 40x30, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestFinalNote(t *testing.T) {
	tests := []struct {
		name      string
		note      string
		succeeded bool
		format    string
		expected  string
	}{
		{"jpeg success", "", true, "JPEG", ""},
		{"png success", "", true, "PNG", "original format PNG converted to JPEG"},
		{"over target", "", false, "PNG", NoteBestEffort},
		{"cannot compress", NoteCannotCompress, false, "WEBP", NoteCannotCompress},
		{"cannot compress yet met", NoteCannotCompress, true, "PNG", NoteCannotCompress + " (final size 42 bytes)"},
	}

	for _, tt := range tests {
		if got := finalNote(tt.note, tt.succeeded, 42, tt.format); got != tt.expected {
			t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, got)
		}
	}
}

func TestRequest_Validate(t *testing.T) {
	valid := defaultRequest("/tmp/a.png", 100)
	if err := valid.Validate(); err != nil {
		t.Errorf("Expected valid request, got: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(r *Request)
	}{
		{"empty path", func(r *Request) { r.Path = "" }},
		{"zero target", func(r *Request) { r.TargetSize = 0 }},
		{"quality zero", func(r *Request) { r.MinQuality = 0 }},
		{"quality over 100", func(r *Request) { r.MinQuality = 101 }},
		{"step zero", func(r *Request) { r.QualityStep = 0 }},
		{"factor one", func(r *Request) { r.ResizeStep = 1 }},
		{"factor negative", func(r *Request) { r.ResizeStep = -0.5 }},
	}
	for _, tt := range tests {
		r := valid
		tt.mutate(&r)
		if err := r.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}

func TestPathLocks_SerializeSamePath(t *testing.T) {
	locks := newPathLocks()
	var active, peak int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("/photos/../photos/a.jpg")
			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			unlock()
		}()
	}
	wg.Wait()

	if peak != 1 {
		t.Errorf("Expected at most one holder per path, saw %d", peak)
	}
	if locks.size() != 0 {
		t.Errorf("Expected lock table to drain, %d entries left", locks.size())
	}
}

func TestPathLocks_DistinctPathsDoNotBlock(t *testing.T) {
	locks := newPathLocks()
	unlockA := locks.lock("/a.jpg")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := locks.lock("/b.jpg")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Lock on a different path blocked")
	}
}
