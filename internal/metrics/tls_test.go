package metrics

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path"
	"strings"
	"testing"
)

func TestNormalizeText(t *testing.T) {
	in := "  The quick\nbrown\t fox  \n"
	if got := NormalizeText(in); got != "The quick brown fox" {
		t.Errorf("NormalizeText() = %q", got)
	}
}

func TestScore(t *testing.T) {
	truth := "The quick brown fox jumps over the lazy dog"

	// Identical text scores a perfect 0, whitespace differences included.
	score, distance := Score("The quick  brown\nfox jumps over the lazy dog", truth)
	if score != 0 || distance != 0 {
		t.Errorf("Score() = %f, %d, want 0, 0", score, distance)
	}

	// Empty recognized text scores the worst case 1: the distance equals
	// the ground truth length, divided by the ground truth length.
	score, distance = Score("", truth)
	if score != 1 {
		t.Errorf("Score(\"\") = %f, want 1", score)
	}
	if distance != len(truth) {
		t.Errorf("distance = %d, want %d", distance, len(truth))
	}

	// Partial recognition lands strictly between.
	score, _ = Score("The quick brown fox", truth)
	if score <= 0 || score >= 1 {
		t.Errorf("partial match Score() = %f, want in (0, 1)", score)
	}

	// Two empty strings are a perfect match, not a division by zero.
	if score, _ = Score("", ""); score != 0 {
		t.Errorf("Score(\"\", \"\") = %f, want 0", score)
	}
}

// testPNG renders a small white image as PNG bytes.
func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding test image: %v", err)
	}
	return buf.Bytes()
}

// fakeShotPage returns canned screenshot bytes.
type fakeShotPage struct {
	shot []byte
	err  error
}

func (p *fakeShotPage) Navigate(ctx context.Context, url string) error { return nil }

func (p *fakeShotPage) Eval(ctx context.Context, s string, out interface{}) error { return nil }

func (p *fakeShotPage) PID() (int, error) { return 0, nil }

func (p *fakeShotPage) Close() {}

func (p *fakeShotPage) ScreenshotRegion(ctx context.Context, x, y, w, h int) ([]byte, error) {
	return p.shot, p.err
}

// fakeOCR returns a fixed recognition result.
type fakeOCR struct {
	text string
	err  error
}

func (o *fakeOCR) Recognize(png []byte) (string, error) { return o.text, o.err }

func (o *fakeOCR) Close() error { return nil }

func TestTLSSamplerSample(t *testing.T) {
	dir := t.TempDir()
	sampler := &TLSSampler{
		Viewer:        &fakeShotPage{shot: testPNG(t)},
		GroundTruth:   "hello world",
		Engine:        &fakeOCR{text: "hello\nworld"},
		ScreenshotDir: dir,
		TestID:        4,
	}
	sample := sampler.Sample(context.Background())
	if sample == nil {
		t.Fatal("Sample() = nil")
	}
	if sample.Score != 0 || sample.EditDistance != 0 {
		t.Errorf("Sample() score = %f, distance = %d, want 0, 0", sample.Score, sample.EditDistance)
	}
	if sample.RecognizedText != "hello world" {
		t.Errorf("RecognizedText = %q", sample.RecognizedText)
	}

	// The screenshot is persisted for audit, named by test id and index.
	want := path.Join(dir, "test4-tls1.png")
	if sample.Screenshot != want {
		t.Errorf("Screenshot = %q, want %q", sample.Screenshot, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("screenshot file not written: %v", err)
	}
	if !strings.HasSuffix(sampler.Sample(context.Background()).Screenshot, "test4-tls2.png") {
		t.Error("sample index should advance per capture")
	}
}

func TestTLSSamplerCaptureFailure(t *testing.T) {
	sampler := &TLSSampler{
		Viewer:      &fakeShotPage{err: errors.New("page gone")},
		GroundTruth: "hello world",
		Engine:      &fakeOCR{},
	}
	sample := sampler.Sample(context.Background())
	if sample == nil {
		t.Fatal("Sample() = nil, want a worst-case sample")
	}
	if sample.Score != 1.0 {
		t.Errorf("capture failure Score = %f, want 1.0", sample.Score)
	}
}

func TestTLSSamplerOCRFailure(t *testing.T) {
	sampler := &TLSSampler{
		Viewer:      &fakeShotPage{shot: testPNG(t)},
		GroundTruth: "hello world",
		Engine:      &fakeOCR{err: errors.New("tesseract crashed")},
	}
	sample := sampler.Sample(context.Background())
	if sample == nil || sample.Score != 1.0 {
		t.Fatalf("OCR failure should degrade to worst score, got %+v", sample)
	}
}

func TestTLSSamplerBadImage(t *testing.T) {
	sampler := &TLSSampler{
		Viewer:      &fakeShotPage{shot: []byte("not a png")},
		GroundTruth: "hello world",
		Engine:      &fakeOCR{text: "hello world"},
	}
	sample := sampler.Sample(context.Background())
	if sample == nil || sample.Score != 1.0 {
		t.Fatalf("undecodable capture should degrade to worst score, got %+v", sample)
	}
}
