package metrics

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os"
	"path"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/charmbracelet/log"
	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"github.com/castbench/castbench/internal/browser"
	"github.com/castbench/castbench/pkg/model"
	"github.com/castbench/castbench/pkg/spec"
)

// OCR recognizes text in a PNG image. The production implementation wraps
// Tesseract; tests substitute fakes.
type OCR interface {
	Recognize(png []byte) (string, error)
	Close() error
}

// TesseractOCR is the gosseract-backed OCR engine. A client is not safe
// for concurrent use, so each worker's TLS sampler owns its own.
type TesseractOCR struct {
	client *gosseract.Client
}

// NewTesseractOCR creates an OCR engine for the configured language.
func NewTesseractOCR() (*TesseractOCR, error) {
	client := gosseract.NewClient()
	if err := client.SetLanguage(spec.OCRLanguage); err != nil {
		client.Close()
		return nil, fmt.Errorf("ocr language setup: %w", err)
	}
	return &TesseractOCR{client: client}, nil
}

// Recognize runs Tesseract over the image bytes.
func (t *TesseractOCR) Recognize(img []byte) (string, error) {
	if err := t.client.SetImageFromBytes(img); err != nil {
		return "", err
	}
	return t.client.Text()
}

// Close releases the Tesseract client.
func (t *TesseractOCR) Close() error {
	return t.client.Close()
}

// NormalizeText collapses all whitespace runs to single spaces and trims
// the ends, so OCR line-break artifacts do not count as edit distance.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Score computes the normalized edit distance between recognized and
// ground-truth text after whitespace normalization. The score is the edit
// distance divided by the length of the longer string: 0 is a perfect
// match, 1 is total illegibility. Two empty strings score 0.
func Score(recognized, truth string) (float64, int) {
	a := NormalizeText(recognized)
	b := NormalizeText(truth)
	distance := levenshtein.ComputeDistance(a, b)
	longer := len([]rune(a))
	if l := len([]rune(b)); l > longer {
		longer = l
	}
	if longer == 0 {
		return 0, 0
	}
	return float64(distance) / float64(longer), distance
}

// TLSSampler measures on-screen text legibility: capture a region of a
// viewer's rendered page, preprocess, OCR, and score against the ground
// truth.
type TLSSampler struct {
	// Viewer is the page sampled.
	Viewer browser.Page
	// GroundTruth is the reference text from the content surface.
	GroundTruth string
	// Engine recognizes text in the captured region.
	Engine OCR
	// ScreenshotDir is where capture files are persisted for audit.
	ScreenshotDir string
	// TestID names the persisted screenshots.
	TestID int

	index int
}

// Sample runs one legibility measurement. Every failure in the pipeline
// (capture, decode, OCR) degrades to the worst score of 1.0 instead of
// failing the test.
func (s *TLSSampler) Sample(ctx context.Context) *model.TLSSample {
	if s.Viewer == nil {
		return nil
	}
	s.index++
	sample := &model.TLSSample{
		Timestamp: time.Now().UnixMilli(),
		Score:     1.0,
		// Worst case assumes nothing was recognized.
		EditDistance: len([]rune(NormalizeText(s.GroundTruth))),
	}

	shot, err := s.Viewer.ScreenshotRegion(ctx,
		spec.OCRRegionX, spec.OCRRegionY, spec.OCRRegionWidth, spec.OCRRegionHeight)
	if err != nil {
		log.Debug("tls capture failed", "test", s.TestID, "error", err)
		return sample
	}
	sample.Screenshot = s.persist(shot)

	prepared, err := preprocess(shot)
	if err != nil {
		log.Debug("tls preprocessing failed", "test", s.TestID, "error", err)
		return sample
	}
	text, err := s.Engine.Recognize(prepared)
	if err != nil {
		log.Debug("tls ocr failed", "test", s.TestID, "error", err)
		return sample
	}

	sample.RecognizedText = NormalizeText(text)
	sample.Score, sample.EditDistance = Score(text, s.GroundTruth)
	return sample
}

// persist writes the raw screenshot for audit, named by test id and sample
// index. Persistence failure only drops the audit file, not the sample.
func (s *TLSSampler) persist(shot []byte) string {
	if s.ScreenshotDir == "" {
		return ""
	}
	name := path.Join(s.ScreenshotDir, fmt.Sprintf("test%d-tls%d.png", s.TestID, s.index))
	if err := os.WriteFile(name, shot, 0644); err != nil {
		log.Debug("tls screenshot persist failed", "path", name, "error", err)
		return ""
	}
	return name
}

// preprocess converts the capture to greyscale and boosts contrast to give
// the OCR engine a cleaner glyph image.
func preprocess(shot []byte) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(shot))
	if err != nil {
		return nil, err
	}
	prepared := imaging.AdjustContrast(imaging.Grayscale(img), 30)
	var buf bytes.Buffer
	if err := png.Encode(&buf, prepared); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
