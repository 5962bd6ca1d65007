package service

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/wandertune/api/internal/client"
)

// fakeVision returns canned replies in order.
type fakeVision struct {
	replies []string
	errs    []error
	calls   int
	prompts []string
	images  [][]client.ImagePart
}

func (f *fakeVision) GenerateContent(ctx context.Context, prompt string, images []client.ImagePart) (string, error) {
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, prompt)
	f.images = append(f.images, images)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.replies) {
		return f.replies[i], nil
	}
	return "", fmt.Errorf("no reply configured for call %d", i)
}

func (f *fakeVision) IsConfigured() bool { return true }

func writeTestImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "photo.png")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create test image: %v", err)
	}
	defer file.Close()
	if err := png.Encode(file, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return path
}

func TestAnalyzeParsesJSON(t *testing.T) {
	vision := &fakeVision{replies: []string{`Here is my analysis:
{"visual_analysis":"Old streets of Kyoto","music_style":"gagaku","mood":"serene","instruments":["koto","sho"]}
Hope this helps!`}}
	svc := NewAnalysisService(vision)

	result, err := svc.Analyze(context.Background(), []string{writeTestImage(t)}, "Kyoto, Japan")
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if result.VisualAnalysis != "Old streets of Kyoto" {
		t.Errorf("unexpected visual analysis %q", result.VisualAnalysis)
	}
	if result.MusicStyle != "gagaku" {
		t.Errorf("unexpected music style %q", result.MusicStyle)
	}
	if len(result.Instruments) != 2 {
		t.Errorf("expected 2 instruments, got %v", result.Instruments)
	}
	if result.RawAnalysis != "" {
		t.Errorf("expected no raw fallback on parseable reply")
	}

	if !strings.Contains(vision.prompts[0], "Kyoto, Japan") {
		t.Error("expected location in the analysis prompt")
	}
	if len(vision.images[0]) != 1 {
		t.Errorf("expected 1 image part, got %d", len(vision.images[0]))
	}
}

func TestAnalyzeUnparseableReplyFallsBackToRaw(t *testing.T) {
	vision := &fakeVision{replies: []string{"The pictures show a lively market."}}
	svc := NewAnalysisService(vision)

	result, err := svc.Analyze(context.Background(), []string{writeTestImage(t)}, "Marrakesh")
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if result.RawAnalysis != "The pictures show a lively market." {
		t.Errorf("expected raw fallback, got %+v", result)
	}
}

func TestAnalyzeModelError(t *testing.T) {
	vision := &fakeVision{errs: []error{fmt.Errorf("quota exceeded")}}
	svc := NewAnalysisService(vision)

	_, err := svc.Analyze(context.Background(), []string{writeTestImage(t)}, "Lisbon")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestAnalyzeUnconfiguredUsesMock(t *testing.T) {
	svc := NewAnalysisService(nil)

	result, err := svc.Analyze(context.Background(), []string{"does-not-matter.jpg"}, "Istanbul")
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if !strings.Contains(result.VisualAnalysis, "Istanbul") {
		t.Errorf("expected location in mock analysis, got %q", result.VisualAnalysis)
	}
	if result.MusicStyle == "" {
		t.Error("expected a mock music style")
	}
}

func TestWriteLyrics(t *testing.T) {
	vision := &fakeVision{replies: []string{"  Verse 1: old stones sing  "}}
	svc := NewAnalysisService(vision)

	lyrics, err := svc.WriteLyrics(context.Background(), svc.analyzeMock("Rome"))
	if err != nil {
		t.Fatalf("write lyrics failed: %v", err)
	}
	if lyrics != "Verse 1: old stones sing" {
		t.Errorf("expected trimmed lyrics, got %q", lyrics)
	}
}

func TestWriteLyricsEmptyReplyIsError(t *testing.T) {
	vision := &fakeVision{replies: []string{"   "}}
	svc := NewAnalysisService(vision)

	_, err := svc.WriteLyrics(context.Background(), svc.analyzeMock("Rome"))
	if err == nil {
		t.Fatal("expected error for empty lyrics")
	}
}

func TestWriteLyricsModelErrorIsError(t *testing.T) {
	vision := &fakeVision{errs: []error{fmt.Errorf("model unavailable")}}
	svc := NewAnalysisService(vision)

	lyrics, err := svc.WriteLyrics(context.Background(), svc.analyzeMock("Rome"))
	if err == nil {
		t.Fatal("expected error")
	}
	if lyrics != "" {
		t.Errorf("failed call must not return lyric text, got %q", lyrics)
	}
}

func TestDescribeStyleTruncates(t *testing.T) {
	long := strings.Repeat("flamenco guitar with palmas, ", 10)
	vision := &fakeVision{replies: []string{long}}
	svc := NewAnalysisService(vision)

	style, err := svc.DescribeStyle(context.Background(), svc.analyzeMock("Seville"))
	if err != nil {
		t.Fatalf("describe style failed: %v", err)
	}
	if len(style) != maxStyleLength {
		t.Errorf("expected style truncated to %d chars, got %d", maxStyleLength, len(style))
	}
	if !strings.HasSuffix(style, "...") {
		t.Errorf("expected ellipsis suffix, got %q", style)
	}
}

func TestTruncateStyleShortUnchanged(t *testing.T) {
	if got := TruncateStyle("fado with Portuguese guitar"); got != "fado with Portuguese guitar" {
		t.Errorf("short style must pass through, got %q", got)
	}
}

func TestTruncateStyleMultibyte(t *testing.T) {
	long := "a" + strings.Repeat("雅", 129)

	got := TruncateStyle(long)
	if !utf8.ValidString(got) {
		t.Fatalf("truncation produced invalid UTF-8: %q", got)
	}
	if n := len([]rune(got)); n != maxStyleLength {
		t.Errorf("expected %d characters, got %d", maxStyleLength, n)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("expected ellipsis suffix, got %q", got)
	}
	if !strings.HasPrefix(got, "a雅") {
		t.Errorf("truncation must preserve leading characters, got %q", got)
	}

	exact := strings.Repeat("雅", maxStyleLength)
	if TruncateStyle(exact) != exact {
		t.Error("a style of exactly the limit must pass through")
	}
}

func TestUnconfiguredMockLyricsAndStyle(t *testing.T) {
	svc := NewAnalysisService(nil)

	lyrics, err := svc.WriteLyrics(context.Background(), nil)
	if err != nil || lyrics == "" {
		t.Errorf("expected mock lyrics, got %q err=%v", lyrics, err)
	}
	style, err := svc.DescribeStyle(context.Background(), nil)
	if err != nil || style == "" {
		t.Errorf("expected mock style, got %q err=%v", style, err)
	}
	if len(style) > maxStyleLength {
		t.Errorf("mock style exceeds the provider limit: %d", len(style))
	}
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prefix {\"a\":{\"b\":2}} suffix", `{"a":{"b":2}}`},
		{"no braces here", "no braces here"},
	}
	for _, tc := range cases {
		if got := extractJSON(tc.in); got != tc.want {
			t.Errorf("extractJSON(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
