package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wandertune/api/internal/client"
	"github.com/wandertune/api/internal/imaging"
	"github.com/wandertune/api/internal/model"
)

// maxStyleLength is the synthesis provider's limit for the style field.
const maxStyleLength = 120

// VisionModel is the generation capability the analysis service depends on.
type VisionModel interface {
	GenerateContent(ctx context.Context, prompt string, images []client.ImagePart) (string, error)
	IsConfigured() bool
}

// Analyzer turns images plus a location into an analysis, lyrics and a
// style description.
type Analyzer interface {
	Analyze(ctx context.Context, imagePaths []string, location string) (*model.AnalysisResult, error)
	WriteLyrics(ctx context.Context, analysis *model.AnalysisResult) (string, error)
	DescribeStyle(ctx context.Context, analysis *model.AnalysisResult) (string, error)
}

// AnalysisService implements Analyzer on a vision-language model.
type AnalysisService struct {
	vision VisionModel
}

// NewAnalysisService creates a new analysis service.
func NewAnalysisService(vision VisionModel) *AnalysisService {
	return &AnalysisService{vision: vision}
}

// Analyze sends the images and location to the vision model and extracts a
// structured analysis. If the model's reply is not valid JSON the raw text
// is returned under RawAnalysis instead of failing the analysis.
func (s *AnalysisService) Analyze(ctx context.Context, imagePaths []string, location string) (*model.AnalysisResult, error) {
	if s.vision == nil || !s.vision.IsConfigured() {
		return s.analyzeMock(location), nil
	}

	images := make([]client.ImagePart, 0, len(imagePaths))
	for _, path := range imagePaths {
		data, err := imaging.LoadJPEG(path)
		if err != nil {
			// A single unreadable file is skipped; path existence was
			// already checked by the orchestrator.
			continue
		}
		images = append(images, client.ImagePart{MIMEType: "image/jpeg", Data: data})
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("no decodable images")
	}

	reply, err := s.vision.GenerateContent(ctx, buildAnalysisPrompt(location), images)
	if err != nil {
		return nil, fmt.Errorf("analysis failed: %w", err)
	}

	var result model.AnalysisResult
	if err := json.Unmarshal([]byte(extractJSON(reply)), &result); err != nil {
		return &model.AnalysisResult{RawAnalysis: reply}, nil
	}
	return &result, nil
}

// WriteLyrics generates song lyrics from a stored analysis. Failures are
// returned as errors, never embedded in the lyric text.
func (s *AnalysisService) WriteLyrics(ctx context.Context, analysis *model.AnalysisResult) (string, error) {
	if s.vision == nil || !s.vision.IsConfigured() {
		return mockLyrics, nil
	}

	reply, err := s.vision.GenerateContent(ctx, buildLyricsPrompt(analysis), nil)
	if err != nil {
		return "", fmt.Errorf("lyrics generation failed: %w", err)
	}

	lyrics := strings.TrimSpace(reply)
	if lyrics == "" {
		return "", fmt.Errorf("empty lyrics in response")
	}
	return lyrics, nil
}

// DescribeStyle generates a concise style description, truncated to the
// provider's 120-character style-field limit.
func (s *AnalysisService) DescribeStyle(ctx context.Context, analysis *model.AnalysisResult) (string, error) {
	if s.vision == nil || !s.vision.IsConfigured() {
		return mockStyle, nil
	}

	reply, err := s.vision.GenerateContent(ctx, buildStylePrompt(analysis), nil)
	if err != nil {
		return "", fmt.Errorf("style description failed: %w", err)
	}

	style := strings.TrimSpace(reply)
	if style == "" {
		return "", fmt.Errorf("empty style description in response")
	}
	return TruncateStyle(style), nil
}

// TruncateStyle enforces the provider's style-field length limit. The limit
// counts characters, not bytes, so multibyte styles are cut on rune
// boundaries.
func TruncateStyle(style string) string {
	runes := []rune(style)
	if len(runes) > maxStyleLength {
		return string(runes[:maxStyleLength-3]) + "..."
	}
	return style
}

func buildAnalysisPrompt(location string) string {
	return fmt.Sprintf(`Please analyze the following geographical location and accompanying image(s), and generate culturally and musically relevant insights.

Location: %s

Please strictly follow the steps below to ensure strong regional identity in your analysis:

1. Determine the unique cultural, historical, and emotional characteristics of the location.
2. Visually analyze the provided image(s): describe the visual elements (architecture, nature, colors, light) and how they reflect the location's mood or atmosphere. Always clearly state the location name in your visual analysis.
3. Extract cultural and geographical identity: reflect unique elements from the region's art, music, architecture, and customs.
4. Recommend a music style that is native or symbolic of the location. Do not recommend generic genres.
5. Generate detailed music creation parameters, deeply rooted in the regional style: tempo, musical key or scale, culturally significant instruments, mood and atmosphere consistent with both visuals and cultural background.

Return the result in the following strict JSON format:
{
    "visual_analysis": "description of the imagery and the cultural weight of %s",
    "cultural_context": "brief explanation of the cultural, historical, or religious meaning of the location and its musical implications",
    "music_style": "name of the musical genre or tradition that is most authentic to the location",
    "mood": "one or two emotional tones",
    "tempo": "suggested tempo",
    "key": "musical key or scale",
    "instruments": ["list", "of", "authentic", "instruments"],
    "atmosphere": "summarized description of the scene's overall emotional and cultural atmosphere"
}`, location, location)
}

func buildLyricsPrompt(analysis *model.AnalysisResult) string {
	analysisJSON, _ := json.MarshalIndent(analysis, "", "  ")

	return fmt.Sprintf(`You are a professional lyricist. Based on the analysis result below, write concise, poetic lyrics that reflect the unique identity of the place.

Requirements:
- Structure: 2 short verses and 1 chorus
- Use the place name and highlight regional identity
- Include phrases in the local language if culturally appropriate
- Match the vision, style and mood: %s, %s, %s, %s
- Express the emotions and atmosphere from the analysis
- Avoid literal image descriptions; focus on tone and cultural feeling

Analysis:
%s

Output only lyrics, no explanations.`,
		analysis.VisualAnalysis, analysis.CulturalContext,
		analysis.MusicStyle, analysis.Mood, string(analysisJSON))
}

func buildStylePrompt(analysis *model.AnalysisResult) string {
	analysisJSON, _ := json.MarshalIndent(analysis, "", "  ")

	return fmt.Sprintf(`You are a music production expert. Based on the analysis result below, generate a concise, regionally distinctive music style description for a music synthesis engine.

Analysis Result:
%s

Instructions:
- Focus on traditional or culturally unique regional genres, instruments, scales, and moods
- Do not use generic styles like "pop", "neo-classical", or "ambient"
- Must include: specific regional genre, representative local instruments, tempo and energy, key or mode if mentioned or implied, atmosphere tied to the location's emotion
- Limit: max 200 characters
- Output only the style description, no explanation

Example format:
"Japanese gagaku with sho and koto, slow tempo, pentatonic scale, meditative and sacred mood"

Now generate one for the input above.`, string(analysisJSON))
}

// extractJSON attempts to extract JSON from a response that may contain
// extra text around it.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")

	if start != -1 && end != -1 && end > start {
		return s[start : end+1]
	}
	return s
}

// Mock values used when the vision model is not configured.

const mockLyrics = `Verse 1:
Stone streets remember every name
Lanterns hum an old refrain

Chorus:
Carry me home on a traveling song
Where the river and the mountains belong

Verse 2:
Footsteps echo in the square
Morning bells hang in the air`

const mockStyle = "Regional folk with traditional strings, moderate tempo, warm and nostalgic mood"

func (s *AnalysisService) analyzeMock(location string) *model.AnalysisResult {
	return &model.AnalysisResult{
		VisualAnalysis:  fmt.Sprintf("The location is %s, a place rich in cultural symbolism and emotional depth.", location),
		CulturalContext: fmt.Sprintf("%s carries a long local musical tradition.", location),
		MusicStyle:      "regional folk",
		Mood:            "nostalgic and warm",
		Tempo:           "90 BPM moderate",
		Key:             "D Dorian",
		Instruments:     []string{"acoustic guitar", "fiddle", "frame drum"},
		Atmosphere:      "warm evening light over old streets",
	}
}
