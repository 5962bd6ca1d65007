package model

// AnalysisResult is the structured output of the vision-language analysis
// of the uploaded images and the location text.
type AnalysisResult struct {
	VisualAnalysis  string   `json:"visual_analysis,omitempty"`
	CulturalContext string   `json:"cultural_context,omitempty"`
	MusicStyle      string   `json:"music_style,omitempty"`
	Mood            string   `json:"mood,omitempty"`
	Tempo           string   `json:"tempo,omitempty"`
	Key             string   `json:"key,omitempty"`
	Instruments     []string `json:"instruments,omitempty"`
	Atmosphere      string   `json:"atmosphere,omitempty"`

	// RawAnalysis carries the model's reply verbatim when strict JSON
	// extraction failed. The analysis still counts as successful.
	RawAnalysis string `json:"raw_analysis,omitempty"`
}

// Degraded reports whether structure extraction failed and only the raw
// text is available.
func (r *AnalysisResult) Degraded() bool {
	return r.RawAnalysis != "" && r.VisualAnalysis == ""
}
