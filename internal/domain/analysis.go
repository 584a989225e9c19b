package domain

// AnalysisResult is the structured reply produced by the reasoning service.
// Strings may carry Markdown **bold**; conversion to chat markup happens at render time.
type AnalysisResult struct {
	TLDR        []string `json:"tldr" validate:"len=3,dive,required,sentence"`
	Summary     string   `json:"summary" validate:"required,min=100"`
	Projects    []string `json:"projects" validate:"min=3,max=8,dive,required"`
	SimilarTech []string `json:"similar_tech" validate:"max=8,dive,required"`
}
