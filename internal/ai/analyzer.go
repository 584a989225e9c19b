package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/iago/technoshare-commentator/internal/cache"
	"github.com/iago/technoshare-commentator/internal/config"
	"github.com/iago/technoshare-commentator/internal/domain"
	"github.com/iago/technoshare-commentator/internal/logger"
)

const (
	promptVersion       = "analyze_v1"
	searchToolName      = "search"
	defaultMaxToolCalls = 3
	jsonInstructions    = "Return only valid JSON. Do not use markdown code fences."
)

var searchTool = Tool{
	Name:        searchToolName,
	Description: "Searches or reads the content of a specific URL to gather information.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{"type": "string", "description": "The URL to read content from."},
		},
		"required": []string{"url"},
	},
}

type ModelProfile struct {
	PrimaryModel    string
	FallbackModel   string
	Temperature     float64
	MaxOutputTokens int
}

// PageReader returns readable text for a URL. Failures are described in the text.
type PageReader func(ctx context.Context, rawURL string) string

type AnalyzerConfig struct {
	Client       Completer
	Profile      ModelProfile
	MaxToolCalls int
	ReadPage     PageReader
	PromptsDir   string
	Project      config.ProjectContext
	Cache        cache.Store
	Logger       *logger.Logger
}

// Analyzer turns an evidence pack into a validated AnalysisResult.
type Analyzer struct {
	client       Completer
	profile      ModelProfile
	maxToolCalls int
	readPage     PageReader
	prompts      *promptSet
	project      config.ProjectContext
	cache        cache.Store
	validate     *validator.Validate
	logger       *logger.Logger
}

func NewAnalyzer(cfg AnalyzerConfig) *Analyzer {
	if strings.TrimSpace(cfg.Profile.PrimaryModel) == "" {
		cfg.Profile.PrimaryModel = "gpt-4.1"
	}
	if cfg.Profile.Temperature <= 0 {
		cfg.Profile.Temperature = 0.2
	}
	if cfg.Profile.MaxOutputTokens <= 0 {
		cfg.Profile.MaxOutputTokens = 1400
	}
	if cfg.MaxToolCalls < 0 {
		cfg.MaxToolCalls = defaultMaxToolCalls
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.Noop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &Analyzer{
		client:       cfg.Client,
		profile:      cfg.Profile,
		maxToolCalls: cfg.MaxToolCalls,
		readPage:     cfg.ReadPage,
		prompts:      newPromptSet(cfg.PromptsDir),
		project:      cfg.Project,
		cache:        cfg.Cache,
		validate:     newResultValidator(),
		logger:       cfg.Logger,
	}
}

// cacheSignature identifies what the model would see. Fetch times are left
// out so a re-fetch of unchanged content maps to the same entry.
func (a *Analyzer) cacheSignature(evidence domain.EvidencePack) (string, error) {
	content := evidence
	content.Sources = make([]domain.Source, len(evidence.Sources))
	for i, source := range evidence.Sources {
		source.FetchedAt = time.Time{}
		content.Sources[i] = source
	}
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("marshal evidence signature: %w", err)
	}
	projectJSON, err := json.Marshal(a.project)
	if err != nil {
		return "", fmt.Errorf("marshal project signature: %w", err)
	}
	return cache.BuildSignature(promptVersion, a.profile.PrimaryModel, string(projectJSON), string(contentJSON)), nil
}

func (a *Analyzer) Analyze(ctx context.Context, evidence domain.EvidencePack) (domain.AnalysisResult, error) {
	if a.client == nil || !a.client.Available() {
		return domain.AnalysisResult{}, ErrUnavailable
	}

	evidenceJSON, err := json.MarshalIndent(evidence, "", "  ")
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("marshal evidence: %w", err)
	}

	signature, err := a.cacheSignature(evidence)
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	if cached, ok := a.cache.Get(ctx, signature); ok {
		if result, parseErr := a.parseResult(string(cached)); parseErr == nil {
			a.logger.Debug("analysis cache hit", "signature", signature)
			return result, nil
		}
	}

	prompt, err := a.prompts.render(analyzePromptFile, map[string]any{
		"Project":     a.project.Project,
		"Description": a.project.Description,
		"Themes":      a.project.Themes,
		"Evidence":    string(evidenceJSON),
	})
	if err != nil {
		return domain.AnalysisResult{}, err
	}

	result, modelID, err := a.generate(ctx, prompt)
	if err != nil {
		return domain.AnalysisResult{}, err
	}

	if encoded, marshalErr := json.Marshal(result); marshalErr == nil {
		a.cache.Set(ctx, signature, encoded)
	}
	a.logger.Info("analysis completed", "model", modelID, "coverage", string(evidence.Coverage))
	return result, nil
}

// generate tries the primary model and then the fallback model.
func (a *Analyzer) generate(ctx context.Context, prompt string) (domain.AnalysisResult, string, error) {
	result, modelID, err := a.runModel(ctx, a.profile.PrimaryModel, prompt)
	if err == nil {
		return result, modelID, nil
	}

	fallback := strings.TrimSpace(a.profile.FallbackModel)
	if fallback == "" || fallback == a.profile.PrimaryModel || ctx.Err() != nil {
		return domain.AnalysisResult{}, "", err
	}
	a.logger.Warn("primary model failed, trying fallback", "model", a.profile.PrimaryModel, "error", err)

	result, modelID, fallbackErr := a.runModel(ctx, fallback, prompt)
	if fallbackErr != nil {
		return domain.AnalysisResult{}, "", fmt.Errorf("primary model failed: %v; fallback failed: %w", err, fallbackErr)
	}
	return result, modelID, nil
}

// runModel drives one conversation, answering search tool calls until the
// model produces its final JSON or the tool budget runs out.
func (a *Analyzer) runModel(ctx context.Context, model, prompt string) (domain.AnalysisResult, string, error) {
	messages := []Message{
		{Role: "system", Content: jsonInstructions},
		{Role: "user", Content: prompt},
	}
	toolCalls := 0

	for {
		var tools []Tool
		if a.readPage != nil && toolCalls < a.maxToolCalls {
			tools = []Tool{searchTool}
		}

		response, err := a.client.Complete(ctx, CompletionRequest{
			Model:           model,
			Messages:        messages,
			Tools:           tools,
			JSONOutput:      true,
			Temperature:     a.profile.Temperature,
			MaxOutputTokens: a.profile.MaxOutputTokens,
		})
		if err != nil {
			return domain.AnalysisResult{}, "", err
		}
		modelID := firstNonEmpty(response.ModelID, model)

		if len(response.Message.ToolCalls) == 0 {
			result, parseErr := a.parseResult(response.Message.Content)
			return result, modelID, parseErr
		}
		if len(tools) == 0 {
			return domain.AnalysisResult{}, "", fmt.Errorf("%w: tool call after tool budget was spent", ErrMalformedOutput)
		}

		messages = append(messages, Message{Role: "assistant", Content: response.Message.Content, ToolCalls: response.Message.ToolCalls})
		for _, call := range response.Message.ToolCalls {
			messages = append(messages, Message{
				Role:       "tool",
				Name:       call.Function.Name,
				ToolCallID: call.ID,
				Content:    a.answerToolCall(ctx, call, &toolCalls),
			})
		}
	}
}

func (a *Analyzer) answerToolCall(ctx context.Context, call ToolCall, used *int) string {
	if call.Function.Name != searchToolName {
		return "Unknown tool " + call.Function.Name + "."
	}
	if *used >= a.maxToolCalls {
		return "Tool call limit reached. Answer with the evidence you have."
	}
	*used++

	var args struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil || strings.TrimSpace(args.URL) == "" {
		return "Invalid arguments: a url is required."
	}
	a.logger.Debug("search tool call", "url", args.URL)
	return a.readPage(ctx, args.URL)
}

func (a *Analyzer) parseResult(text string) (domain.AnalysisResult, error) {
	rawJSON, err := extractJSON(text)
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	var result domain.AnalysisResult
	if err := json.Unmarshal(rawJSON, &result); err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	result.TLDR = trimAll(result.TLDR)
	result.Summary = strings.TrimSpace(result.Summary)
	result.Projects = trimAll(result.Projects)
	result.SimilarTech = trimAll(result.SimilarTech)
	if result.SimilarTech == nil {
		result.SimilarTech = []string{}
	}

	if err := validateResult(a.validate, result); err != nil {
		return domain.AnalysisResult{}, err
	}
	return result, nil
}

func trimAll(values []string) []string {
	if values == nil {
		return nil
	}
	trimmed := make([]string, 0, len(values))
	for _, value := range values {
		trimmed = append(trimmed, strings.TrimSpace(value))
	}
	return trimmed
}

func extractJSON(text string) ([]byte, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, errors.New("empty model output")
	}

	if strings.HasPrefix(trimmed, "```") {
		trimmed = stripCodeFence(trimmed)
	}

	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
		return []byte(trimmed), nil
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		candidate := trimmed[start : end+1]
		if err := json.Unmarshal([]byte(candidate), &decoded); err == nil {
			return []byte(candidate), nil
		}
	}

	return nil, errors.New("model output is not valid JSON")
}

func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimPrefix(trimmed, "json")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}
