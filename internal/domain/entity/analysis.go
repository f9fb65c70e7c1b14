package entity

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
)

const (
	// MinConditions and MaxConditions bound the conditions list of a valid
	// analysis result. Longer lists are truncated before validation and
	// before any cache write, so cached and fresh results are identical.
	MinConditions = 2
	MaxConditions = 5
)

// SymptomText accepts either a single JSON string or an array of text
// fragments, so transports don't have to care which shape the client sends.
type SymptomText []string

func (s *SymptomText) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = SymptomText{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*s = SymptomText(many)
		return nil
	}
	return fmt.Errorf("symptoms must be a string or an array of strings")
}

// Join collapses the fragments into the single free-text string the
// pipeline works with. Blank fragments are dropped so whitespace-only
// input always joins to the empty string.
func (s SymptomText) Join() string {
	fragments := lo.FilterMap(s, func(f string, _ int) (string, bool) {
		f = strings.TrimSpace(f)
		return f, f != ""
	})
	return strings.Join(fragments, ", ")
}

// AnalysisRequest is the parsed inbound request. Age, sex and duration are
// optional context; NoCache bypasses the response cache for this call only.
type AnalysisRequest struct {
	Symptoms SymptomText `json:"symptoms"`
	Age      *int        `json:"age,omitempty"`
	Sex      string      `json:"sex,omitempty"`
	Duration string      `json:"duration,omitempty"`
	NoCache  bool        `json:"no_cache,omitempty"`
}

// AnalysisResult is the structured answer returned to the caller and stored
// in the cache. Cached is transport metadata and never serialized.
type AnalysisResult struct {
	Conditions      []string `json:"conditions"`
	Recommendations string   `json:"recommendations"`
	Disclaimer      string   `json:"disclaimer"`
	Cached          bool     `json:"-"`
}

// Generation is the LLM client's successful output.
type Generation struct {
	Text       string
	Model      string
	LatencyMs  int64
	RetryCount int
}

// GenerationParams carries the resolved tuning parameters for one LLM
// invocation. All values are clamped by the config layer before they get here.
type GenerationParams struct {
	Model             string
	Temperature       float32
	MaxTokens         int
	AttemptTimeout    time.Duration
	MaxRetries        int
	MinBackoff        time.Duration
	MaxBackoff        time.Duration
	LoadingWaitBudget time.Duration
}

// Normalize trims every field and truncates the conditions list to
// MaxConditions. It must run before Validate and before any cache write.
func (r *AnalysisResult) Normalize() {
	r.Conditions = lo.Map(r.Conditions, func(c string, _ int) string {
		return strings.TrimSpace(c)
	})
	if len(r.Conditions) > MaxConditions {
		r.Conditions = r.Conditions[:MaxConditions]
	}
	r.Recommendations = strings.TrimSpace(r.Recommendations)
	r.Disclaimer = strings.TrimSpace(r.Disclaimer)
}

// Validate checks the structural contract: 2-5 non-empty conditions plus
// non-empty recommendations and disclaimer.
func (r *AnalysisResult) Validate() error {
	if len(r.Conditions) < MinConditions {
		return fmt.Errorf("expected at least %d conditions, got %d", MinConditions, len(r.Conditions))
	}
	if lo.SomeBy(r.Conditions, func(c string) bool { return c == "" }) {
		return fmt.Errorf("conditions must be non-empty strings")
	}
	if r.Recommendations == "" {
		return fmt.Errorf("recommendations must be a non-empty string")
	}
	if r.Disclaimer == "" {
		return fmt.Errorf("disclaimer must be a non-empty string")
	}
	return nil
}

// ParseAnalysis turns the model's raw text into a validated AnalysisResult.
// Strict parsing runs first; only when it fails does the bounded repair
// stage kick in (markdown fence stripping, then outermost-brace
// extraction). Anything that still fails validation is a BAD_LLM_OUTPUT.
func ParseAnalysis(raw string) (*AnalysisResult, error) {
	cleaned := strings.TrimSpace(raw)
	if fenced, ok := stripFences(cleaned); ok {
		cleaned = fenced
	}

	var result AnalysisResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		extracted, ok := extractObject(cleaned)
		if !ok {
			return nil, NewError(CodeBadLLMOutput, "model response contains no JSON object")
		}
		result = AnalysisResult{}
		if err := json.Unmarshal([]byte(extracted), &result); err != nil {
			return nil, NewError(CodeBadLLMOutput, "model response is not valid JSON")
		}
	}

	result.Normalize()
	if err := result.Validate(); err != nil {
		return nil, NewError(CodeBadLLMOutput, err.Error())
	}
	return &result, nil
}

// stripFences unwraps a ```json ... ``` (or bare ```) markdown block.
func stripFences(s string) (string, bool) {
	marker := "```json"
	idx := strings.Index(s, marker)
	if idx < 0 {
		marker = "```"
		idx = strings.Index(s, marker)
	}
	if idx < 0 {
		return "", false
	}
	rest := s[idx+len(marker):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// extractObject returns the substring between the first '{' and the last '}'.
func extractObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
