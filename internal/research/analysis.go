package research

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/podforge/api/internal/model"
)

const (
	DataQualityFull     = "full"
	DataQualityPartial  = "partial"
	DataQualityFallback = "fallback"

	defaultQualityScore = 7.0
)

var defaultStructure = []string{"Intro", "Main discussion", "Outro"}

// ExtractJSON pulls a JSON document out of model output. A fenced json block
// wins, then any fenced block, then the outermost braces.
func ExtractJSON(s string) string {
	if _, after, ok := strings.Cut(s, "```json"); ok {
		body, _, _ := strings.Cut(after, "```")
		return strings.TrimSpace(body)
	}
	if _, after, ok := strings.Cut(s, "```"); ok {
		body, _, _ := strings.Cut(after, "```")
		return strings.TrimSpace(body)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start != -1 && end > start {
		return s[start : end+1]
	}
	return strings.TrimSpace(s)
}

type analysisPayload struct {
	KeyFindings  []string `json:"key_findings"`
	Structure    []string `json:"structure"`
	QualityScore *float64 `json:"quality_score"`
}

// ParseAnalysis fills findings from the generator's analysis. Malformed output
// yields default findings derived from the sources and a warning; it is never
// an error.
func ParseAnalysis(text string, findings *model.ResearchFindings) {
	var payload analysisPayload
	if err := json.Unmarshal([]byte(ExtractJSON(text)), &payload); err != nil || len(payload.KeyFindings) == 0 {
		ApplyDefaultAnalysis(findings, "analysis could not be parsed, using defaults")
		return
	}

	findings.KeyFindings = payload.KeyFindings
	findings.SuggestedStructure = payload.Structure
	if len(findings.SuggestedStructure) == 0 {
		findings.SuggestedStructure = append([]string(nil), defaultStructure...)
	}
	findings.QualityScore = defaultQualityScore
	if payload.QualityScore != nil {
		findings.QualityScore = clamp(*payload.QualityScore, 0, 10)
	}
}

// ApplyDefaultAnalysis is used when analysis output is unusable or the
// generator failed.
func ApplyDefaultAnalysis(findings *model.ResearchFindings, warning string) {
	findings.KeyFindings = nil
	for i, s := range findings.Sources {
		if i == 5 {
			break
		}
		findings.KeyFindings = append(findings.KeyFindings, "Source: "+s.Title)
	}
	if len(findings.KeyFindings) == 0 {
		findings.KeyFindings = []string{fmt.Sprintf("Overview of %s", findings.Topic)}
	}
	findings.SuggestedStructure = append([]string(nil), defaultStructure...)
	findings.QualityScore = 6.0
	findings.Warnings = append(findings.Warnings, warning)
}

type recommendationPayload struct {
	Recommended string `json:"recommended"`
	Reason      string `json:"reason"`
}

// FallbackRecommendationReason is used when no usable recommendation exists.
const FallbackRecommendationReason = "Fallback: balanced style for a broad audience"

// ParseRecommendation reads the recommended audience. The result is always one
// of the generated variants.
func ParseRecommendation(text string, variants []model.ScriptVariant) (model.AudienceType, string) {
	var payload recommendationPayload
	if err := json.Unmarshal([]byte(ExtractJSON(text)), &payload); err == nil {
		aud := model.AudienceType(strings.TrimSpace(strings.ToLower(payload.Recommended)))
		if hasVariant(variants, aud) {
			reason := payload.Reason
			if reason == "" {
				reason = "Best balance between information and entertainment"
			}
			return aud, reason
		}
	}
	return FallbackRecommendation(variants)
}

// FallbackRecommendation prefers middle_aged and otherwise the first variant.
func FallbackRecommendation(variants []model.ScriptVariant) (model.AudienceType, string) {
	if hasVariant(variants, model.AudienceMiddleAged) || len(variants) == 0 {
		return model.AudienceMiddleAged, FallbackRecommendationReason
	}
	return variants[0].Audience, FallbackRecommendationReason
}

func hasVariant(variants []model.ScriptVariant, aud model.AudienceType) bool {
	for _, v := range variants {
		if v.Audience == aud {
			return true
		}
	}
	return false
}

// DataQuality grades findings by collector warnings and source count.
func DataQuality(sourceCount int, warnings []string) string {
	if len(warnings) == 0 {
		return DataQualityFull
	}
	if sourceCount > 0 {
		return DataQualityPartial
	}
	return DataQualityFallback
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
