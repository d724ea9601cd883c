package research

import (
	"fmt"
	"strings"

	"github.com/podforge/api/internal/model"
)

const researcherSystem = `You are a meticulous podcast researcher.
Always answer with valid JSON in the exact format requested.
Do not include any text outside the JSON structure.`

const scriptwriterSystem = `You are an award-winning podcast scriptwriter.
Write natural, lively dialogue. Every spoken line must start with the speaker name followed by a colon.
Stage directions go in square brackets on their own line.`

// ScriptSystem returns the system prompt for scripts.
func ScriptSystem() string { return scriptwriterSystem }

// ResearcherSystem returns the system prompt for JSON research tasks.
func ResearcherSystem() string { return researcherSystem }

func SourcesPrompt(topic string) string {
	return fmt.Sprintf(`Topic: %s

List up to 5 background sources a podcast team should know about this topic.
Output as JSON: {"sources": [{"title": "...", "url": "...", "summary": "...", "key_insights": ["..."], "credibility": 0.0-1.0}]}`, topic)
}

func AnalysisPrompt(topic string, sources []model.ResearchSource) string {
	var b strings.Builder
	for _, s := range sources {
		insights := s.KeyInsights
		if len(insights) > 3 {
			insights = insights[:3]
		}
		fmt.Fprintf(&b, "[%s] %s\n%s\nKey points: %s\n\n", strings.ToUpper(s.SourceType), s.Title, s.Summary, strings.Join(insights, ", "))
	}

	return fmt.Sprintf(`Topic: %s

Sources:
%s
Analyze the sources for a podcast episode.
Output as JSON: {"key_findings": ["..."], "structure": ["Intro", "..."], "quality_score": 0-10}`, topic, b.String())
}

// ScriptPrompt asks for one audience's script.
func ScriptPrompt(req model.ResearchRequest, findings model.ResearchFindings, audience model.AudienceType, chars []model.Character) string {
	var cast strings.Builder
	for _, c := range chars {
		fmt.Fprintf(&cast, "- %s (%s): %s; speaks %s\n", c.Name, c.Role, c.Personality, c.SpeechStyle)
	}

	findingsList := findings.KeyFindings
	if len(findingsList) > 10 {
		findingsList = findingsList[:10]
	}

	spontaneity := "Keep the conversation focused."
	if req.SpontaneousDeviations {
		spontaneity = fmt.Sprintf("Allow spontaneous digressions (randomness %.1f) and mark them with [SPONTANEOUS].", req.RandomnessLevel)
	}

	return fmt.Sprintf(`Topic: %s
Audience: %s
Tone: %s
Duration: %d minutes

Cast:
%s
Key findings:
- %s

Structure:
- %s

%s
Write the full script.`,
		req.Topic,
		audience,
		Tone(audience),
		req.TargetDurationMinutes,
		cast.String(),
		strings.Join(findingsList, "\n- "),
		strings.Join(findings.SuggestedStructure, "\n- "),
		spontaneity,
	)
}

func RecommendationPrompt(topic string, variants []model.ScriptVariant) string {
	var b strings.Builder
	for _, v := range variants {
		fmt.Fprintf(&b, "%s:\nTone: %s\nWords: %d\nSegments: %d\n\n", v.Audience, v.Tone, v.WordCount, len(v.Segments))
	}
	return fmt.Sprintf(`Topic: %s

Variants:
%s
Which variant fits the topic best?
Output as JSON: {"recommended": "young|middle_aged|scientific", "reason": "..."}`, topic, b.String())
}
