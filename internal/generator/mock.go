package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// MockGenerator returns canned, deterministic text for development and tests.
type MockGenerator struct {
	// Fail, when set, can reject a call before any text is produced.
	Fail func(prompt string, c Constraints) error
}

func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

func (g *MockGenerator) Generate(ctx context.Context, prompt string, c Constraints) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if g.Fail != nil {
		if err := g.Fail(prompt, c); err != nil {
			return "", err
		}
	}

	topic := promptField(prompt, "Topic")
	if topic == "" {
		topic = "the topic"
	}

	switch c.Task {
	case TaskSources:
		return mockSources(topic), nil
	case TaskAnalysis:
		return mockAnalysis(topic), nil
	case TaskRecommendation:
		return "```json\n{\"recommended\": \"middle_aged\", \"reason\": \"Balanced depth and entertainment for a broad audience\"}\n```", nil
	case TaskScript:
		return mockScript(topic, promptField(prompt, "Audience"), c.Speakers), nil
	}
	return fmt.Sprintf("Notes on %s.", topic), nil
}

// promptField returns the value of a "Name: value" line in prompt.
func promptField(prompt, name string) string {
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, name+":") {
			return strings.TrimSpace(strings.TrimPrefix(line, name+":"))
		}
	}
	return ""
}

func mockSources(topic string) string {
	data, _ := json.Marshal(map[string]any{
		"sources": []map[string]any{
			{
				"title":        "Overview of " + topic,
				"summary":      "A broad introduction to " + topic + " and its current state.",
				"key_insights": []string{"Adoption is growing", "Costs keep falling", "Policy shapes the pace"},
				"credibility":  0.7,
			},
			{
				"title":        topic + " in everyday life",
				"summary":      "Practical examples of " + topic + " for listeners.",
				"key_insights": []string{"Small changes add up", "Local examples resonate"},
				"credibility":  0.6,
			},
		},
	})
	return string(data)
}

func mockAnalysis(topic string) string {
	data, _ := json.Marshal(map[string]any{
		"key_findings": []string{
			topic + " is changing quickly",
			"Experts disagree on the timeline",
			"Everyday impact is often underestimated",
		},
		"structure":     []string{"Intro", "Background", "Debate", "Practical tips", "Outro"},
		"quality_score": 8.0,
	})
	return "Here is the analysis:\n```json\n" + string(data) + "\n```"
}

func mockScript(topic, audience string, speakers []string) string {
	if len(speakers) == 0 {
		speakers = []string{"Alex"}
	}
	if audience == "" {
		audience = "general"
	}
	lines := []string{
		"Welcome to the show. Today we talk about %s.",
		"Thanks for having me. %s is something I think about a lot.",
		"Let's start with the basics. Why does %s matter right now?",
		"Because the pace of change around %s has surprised almost everyone.",
		"What would you tell a listener who is new to %s?",
		"Start small, stay curious and look at how %s shows up in daily life.",
		"That is a great place to wrap up our conversation on %s.",
		"Thanks for listening, and see you next time.",
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s (%s)\n\n", topic, audience)
	b.WriteString("[Intro music]\n")
	for i, line := range lines {
		speaker := speakers[i%len(speakers)]
		text := line
		if strings.Contains(line, "%s") {
			text = fmt.Sprintf(line, topic)
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, text)
	}
	return b.String()
}
