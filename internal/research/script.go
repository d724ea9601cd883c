// Package research holds the pure steps of the research stage: characters,
// prompts, source collection, analysis parsing and script parsing.
package research

import (
	"fmt"
	"strings"

	"github.com/podforge/api/internal/model"
)

const UnknownSpeaker = "unknown"

var guestNames = []string{"Dr. Sarah", "Michael", "Prof. Klein", "Emma"}

var guestPersonalities = []string{
	"scientifically precise but approachable",
	"hands-on practitioner and storyteller",
	"academically grounded and critical",
	"innovative and visionary",
}

// BuildCharacters returns the host, numGuests guests and the optional listener.
// Dominance is fixed per seat so repeated runs produce the same cast.
func BuildCharacters(numGuests int, includeListener bool) []model.Character {
	chars := []model.Character{{
		ID:          "host_1",
		Name:        "Alex",
		Role:        model.CharacterRoleHost,
		Personality: "curious and witty, a skilled moderator",
		SpeechStyle: "relaxed and inviting",
		Dominance:   0.4,
	}}
	for i := 0; i < numGuests; i++ {
		chars = append(chars, model.Character{
			ID:          fmt.Sprintf("guest_%d", i+1),
			Name:        guestNames[i%len(guestNames)],
			Role:        model.CharacterRoleGuest,
			Personality: guestPersonalities[i%len(guestPersonalities)],
			SpeechStyle: "informative but entertaining",
			Dominance:   0.45 + 0.05*float64(i%3),
		})
	}
	if includeListener {
		chars = append(chars, model.Character{
			ID:          "listener_1",
			Name:        "Listener Question",
			Role:        model.CharacterRoleListener,
			Personality: "curious, brings an outside view",
			SpeechStyle: "questioning and interested",
			Dominance:   0.15,
		})
	}
	return chars
}

// SpeakerNames returns the character names in cast order.
func SpeakerNames(chars []model.Character) []string {
	names := make([]string, len(chars))
	for i, c := range chars {
		names[i] = c.Name
	}
	return names
}

// ParseScript splits generator output into conversation segments. Only
// "Speaker: text" lines count; blank lines, stage directions in brackets and
// markdown headings are skipped. The speaker is the first character whose
// name appears in the label, ignoring case.
func ParseScript(script string, chars []model.Character, wordsPerMinute int) []model.ConversationSegment {
	if wordsPerMinute <= 0 {
		wordsPerMinute = 150
	}
	wordsPerSecond := float64(wordsPerMinute) / 60

	var segments []model.ConversationSegment
	for _, line := range strings.Split(script, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "[") || strings.HasPrefix(line, "#") {
			continue
		}
		label, text, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		label = strings.Trim(strings.TrimSpace(label), "*")
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		segments = append(segments, model.ConversationSegment{
			SequenceNumber:   len(segments) + 1,
			SpeakerID:        matchSpeaker(label, chars),
			SpeakerName:      label,
			Text:             text,
			DurationEstimate: float64(len(strings.Fields(text))) / wordsPerSecond,
		})
	}
	return segments
}

func matchSpeaker(label string, chars []model.Character) string {
	lower := strings.ToLower(label)
	for _, c := range chars {
		if strings.Contains(lower, strings.ToLower(c.Name)) {
			return c.ID
		}
	}
	return UnknownSpeaker
}

// NewVariant builds the script variant for audience from raw generator output.
func NewVariant(topic string, audience model.AudienceType, script string, chars []model.Character, targetMinutes, wordsPerMinute int) model.ScriptVariant {
	segments := ParseScript(script, chars, wordsPerMinute)
	return model.ScriptVariant{
		Audience:             audience,
		Title:                fmt.Sprintf("%s - %s", topic, AudienceLabel(audience)),
		Description:          fmt.Sprintf("Podcast for a %s audience", strings.ToLower(AudienceLabel(audience))),
		Tone:                 Tone(audience),
		Segments:             segments,
		TotalDurationMinutes: float64(targetMinutes),
		WordCount:            len(strings.Fields(script)),
		FullScript:           script,
	}
}

// AudienceLabel returns a display name such as "Middle Aged".
func AudienceLabel(a model.AudienceType) string {
	parts := strings.Split(string(a), "_")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, " ")
}

func Tone(a model.AudienceType) string {
	switch a {
	case model.AudienceYoung:
		return "casual, humorous, energetic"
	case model.AudienceMiddleAged:
		return "balanced, informative and entertaining"
	case model.AudienceScientific:
		return "precise, evidence-based, academic"
	}
	return "balanced"
}
