package research

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podforge/api/internal/generator"
	"github.com/podforge/api/internal/model"
)

func TestBuildCharacters(t *testing.T) {
	chars := BuildCharacters(2, true)
	require.Len(t, chars, 4)
	assert.Equal(t, "host_1", chars[0].ID)
	assert.Equal(t, "Alex", chars[0].Name)
	assert.Equal(t, "guest_1", chars[1].ID)
	assert.Equal(t, "Dr. Sarah", chars[1].Name)
	assert.Equal(t, "Michael", chars[2].Name)
	assert.Equal(t, model.CharacterRoleListener, chars[3].Role)

	assert.Len(t, BuildCharacters(0, false), 1)
}

func TestParseScript(t *testing.T) {
	chars := BuildCharacters(1, false)
	script := `# Episode title
[Intro music]

Alex: Welcome everyone to the show.
**Dr. Sarah**: Thanks Alex, glad to be here.
Narrator: Meanwhile somewhere else.
Just a line without a speaker
Alex:
`
	segs := ParseScript(script, chars, 150)
	require.Len(t, segs, 3)

	assert.Equal(t, 1, segs[0].SequenceNumber)
	assert.Equal(t, "host_1", segs[0].SpeakerID)
	assert.InDelta(t, 5/2.5, segs[0].DurationEstimate, 1e-9)

	assert.Equal(t, "guest_1", segs[1].SpeakerID)
	assert.Equal(t, "Dr. Sarah", segs[1].SpeakerName)

	assert.Equal(t, UnknownSpeaker, segs[2].SpeakerID)
	assert.Equal(t, 3, segs[2].SequenceNumber)
}

func TestNewVariant(t *testing.T) {
	v := NewVariant("renewable energy", model.AudienceMiddleAged, "Alex: one two three", BuildCharacters(0, false), 30, 150)
	assert.Equal(t, "renewable energy - Middle Aged", v.Title)
	assert.Equal(t, 4, v.WordCount)
	assert.Len(t, v.Segments, 1)
	assert.NotEmpty(t, v.FullScript)
	assert.Equal(t, 30.0, v.TotalDurationMinutes)
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, ExtractJSON("text\n```json\n{\"a\":1}\n```\nmore"))
	assert.Equal(t, `{"b":2}`, ExtractJSON("```\n{\"b\":2}\n```"))
	assert.Equal(t, `{"c":3}`, ExtractJSON(`prefix {"c":3} suffix`))
	assert.Equal(t, "plain", ExtractJSON(" plain "))
}

func TestParseAnalysis(t *testing.T) {
	f := model.ResearchFindings{Topic: "x"}
	ParseAnalysis("```json\n{\"key_findings\":[\"k1\"],\"quality_score\":12}\n```", &f)
	assert.Equal(t, []string{"k1"}, f.KeyFindings)
	assert.Equal(t, []string{"Intro", "Main discussion", "Outro"}, f.SuggestedStructure)
	assert.Equal(t, 10.0, f.QualityScore)
	assert.Empty(t, f.Warnings)

	f = model.ResearchFindings{Topic: "x", Sources: []model.ResearchSource{{Title: "S1"}}}
	ParseAnalysis("not json at all", &f)
	assert.Equal(t, []string{"Source: S1"}, f.KeyFindings)
	assert.Equal(t, 6.0, f.QualityScore)
	assert.Len(t, f.Warnings, 1)
}

func TestParseRecommendation(t *testing.T) {
	variants := []model.ScriptVariant{{Audience: model.AudienceYoung}, {Audience: model.AudienceScientific}}

	aud, reason := ParseRecommendation(`{"recommended":"Scientific","reason":"depth"}`, variants)
	assert.Equal(t, model.AudienceScientific, aud)
	assert.Equal(t, "depth", reason)

	// middle_aged was not generated, so the first variant wins
	aud, reason = ParseRecommendation(`{"recommended":"middle_aged"}`, variants)
	assert.Equal(t, model.AudienceYoung, aud)
	assert.Equal(t, FallbackRecommendationReason, reason)

	aud, _ = ParseRecommendation("garbage", append(variants, model.ScriptVariant{Audience: model.AudienceMiddleAged}))
	assert.Equal(t, model.AudienceMiddleAged, aud)
}

func TestDataQuality(t *testing.T) {
	assert.Equal(t, DataQualityFull, DataQuality(3, nil))
	assert.Equal(t, DataQualityPartial, DataQuality(1, []string{"w"}))
	assert.Equal(t, DataQualityFallback, DataQuality(0, []string{"w"}))
}

type failingCollector struct{}

func (failingCollector) Name() string { return "broken" }
func (failingCollector) Collect(ctx context.Context, topic string) ([]model.ResearchSource, error) {
	return nil, errors.New("down")
}

func TestCollect_DegradesOnCollectorFailure(t *testing.T) {
	sources, warnings, err := Collect(context.Background(), "solar", 10,
		BestPracticesCollector{},
		failingCollector{},
		GeneratorCollector{Generator: generator.NewMockGenerator()},
	)
	require.NoError(t, err)
	assert.Equal(t, "podcast", sources[0].SourceType)
	assert.Len(t, sources, 3)
	assert.Equal(t, []string{"broken research unavailable"}, warnings)
}

func TestCollect_LimitsSources(t *testing.T) {
	sources, _, err := Collect(context.Background(), "solar", 2,
		BestPracticesCollector{},
		GeneratorCollector{Generator: generator.NewMockGenerator()},
	)
	require.NoError(t, err)
	assert.Len(t, sources, 2)
}

func TestCollect_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Collect(ctx, "solar", 10, GeneratorCollector{Generator: generator.NewMockGenerator()})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWikipediaCollector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/rest_v1/page/summary/Solar_power":
			_, _ = w.Write([]byte(`{"title":"Solar power","extract":"Solar power is energy. It is renewable. It grows. It is cheap.","content_urls":{"desktop":{"page":"https://en.wikipedia.org/wiki/Solar_power"}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewWikipediaCollector(srv.URL)
	sources, err := c.Collect(context.Background(), "Solar power")
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "https://en.wikipedia.org/wiki/Solar_power", sources[0].URL)
	assert.Len(t, sources[0].KeyInsights, 3)

	sources, err = c.Collect(context.Background(), "Nothing here")
	require.NoError(t, err)
	assert.Empty(t, sources)
}
