package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podforge/api/internal/apperr"
	"github.com/podforge/api/internal/model"
)

func seg(id string, seq int, duration float64, status model.SegmentStatus) model.Segment {
	return model.Segment{ID: id, SequenceNumber: seq, Duration: duration, Status: status}
}

func TestEstimateDuration(t *testing.T) {
	assert.InDelta(t, 2.0, EstimateDuration("one two three four five", 150), 1e-9)
	assert.Equal(t, 0.0, EstimateDuration("   ", 150))
	assert.InDelta(t, 1.0, EstimateDuration("a b", 120), 1e-9)
}

func TestAssemble_ContiguousSpeechTrack(t *testing.T) {
	segments := []model.Segment{
		seg("c", 3, 1.5, model.SegmentStatusReady),
		seg("a", 1, 2.0, model.SegmentStatusReady),
		seg("b", 2, 0.5, model.SegmentStatusReady),
	}
	tl := Assemble("p1", segments)

	require.Len(t, tl.Tracks, 3)
	speech := tl.Tracks[0]
	assert.Equal(t, model.TrackTypeSpeech, speech.Type)
	require.Len(t, speech.Segments, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{speech.Segments[0].ID, speech.Segments[1].ID, speech.Segments[2].ID})

	assert.Equal(t, 0.0, speech.Segments[0].StartTime)
	for i := 1; i < len(speech.Segments); i++ {
		assert.Equal(t, speech.Segments[i-1].EndTime, speech.Segments[i].StartTime)
	}
	assert.InDelta(t, 4.0, tl.TotalDuration, 1e-9)
	assert.Empty(t, tl.Tracks[1].Segments)
	assert.Empty(t, tl.Tracks[2].Segments)
	assert.Equal(t, 0.3, tl.Tracks[1].Volume)
	assert.Equal(t, SampleRate, tl.SampleRate)
	assert.NoError(t, Validate(tl))
}

func TestAssemble_SkipsErroredSegments(t *testing.T) {
	segments := []model.Segment{
		seg("1", 1, 1, model.SegmentStatusReady),
		seg("2", 2, 10, model.SegmentStatusError),
		seg("3", 3, 2, model.SegmentStatusReady),
		seg("4", 4, 10, model.SegmentStatusError),
		seg("5", 5, 3, model.SegmentStatusReady),
	}
	tl := Assemble("p1", segments)

	speech := tl.Tracks[0].Segments
	require.Len(t, speech, 3)
	assert.InDelta(t, 6.0, tl.TotalDuration, 1e-9)
	assert.InDelta(t, 3.0, speech[2].StartTime, 1e-9)
}

func TestAssemble_Empty(t *testing.T) {
	tl := Assemble("p1", nil)
	assert.Equal(t, 0.0, tl.TotalDuration)
	assert.NoError(t, Validate(tl))
}

func TestValidate_RejectsTotalMismatch(t *testing.T) {
	tl := Assemble("p1", []model.Segment{seg("a", 1, 2, model.SegmentStatusReady)})
	tl.TotalDuration = 99
	err := Validate(tl)
	assert.True(t, apperr.IsValidation(err))
}

func TestValidate_RejectsSpeechOverlap(t *testing.T) {
	tl := Assemble("p1", []model.Segment{
		seg("a", 1, 2, model.SegmentStatusReady),
		seg("b", 2, 2, model.SegmentStatusReady),
	})
	tl.Tracks[0].Segments[1].StartTime = 1
	tl.Tracks[0].Segments[1].EndTime = 3
	tl.TotalDuration = 3
	assert.True(t, apperr.IsValidation(Validate(tl)))
}

func TestValidate_AllowsMusicLayering(t *testing.T) {
	tl := Assemble("p1", []model.Segment{seg("a", 1, 4, model.SegmentStatusReady)})
	tl.Tracks[1].Segments = []model.Segment{
		{ID: "m1", Type: model.TrackTypeMusic, StartTime: 0, Duration: 3, EndTime: 3},
		{ID: "m2", Type: model.TrackTypeMusic, StartTime: 1, Duration: 5, EndTime: 6},
	}
	tl.TotalDuration = 6
	assert.NoError(t, Validate(tl))
}

func TestValidate_RejectsBadEndTime(t *testing.T) {
	tl := Assemble("p1", []model.Segment{seg("a", 1, 2, model.SegmentStatusReady)})
	tl.Tracks[0].Segments[0].EndTime = 5
	tl.TotalDuration = 5
	assert.True(t, apperr.IsValidation(Validate(tl)))
}

func TestValidate_RejectsDuplicateTrack(t *testing.T) {
	tl := Assemble("p1", nil)
	tl.Tracks = append(tl.Tracks, tl.Tracks[0])
	assert.True(t, apperr.IsValidation(Validate(tl)))
}

func TestSpeechSegments_HonoursMuteAndSolo(t *testing.T) {
	tl := model.Timeline{Tracks: []model.Track{
		{ID: "s1", Type: model.TrackTypeSpeech, Segments: []model.Segment{{ID: "b", StartTime: 2}, {ID: "a", StartTime: 0}}},
		{ID: "s2", Type: model.TrackTypeSpeech, Muted: true, Segments: []model.Segment{{ID: "x"}}},
		{ID: "m", Type: model.TrackTypeMusic, Segments: []model.Segment{{ID: "music"}}},
	}}
	out := SpeechSegments(tl)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)

	tl.Tracks[1].Muted = false
	tl.Tracks[1].Solo = true
	out = SpeechSegments(tl)
	require.Len(t, out, 1)
	assert.Equal(t, "x", out[0].ID)
}

func TestPinArtifacts(t *testing.T) {
	generated := []model.Segment{
		{ID: "seg_001", Status: model.SegmentStatusReady, ArtifactLocation: "productions/p1/segments/seg_001.mp3"},
		{ID: "seg_002", Status: model.SegmentStatusError},
	}
	base := func() model.Timeline {
		return model.Timeline{Tracks: []model.Track{
			{ID: SpeechTrackID, Type: model.TrackTypeSpeech, Segments: []model.Segment{
				{ID: "seg_001"},
				{ID: "seg_002", Status: model.SegmentStatusReady},
			}},
			{ID: MusicTrackID, Type: model.TrackTypeMusic, Segments: []model.Segment{{ID: "bed"}}},
		}}
	}

	t.Run("fills stored values", func(t *testing.T) {
		in := base()
		pinned, err := PinArtifacts(in, generated)
		require.NoError(t, err)
		speech := pinned.Tracks[0].Segments
		assert.Equal(t, "productions/p1/segments/seg_001.mp3", speech[0].ArtifactLocation)
		assert.Equal(t, model.SegmentStatusReady, speech[0].Status)
		assert.Empty(t, speech[1].ArtifactLocation)
		assert.Equal(t, model.SegmentStatusError, speech[1].Status)
		assert.Empty(t, in.Tracks[0].Segments[0].ArtifactLocation)
	})

	t.Run("rejects foreign location", func(t *testing.T) {
		in := base()
		in.Tracks[0].Segments[0].ArtifactLocation = "research/r1/findings.json"
		_, err := PinArtifacts(in, generated)
		assert.True(t, apperr.IsValidation(err))
	})

	t.Run("rejects unknown speech segment", func(t *testing.T) {
		in := base()
		in.Tracks[0].Segments = append(in.Tracks[0].Segments, model.Segment{ID: "seg_999"})
		_, err := PinArtifacts(in, generated)
		assert.True(t, apperr.IsValidation(err))
	})

	t.Run("rejects located segment on other track", func(t *testing.T) {
		in := base()
		in.Tracks[1].Segments[0].ArtifactLocation = "productions/p2/export.mp3"
		_, err := PinArtifacts(in, generated)
		assert.True(t, apperr.IsValidation(err))
	})
}
