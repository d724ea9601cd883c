// Package timeline assembles generated segments into a multi-track timeline
// and validates timelines submitted as edits.
package timeline

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/podforge/api/internal/apperr"
	"github.com/podforge/api/internal/model"
)

const (
	SampleRate = 44100
	BitDepth   = 16

	// Epsilon absorbs float noise from JSON round trips.
	Epsilon = 1e-3

	SpeechTrackID = "track_speech"
	MusicTrackID  = "track_music"
	SFXTrackID    = "track_sfx"
)

// EstimateDuration returns the speaking time of text at wordsPerMinute.
func EstimateDuration(text string, wordsPerMinute int) float64 {
	if wordsPerMinute <= 0 {
		wordsPerMinute = 150
	}
	words := len(strings.Fields(text))
	return float64(words) * 60 / float64(wordsPerMinute)
}

// Assemble builds a timeline from the ready segments, laid end to end on the
// speech track in sequence order. Segments in error are left out. Music and
// sfx tracks start empty.
func Assemble(productionJobID string, segments []model.Segment) model.Timeline {
	ready := make([]model.Segment, 0, len(segments))
	for _, s := range segments {
		if s.Status == model.SegmentStatusReady {
			ready = append(ready, s)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		return ready[i].SequenceNumber < ready[j].SequenceNumber
	})

	cursor := 0.0
	for i := range ready {
		ready[i].Type = model.TrackTypeSpeech
		ready[i].StartTime = cursor
		ready[i].EndTime = cursor + ready[i].Duration
		if ready[i].Volume == 0 {
			ready[i].Volume = 1.0
		}
		cursor = ready[i].EndTime
	}

	tl := model.Timeline{
		ProductionJobID: productionJobID,
		Tracks: []model.Track{
			{ID: SpeechTrackID, Name: "Speech", Type: model.TrackTypeSpeech, Number: 1, Segments: ready, Volume: 1.0},
			{ID: MusicTrackID, Name: "Music", Type: model.TrackTypeMusic, Number: 2, Segments: []model.Segment{}, Volume: 0.3},
			{ID: SFXTrackID, Name: "Sound Effects", Type: model.TrackTypeSFX, Number: 3, Segments: []model.Segment{}, Volume: 0.5},
		},
		SampleRate: SampleRate,
		BitDepth:   BitDepth,
	}
	tl.TotalDuration = MaxEnd(tl)
	return tl
}

// MaxEnd returns the latest end time across all tracks, 0 when empty.
func MaxEnd(tl model.Timeline) float64 {
	end := 0.0
	for _, tr := range tl.Tracks {
		for _, s := range tr.Segments {
			end = math.Max(end, s.EndTime)
		}
	}
	return end
}

// Validate checks an edited timeline. Segment end times must match start plus
// duration, tracks that do not layer must not overlap, and the total duration
// must equal the latest end time.
func Validate(tl model.Timeline) error {
	if len(tl.Tracks) == 0 {
		return apperr.ValidationField("tracks", "timeline requires at least one track")
	}

	seenTracks := make(map[string]bool, len(tl.Tracks))
	seenSegments := make(map[string]bool)
	for _, tr := range tl.Tracks {
		if seenTracks[tr.ID] {
			return apperr.ValidationField("tracks", fmt.Sprintf("duplicate track id %s", tr.ID))
		}
		seenTracks[tr.ID] = true

		for _, s := range tr.Segments {
			if s.ID != "" {
				if seenSegments[s.ID] {
					return apperr.ValidationField("segments", fmt.Sprintf("segment %s appears twice", s.ID))
				}
				seenSegments[s.ID] = true
			}
			if s.StartTime < 0 || s.Duration < 0 {
				return apperr.ValidationField("segments", fmt.Sprintf("segment %s has negative timing", s.ID))
			}
			if math.Abs(s.StartTime+s.Duration-s.EndTime) > Epsilon {
				return apperr.ValidationField("segments", fmt.Sprintf("segment %s: end_time %.3f != start_time + duration %.3f", s.ID, s.EndTime, s.StartTime+s.Duration))
			}
		}

		if !tr.Type.AllowsLayering() {
			if err := checkOverlap(tr); err != nil {
				return err
			}
		}
	}

	if end := MaxEnd(tl); math.Abs(tl.TotalDuration-end) > Epsilon {
		return apperr.ValidationField("total_duration", fmt.Sprintf("total_duration %.3f does not match the latest track end %.3f", tl.TotalDuration, end))
	}
	return nil
}

func checkOverlap(tr model.Track) error {
	segs := append([]model.Segment(nil), tr.Segments...)
	sort.SliceStable(segs, func(i, j int) bool {
		return segs[i].StartTime < segs[j].StartTime
	})
	for i := 1; i < len(segs); i++ {
		if segs[i].StartTime < segs[i-1].EndTime-Epsilon {
			return apperr.ValidationField("segments", fmt.Sprintf("segments %s and %s overlap on track %s", segs[i-1].ID, segs[i].ID, tr.ID))
		}
	}
	return nil
}

// SpeechSegments returns the speech segments of tl ordered by start time,
// skipping muted tracks. Solo on any speech track limits output to soloed tracks.
func SpeechSegments(tl model.Timeline) []model.Segment {
	solo := false
	for _, tr := range tl.Tracks {
		if tr.Type == model.TrackTypeSpeech && tr.Solo {
			solo = true
		}
	}
	var out []model.Segment
	for _, tr := range tl.Tracks {
		if tr.Type != model.TrackTypeSpeech || tr.Muted || (solo && !tr.Solo) {
			continue
		}
		out = append(out, tr.Segments...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime < out[j].StartTime
	})
	return out
}

// PinArtifacts binds every segment of tl to the generated segment with the
// same ID, copying its stored artifact location and status. Segments that
// name an artifact must match a generated segment and its location exactly.
// Speech segments must always match one.
func PinArtifacts(tl model.Timeline, generated []model.Segment) (model.Timeline, error) {
	byID := make(map[string]model.Segment, len(generated))
	for _, s := range generated {
		byID[s.ID] = s
	}

	tracks := make([]model.Track, len(tl.Tracks))
	for i, tr := range tl.Tracks {
		segs := make([]model.Segment, len(tr.Segments))
		for k, s := range tr.Segments {
			stored, ok := byID[s.ID]
			switch {
			case !ok && (tr.Type == model.TrackTypeSpeech || s.ArtifactLocation != ""):
				return tl, apperr.ValidationField("segments", fmt.Sprintf("segment %q is not a generated segment of this job", s.ID))
			case ok && s.ArtifactLocation != "" && s.ArtifactLocation != stored.ArtifactLocation:
				return tl, apperr.ValidationField("artifact_location", fmt.Sprintf("segment %s: artifact_location cannot be changed", s.ID))
			case ok:
				s.ArtifactLocation = stored.ArtifactLocation
				s.Status = stored.Status
			}
			segs[k] = s
		}
		tr.Segments = segs
		tracks[i] = tr
	}
	tl.Tracks = tracks
	return tl, nil
}
