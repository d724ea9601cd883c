package model

// Research job status
type ResearchStatus string

const (
	ResearchStatusPending     ResearchStatus = "pending"
	ResearchStatusResearching ResearchStatus = "researching"
	ResearchStatusGenerating  ResearchStatus = "generating"
	ResearchStatusCompleted   ResearchStatus = "completed"
	ResearchStatusFailed      ResearchStatus = "failed"
)

// Production job status
type ProductionStatus string

const (
	ProductionStatusVoiceAssignment    ProductionStatus = "voice_assignment"
	ProductionStatusGeneratingSegments ProductionStatus = "generating_segments"
	ProductionStatusReadyForEditing    ProductionStatus = "ready_for_editing"
	ProductionStatusEditing            ProductionStatus = "editing"
	ProductionStatusExporting          ProductionStatus = "exporting"
	ProductionStatusCompleted          ProductionStatus = "completed"
	ProductionStatusFailed             ProductionStatus = "failed"
)

// Segment status
type SegmentStatus string

const (
	SegmentStatusPending    SegmentStatus = "pending"
	SegmentStatusGenerating SegmentStatus = "generating"
	SegmentStatusReady      SegmentStatus = "ready"
	SegmentStatusError      SegmentStatus = "error"
)

// Track types
type TrackType string

const (
	TrackTypeSpeech TrackType = "speech"
	TrackTypeMusic  TrackType = "music"
	TrackTypeSFX    TrackType = "sfx"
)

// AllowsLayering reports whether segments on the track may overlap in time.
func (t TrackType) AllowsLayering() bool {
	return t == TrackTypeMusic || t == TrackTypeSFX
}

// Audience types for script variants
type AudienceType string

const (
	AudienceYoung      AudienceType = "young"
	AudienceMiddleAged AudienceType = "middle_aged"
	AudienceScientific AudienceType = "scientific"
)

var ValidAudiences = []AudienceType{
	AudienceYoung, AudienceMiddleAged, AudienceScientific,
}

// IsValid reports whether a is one of the known audiences.
func (a AudienceType) IsValid() bool {
	for _, v := range ValidAudiences {
		if a == v {
			return true
		}
	}
	return false
}

// Character roles
type CharacterRole string

const (
	CharacterRoleHost     CharacterRole = "host"
	CharacterRoleGuest    CharacterRole = "guest"
	CharacterRoleListener CharacterRole = "listener"
)

// Export formats
type ExportFormat string

const (
	ExportFormatMP3 ExportFormat = "mp3"
	ExportFormatWAV ExportFormat = "wav"
)

// Export quality levels
type ExportQuality string

const (
	ExportQualityLow    ExportQuality = "low"
	ExportQualityMedium ExportQuality = "medium"
	ExportQualityHigh   ExportQuality = "high"
)

// Bitrate returns the MP3 bitrate in kbps for the quality level.
func (q ExportQuality) Bitrate() int {
	switch q {
	case ExportQualityLow:
		return 128
	case ExportQualityMedium:
		return 192
	default:
		return 320
	}
}

// Job kinds
const (
	JobKindResearch   = "research"
	JobKindProduction = "production"
)
