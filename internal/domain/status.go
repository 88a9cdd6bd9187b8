package domain

import (
	"sort"
)

// RequiredSet maps each job type to whether it gates publication
type RequiredSet map[JobType]bool

// DefaultRequiredSet returns the default publication requirements
func DefaultRequiredSet() RequiredSet {
	return RequiredSet{
		JobTypeTranscode:     true,
		JobTypeThumbnail:     true,
		JobTypeTranscription: false,
		JobTypeHLSGeneration: true,
	}
}

// NewRequiredSet marks the given types required and every other known type optional.
func NewRequiredSet(required []JobType) RequiredSet {
	set := make(RequiredSet, len(AllJobTypes()))
	for _, t := range AllJobTypes() {
		set[t] = false
	}
	for _, t := range required {
		set[t] = true
	}
	return set
}

// Required returns the required job types in canonical order.
func (r RequiredSet) Required() []JobType {
	var out []JobType
	for _, t := range AllJobTypes() {
		if r[t] {
			out = append(out, t)
		}
	}
	return out
}

// LatestByType picks the most recent job of each type, ordered by attempt then creation time.
func LatestByType(jobs []*ProcessingJob) map[JobType]*ProcessingJob {
	latest := make(map[JobType]*ProcessingJob)
	for _, j := range jobs {
		cur, ok := latest[j.JobType]
		if !ok || newer(j, cur) {
			latest[j.JobType] = j
		}
	}
	return latest
}

func newer(a, b *ProcessingJob) bool {
	if a.Attempt != b.Attempt {
		return a.Attempt > b.Attempt
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// ComputeProcessingStatus derives a clip's processing status from its full job set.
func ComputeProcessingStatus(jobs []*ProcessingJob, required RequiredSet) ProcessingStatus {
	latest := LatestByType(jobs)
	reqTypes := required.Required()

	for _, t := range reqTypes {
		if j, ok := latest[t]; ok && j.Status == JobStatusFailed {
			return ProcessingFailed
		}
	}
	for _, t := range reqTypes {
		if j, ok := latest[t]; ok && j.Status == JobStatusCancelled {
			return ProcessingCancelled
		}
	}

	allDone := true
	for _, t := range reqTypes {
		j, ok := latest[t]
		if !ok || j.Status != JobStatusCompleted {
			allDone = false
			break
		}
	}
	if allDone {
		return ProcessingCompleted
	}

	for _, j := range latest {
		if j.Status == JobStatusRunning || j.Status == JobStatusCompleted {
			return ProcessingInProgress
		}
	}
	return ProcessingPending
}

// UnmetRequirements lists every required type whose latest job has not completed.
func UnmetRequirements(jobs []*ProcessingJob, required RequiredSet) []UnmetRequirement {
	latest := LatestByType(jobs)
	var unmet []UnmetRequirement
	for _, t := range required.Required() {
		j, ok := latest[t]
		if !ok {
			unmet = append(unmet, UnmetRequirement{JobType: t, Reason: UnmetMissing})
			continue
		}
		switch j.Status {
		case JobStatusCompleted:
		case JobStatusFailed:
			unmet = append(unmet, UnmetRequirement{JobType: t, Reason: UnmetFailed})
		case JobStatusCancelled:
			unmet = append(unmet, UnmetRequirement{JobType: t, Reason: UnmetCancelled})
		case JobStatusRunning:
			unmet = append(unmet, UnmetRequirement{JobType: t, Reason: UnmetRunning})
		default:
			unmet = append(unmet, UnmetRequirement{JobType: t, Reason: UnmetQueued})
		}
	}
	return unmet
}

// DerivedMedia collects media fields a clip gains from completed jobs
type DerivedMedia struct {
	MP4Path          *string
	HLSPlaylistPath  *string
	ThumbnailPath    *string
	ResolutionWidth  *int
	ResolutionHeight *int
	Bitrate          *int64
}

// DeriveMedia reads outputs of the latest completed job of each type.
// Paths stay nil until the producing job completes.
func DeriveMedia(jobs []*ProcessingJob) DerivedMedia {
	completed := make([]*ProcessingJob, 0, len(jobs))
	for _, j := range jobs {
		if j.Status == JobStatusCompleted && j.Outputs != nil {
			completed = append(completed, j)
		}
	}
	sort.SliceStable(completed, func(i, k int) bool { return newer(completed[k], completed[i]) })

	var m DerivedMedia
	for _, j := range completed {
		o := j.Outputs
		switch j.JobType {
		case JobTypeTranscode:
			if o.MP4Path != nil {
				m.MP4Path = cloneString(o.MP4Path)
			}
			if o.Width != nil {
				w := *o.Width
				m.ResolutionWidth = &w
			}
			if o.Height != nil {
				h := *o.Height
				m.ResolutionHeight = &h
			}
			if o.Bitrate != nil {
				b := *o.Bitrate
				m.Bitrate = &b
			}
		case JobTypeThumbnail:
			if o.ThumbnailPath != nil {
				m.ThumbnailPath = cloneString(o.ThumbnailPath)
			}
		case JobTypeHLSGeneration:
			if o.HLSPlaylistPath != nil {
				m.HLSPlaylistPath = cloneString(o.HLSPlaylistPath)
			}
		}
	}
	return m
}

// Apply copies derived media onto the clip, leaving fields without a source untouched.
func (m DerivedMedia) Apply(c *Clip) {
	if m.MP4Path != nil {
		c.MP4Path = m.MP4Path
	}
	if m.HLSPlaylistPath != nil {
		c.HLSPlaylistPath = m.HLSPlaylistPath
	}
	if m.ThumbnailPath != nil {
		c.ThumbnailPath = m.ThumbnailPath
	}
	if m.ResolutionWidth != nil {
		c.ResolutionWidth = m.ResolutionWidth
	}
	if m.ResolutionHeight != nil {
		c.ResolutionHeight = m.ResolutionHeight
	}
	if m.Bitrate != nil {
		c.Bitrate = m.Bitrate
	}
}
