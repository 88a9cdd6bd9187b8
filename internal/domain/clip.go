package domain

import (
	"time"

	"github.com/google/uuid"
)

// LifecycleStatus is the editorial state of a clip
type LifecycleStatus string

const (
	LifecycleDraft     LifecycleStatus = "draft"
	LifecycleReview    LifecycleStatus = "review"
	LifecyclePublished LifecycleStatus = "published"
	LifecycleArchived  LifecycleStatus = "archived"
)

// Valid reports whether s is a known lifecycle status.
func (s LifecycleStatus) Valid() bool {
	switch s {
	case LifecycleDraft, LifecycleReview, LifecyclePublished, LifecycleArchived:
		return true
	}
	return false
}

var lifecycleTransitions = map[LifecycleStatus][]LifecycleStatus{
	LifecycleDraft:     {LifecycleReview, LifecyclePublished, LifecycleArchived},
	LifecycleReview:    {LifecycleDraft, LifecyclePublished, LifecycleArchived},
	LifecyclePublished: {LifecycleArchived},
	LifecycleArchived:  {LifecycleDraft},
}

// CanTransitionLifecycle reports whether a clip may move from one lifecycle status to another.
func CanTransitionLifecycle(from, to LifecycleStatus) bool {
	for _, next := range lifecycleTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ProcessingStatus is the aggregate state of a clip's processing jobs
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingInProgress ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingFailed     ProcessingStatus = "failed"
	ProcessingCancelled  ProcessingStatus = "cancelled"
)

// Valid reports whether s is a known processing status.
func (s ProcessingStatus) Valid() bool {
	switch s {
	case ProcessingPending, ProcessingInProgress, ProcessingCompleted, ProcessingFailed, ProcessingCancelled:
		return true
	}
	return false
}

// SkillLevel describes the audience a clip targets
type SkillLevel string

const (
	SkillBeginner     SkillLevel = "beginner"
	SkillIntermediate SkillLevel = "intermediate"
	SkillAdvanced     SkillLevel = "advanced"
)

// Counter names an increment-only clip counter
type Counter string

const (
	CounterViews     Counter = "view_count"
	CounterDownloads Counter = "download_count"
	CounterBookmarks Counter = "bookmark_count"
)

// Valid reports whether c names a known counter.
func (c Counter) Valid() bool {
	return c == CounterViews || c == CounterDownloads || c == CounterBookmarks
}

// Clip is an uploaded short video with its metadata and derived media
type Clip struct {
	ID              uuid.UUID   `json:"id" db:"id"`
	OwnerID         uuid.UUID   `json:"owner_id" db:"owner_id"`
	OrganizationID  *uuid.UUID  `json:"organization_id,omitempty" db:"organization_id"`
	Title           string      `json:"title" db:"title"`
	Description     *string     `json:"description,omitempty" db:"description"`
	DurationSeconds float64     `json:"duration_seconds" db:"duration_seconds"`
	Machine         *string     `json:"machine,omitempty" db:"machine"`
	Process         *string     `json:"process,omitempty" db:"process"`
	Tooling         *string     `json:"tooling,omitempty" db:"tooling"`
	SkillLevel      *SkillLevel `json:"skill_level,omitempty" db:"skill_level"`
	Tags            []string    `json:"tags" db:"tags"`
	IsPublic        bool        `json:"is_public" db:"is_public"`

	OriginalFilename string `json:"original_filename" db:"original_filename"`
	FileSizeBytes    int64  `json:"file_size_bytes" db:"file_size_bytes"`
	MimeType         string `json:"mime_type" db:"mime_type"`

	OriginalPath    *string `json:"original_path,omitempty" db:"original_path"`
	HLSPlaylistPath *string `json:"hls_playlist_path,omitempty" db:"hls_playlist_path"`
	MP4Path         *string `json:"mp4_path,omitempty" db:"mp4_path"`
	ThumbnailPath   *string `json:"thumbnail_path,omitempty" db:"thumbnail_path"`

	ResolutionWidth  *int   `json:"resolution_width,omitempty" db:"resolution_width"`
	ResolutionHeight *int   `json:"resolution_height,omitempty" db:"resolution_height"`
	Bitrate          *int64 `json:"bitrate,omitempty" db:"bitrate"`

	Status           LifecycleStatus  `json:"status" db:"status"`
	ProcessingStatus ProcessingStatus `json:"processing_status" db:"processing_status"`

	ViewCount     int64 `json:"view_count" db:"view_count"`
	DownloadCount int64 `json:"download_count" db:"download_count"`
	BookmarkCount int64 `json:"bookmark_count" db:"bookmark_count"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	PublishedAt *time.Time `json:"published_at,omitempty" db:"published_at"`
	LockVersion int        `json:"-" db:"lock_version"`
}

// Clone returns a deep copy of the clip.
func (c *Clip) Clone() *Clip {
	if c == nil {
		return nil
	}
	out := *c
	if c.OrganizationID != nil {
		org := *c.OrganizationID
		out.OrganizationID = &org
	}
	out.Description = cloneString(c.Description)
	out.Machine = cloneString(c.Machine)
	out.Process = cloneString(c.Process)
	out.Tooling = cloneString(c.Tooling)
	if c.SkillLevel != nil {
		lvl := *c.SkillLevel
		out.SkillLevel = &lvl
	}
	out.Tags = append([]string(nil), c.Tags...)
	out.OriginalPath = cloneString(c.OriginalPath)
	out.HLSPlaylistPath = cloneString(c.HLSPlaylistPath)
	out.MP4Path = cloneString(c.MP4Path)
	out.ThumbnailPath = cloneString(c.ThumbnailPath)
	if c.ResolutionWidth != nil {
		w := *c.ResolutionWidth
		out.ResolutionWidth = &w
	}
	if c.ResolutionHeight != nil {
		h := *c.ResolutionHeight
		out.ResolutionHeight = &h
	}
	if c.Bitrate != nil {
		b := *c.Bitrate
		out.Bitrate = &b
	}
	out.PublishedAt = cloneTime(c.PublishedAt)
	return &out
}

// HasTag reports whether the clip carries tag.
func (c *Clip) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// NormalizeTags trims duplicates and empty values while keeping first-seen order.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// SupportedMimeTypes lists accepted upload containers
var SupportedMimeTypes = map[string]bool{
	"video/mp4":        true,
	"video/quicktime":  true,
	"video/webm":       true,
	"video/x-matroska": true,
	"video/x-msvideo":  true,
}

// IsMimeTypeSupported checks if an upload MIME type is accepted
func IsMimeTypeSupported(mime string) bool {
	return SupportedMimeTypes[mime]
}

// UploadTarget is a presigned destination the client writes the raw file to
type UploadTarget struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	Key       string            `json:"key"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// UploadPrefix is the object prefix holding a clip's raw upload
func UploadPrefix(ownerID, clipID uuid.UUID) string {
	return "uploads/" + ownerID.String() + "/" + clipID.String() + "/"
}

// ProcessedPrefix is the object prefix holding a clip's processing outputs
func ProcessedPrefix(clipID uuid.UUID) string {
	return "processed/" + clipID.String() + "/"
}
