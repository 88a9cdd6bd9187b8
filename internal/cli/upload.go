package cli

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tvoe/cliphub/internal/domain"
	"github.com/tvoe/cliphub/internal/intake"
)

var uploadFlags struct {
	title       string
	description string
	duration    float64
	tags        []string
	machine     string
	process     string
	tooling     string
	skill       string
	mimeType    string
	public      bool
	watch       bool
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Create a clip and upload its video",
	Long: `Create a clip from metadata, upload the file to the presigned location and
confirm the upload so the transcode job starts.

Examples:
  clipctl upload taper.mp4 --title "Boring a taper" --duration 18 --tag lathe
  clipctl upload taper.mp4 --title "Boring a taper" --duration 18 --watch`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	f := uploadCmd.Flags()
	f.StringVar(&uploadFlags.title, "title", "", "clip title (required)")
	f.StringVar(&uploadFlags.description, "description", "", "clip description")
	f.Float64Var(&uploadFlags.duration, "duration", 0, "clip duration in seconds (required)")
	f.StringSliceVar(&uploadFlags.tags, "tag", nil, "tag, repeatable")
	f.StringVar(&uploadFlags.machine, "machine", "", "machine shown in the clip")
	f.StringVar(&uploadFlags.process, "process", "", "machining process")
	f.StringVar(&uploadFlags.tooling, "tooling", "", "tooling used")
	f.StringVar(&uploadFlags.skill, "skill", "", "beginner, intermediate or advanced")
	f.StringVar(&uploadFlags.mimeType, "mime-type", "", "override the detected video type")
	f.BoolVar(&uploadFlags.public, "public", false, "make the clip public once published")
	f.BoolVar(&uploadFlags.watch, "watch", false, "follow the transcode job until it finishes")
	_ = uploadCmd.MarkFlagRequired("title")
	_ = uploadCmd.MarkFlagRequired("duration")
}

func runUpload(cmd *cobra.Command, args []string) error {
	path := args[0]
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	mimeType := uploadFlags.mimeType
	if mimeType == "" {
		mimeType = detectMimeType(path)
	}
	if !domain.IsMimeTypeSupported(mimeType) {
		return fmt.Errorf("cannot upload %q: unsupported video type %q (use --mime-type)", path, mimeType)
	}

	req := intake.Request{
		Metadata: intake.Metadata{
			Title:           uploadFlags.title,
			Description:     optional(uploadFlags.description),
			DurationSeconds: uploadFlags.duration,
			Machine:         optional(uploadFlags.machine),
			Process:         optional(uploadFlags.process),
			Tooling:         optional(uploadFlags.tooling),
			Tags:            uploadFlags.tags,
			IsPublic:        uploadFlags.public,
		},
		File: intake.FileInfo{
			Filename:  filepath.Base(path),
			SizeBytes: info.Size(),
			MimeType:  mimeType,
		},
	}
	if uploadFlags.skill != "" {
		level := domain.SkillLevel(uploadFlags.skill)
		req.Metadata.SkillLevel = &level
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	res, err := apiClient.CreateClip(ctx, req)
	if err != nil {
		return fmt.Errorf("create clip: %w", err)
	}
	fmt.Fprintf(out, "Clip %s created\n", res.ClipID)

	if err := apiClient.Upload(ctx, res.Upload, file, info.Size()); err != nil {
		return err
	}
	job, err := apiClient.ConfirmUpload(ctx, res.ClipID)
	if err != nil {
		return fmt.Errorf("confirm upload: %w", err)
	}
	fmt.Fprintf(out, "Uploaded %s, transcode job %s is %s\n", filepath.Base(path), job.ID, job.Status)

	if !uploadFlags.watch {
		return nil
	}
	return watchJob(cmd.Context(), job.ID, watchOptions())
}

var videoExtensions = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
}

// detectMimeType prefers the known video extensions over the system table,
// which is often missing on minimal hosts.
func detectMimeType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := videoExtensions[ext]; ok {
		return t
	}
	t, _, _ := strings.Cut(mime.TypeByExtension(ext), ";")
	return t
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
