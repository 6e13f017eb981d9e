package cloudinary

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/rs/zerolog"
)

// Config contains credentials required to talk to Cloudinary.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// Enabled reports whether all credentials are present.
func (c Config) Enabled() bool {
	return c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

// Mirror keeps an off-host copy of submitted archives.
type Mirror struct {
	client *cloudinary.Cloudinary
	folder string
	logger zerolog.Logger
}

// New constructs a Cloudinary archive mirror.
func New(cfg Config, logger zerolog.Logger) (*Mirror, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("cloudinary credentials must be provided")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	return &Mirror{
		client: cld,
		folder: strings.Trim(cfg.Folder, "/"),
		logger: logger.With().Str("component", "archive_mirror").Logger(),
	}, nil
}

// MirrorArchive uploads a submission archive as a raw asset and returns its secure URL.
func (m *Mirror) MirrorArchive(ctx context.Context, projectID, submissionID string, archive io.Reader) (string, error) {
	params := uploader.UploadParams{
		Folder:       path.Join(m.folder, sanitizeSegment(projectID)),
		PublicID:     sanitizeSegment(submissionID) + ".zip",
		ResourceType: "raw",
	}

	result, err := m.client.Upload.Upload(ctx, archive, params)
	if err != nil {
		return "", fmt.Errorf("failed to mirror archive: %w", err)
	}

	m.logger.Info().
		Str("project_id", projectID).
		Str("submission_id", submissionID).
		Str("public_id", result.PublicID).
		Msg("archive mirrored")

	return result.SecureURL, nil
}

func sanitizeSegment(value string) string {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '-'
	}, value)
	cleaned = strings.Trim(cleaned, "-")
	if cleaned == "" {
		return "unnamed"
	}
	return cleaned
}
