package adapter

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"time"

	"github.com/edvin/backupd/internal/model"
)

// Artifact filename convention, shared by every destination adapter:
//
//	<source-type>_backup_usr=<tenant>_sch=<schedule-id|None>_src=<source-id>_created_at=<YYYYMMDD_HHMMSS>.<ext>
//
// This is a durable on-disk / on-bucket contract. Retention pruning and
// listing both depend on parsing it back, so a name that does not match
// fails closed instead of being listed with null metadata.

// provisionalSuffix marks an upload in progress. Listings skip it; a rename
// to the final name makes the artifact visible atomically.
const provisionalSuffix = ".uploading"

const timestampLayout = "20060102_150405"

// ErrMalformedArtifactName is returned when a destination holds a file whose
// name does not follow the artifact convention.
var ErrMalformedArtifactName = errors.New("malformed artifact name")

var artifactNameRe = regexp.MustCompile(
	`^(.+?)_backup_usr=(.+?)_sch=(.+?)_src=(\d+)_created_at=(\d{8}_\d{6})(?:\.(.+))?$`)

// ArtifactMeta holds the fields recovered from an artifact filename.
type ArtifactMeta struct {
	SourceType string
	TenantID   string
	ScheduleID *int64
	SourceID   int64
	CreatedAt  time.Time
}

// FormatArtifactName builds the canonical artifact filename. A nil schedule
// id is encoded as the literal "None" (the historical wire form; changing it
// would orphan every previously written artifact).
func FormatArtifactName(sourceType, tenantID string, scheduleID *int64, sourceID int64, createdAt time.Time, ext string) string {
	sch := "None"
	if scheduleID != nil {
		sch = strconv.FormatInt(*scheduleID, 10)
	}
	return fmt.Sprintf("%s_backup_usr=%s_sch=%s_src=%d_created_at=%s.%s",
		sourceType, tenantID, sch, sourceID, createdAt.Format(timestampLayout), ext)
}

// ParseArtifactName recovers the structured fields from an artifact filename.
// The name may be a full path; only the base name is parsed.
func ParseArtifactName(name string) (*ArtifactMeta, error) {
	base := path.Base(name)

	m := artifactNameRe.FindStringSubmatch(base)
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrMalformedArtifactName, base)
	}

	meta := &ArtifactMeta{
		SourceType: m[1],
		TenantID:   m[2],
	}

	if m[3] != "None" {
		schedID, err := strconv.ParseInt(m[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: schedule id %q in %q", ErrMalformedArtifactName, m[3], base)
		}
		meta.ScheduleID = &schedID
	}

	sourceID, err := strconv.ParseInt(m[4], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: source id %q in %q", ErrMalformedArtifactName, m[4], base)
	}
	meta.SourceID = sourceID

	createdAt, err := time.Parse(timestampLayout, m[5])
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp %q in %q", ErrMalformedArtifactName, m[5], base)
	}
	meta.CreatedAt = createdAt

	return meta, nil
}

// IsProvisional reports whether a name marks an upload in progress.
func IsProvisional(name string) bool {
	return path.Ext(name) == provisionalSuffix
}

// artifactFromEntry builds an Artifact for one destination entry, parsing the
// structured filename. Fails closed on a malformed name.
func artifactFromEntry(name, remotePath string, size int64, modified time.Time) (model.Artifact, error) {
	meta, err := ParseArtifactName(name)
	if err != nil {
		return model.Artifact{}, err
	}
	return model.Artifact{
		Name:       name,
		Path:       remotePath,
		Size:       size,
		Modified:   modified,
		SourceType: meta.SourceType,
		TenantID:   meta.TenantID,
		ScheduleID: meta.ScheduleID,
		SourceID:   meta.SourceID,
	}, nil
}
