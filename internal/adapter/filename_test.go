package adapter

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactNameRoundTrip(t *testing.T) {
	schedID := int64(42)
	createdAt := time.Date(2026, 8, 14, 2, 0, 5, 0, time.UTC)

	cases := []struct {
		name       string
		sourceType string
		tenantID   string
		scheduleID *int64
		sourceID   int64
		ext        string
	}{
		{"postgres with schedule", "postgres", "9f1b6a2e-70c2-4b68-a9ba-0a9e2c9f1d11", &schedID, 7, "dump"},
		{"elasticsearch without schedule", "elasticsearch", "9f1b6a2e-70c2-4b68-a9ba-0a9e2c9f1d11", nil, 12, "tar.gz"},
		{"qdrant with schedule", "qdrant", "11111111-2222-3333-4444-555555555555", &schedID, 1, "tar.gz"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			name := FormatArtifactName(tc.sourceType, tc.tenantID, tc.scheduleID, tc.sourceID, createdAt, tc.ext)

			meta, err := ParseArtifactName(name)
			require.NoError(t, err)

			assert.Equal(t, tc.sourceType, meta.SourceType)
			assert.Equal(t, tc.tenantID, meta.TenantID)
			assert.Equal(t, tc.sourceID, meta.SourceID)
			assert.Equal(t, createdAt, meta.CreatedAt)
			if tc.scheduleID == nil {
				assert.Nil(t, meta.ScheduleID)
			} else {
				require.NotNil(t, meta.ScheduleID)
				assert.Equal(t, *tc.scheduleID, *meta.ScheduleID)
			}
		})
	}
}

func TestParseArtifactName_NilScheduleEncodedAsNone(t *testing.T) {
	name := FormatArtifactName("postgres", "tenant-1", nil, 3, time.Now().UTC(), "dump")
	assert.Contains(t, name, "_sch=None_")
}

func TestParseArtifactName_FullPath(t *testing.T) {
	name := FormatArtifactName("postgres", "tenant-1", nil, 3,
		time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC), "dump")

	meta, err := ParseArtifactName("backups/nested/" + name)
	require.NoError(t, err)
	assert.Equal(t, "postgres", meta.SourceType)
	assert.Equal(t, int64(3), meta.SourceID)
}

func TestParseArtifactName_MalformedFailsClosed(t *testing.T) {
	malformed := []string{
		"",
		"random-file.txt",
		"postgres_backup_7_20260102_150405.sql",
		"postgres_backup_usr=tenant_sch=abc_src=xyz_created_at=20260102_150405.dump",
		"postgres_backup_usr=tenant_sch=1_src=2_created_at=2026.dump",
	}

	for _, name := range malformed {
		_, err := ParseArtifactName(name)
		require.Error(t, err, "name %q", name)
		assert.True(t, errors.Is(err, ErrMalformedArtifactName), "name %q: %v", name, err)
	}
}

func TestIsProvisional(t *testing.T) {
	assert.True(t, IsProvisional("postgres_backup_usr=t_sch=None_src=1_created_at=20260102_150405.dump.uploading"))
	assert.False(t, IsProvisional("postgres_backup_usr=t_sch=None_src=1_created_at=20260102_150405.dump"))
}
