package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/backupd/internal/model"
)

const qdrantUpsertBatch = 500

// QdrantSource backs up every collection of a qdrant instance, points
// included, into one tar.gz artifact per run.
type QdrantSource struct {
	logger  zerolog.Logger
	baseURL string
	client  *http.Client
	apiKey  string
}

func NewQdrantSource(creds model.Credentials, logger zerolog.Logger) (*QdrantSource, error) {
	if creds.URL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	return &QdrantSource{
		logger:  logger.With().Str("component", "qdrant-source").Logger(),
		baseURL: strings.TrimRight(creds.URL, "/"),
		client:  &http.Client{Timeout: 5 * time.Minute},
		apiKey:  creds.APIKey,
	}, nil
}

func (s *QdrantSource) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

type qdrantCollectionDump struct {
	Name    string            `json:"name"`
	Vectors json.RawMessage   `json:"vectors,omitempty"`
	Points  []json.RawMessage `json:"points"`
}

type qdrantScrollResponse struct {
	Result struct {
		Points         []json.RawMessage `json:"points"`
		NextPageOffset json.RawMessage   `json:"next_page_offset"`
	} `json:"result"`
}

func (s *QdrantSource) CreateBackup(ctx context.Context, tenantID string, sourceID int64, scheduleID *int64) (string, error) {
	tempDir, err := os.MkdirTemp("", "qdrant-backup-")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	var list struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodGet, "/collections", nil, &list); err != nil {
		return "", transportErr("qdrant", "list collections", err)
	}
	if len(list.Result.Collections) == 0 {
		return "", transportErr("qdrant", "list collections", fmt.Errorf("no collections found"))
	}

	for _, col := range list.Result.Collections {
		dump, err := s.dumpCollection(ctx, col.Name)
		if err != nil {
			return "", transportErr("qdrant", "dump collection "+col.Name, err)
		}

		payload, err := json.Marshal(dump)
		if err != nil {
			return "", fmt.Errorf("marshal collection %s: %w", col.Name, err)
		}
		if err := os.WriteFile(filepath.Join(tempDir, col.Name+".json"), payload, 0o600); err != nil {
			return "", fmt.Errorf("write collection dump %s: %w", col.Name, err)
		}
	}

	artifactName := FormatArtifactName(model.SourceTypeQdrant, tenantID, scheduleID, sourceID, time.Now().UTC(), "tar.gz")
	backupPath := filepath.Join(os.TempDir(), artifactName)

	if err := tarGzDir(tempDir, backupPath, "qdrant_backup"); err != nil {
		os.Remove(backupPath)
		return "", fmt.Errorf("archive qdrant backup: %w", err)
	}

	return backupPath, nil
}

func (s *QdrantSource) dumpCollection(ctx context.Context, name string) (*qdrantCollectionDump, error) {
	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors json.RawMessage `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodGet, "/collections/"+name, nil, &info); err != nil {
		return nil, err
	}

	dump := &qdrantCollectionDump{Name: name, Vectors: info.Result.Config.Params.Vectors}

	var offset json.RawMessage
	for {
		body := map[string]any{
			"limit":        1000,
			"with_payload": true,
			"with_vector":  true,
		}
		if offset != nil {
			body["offset"] = offset
		}

		var resp qdrantScrollResponse
		if err := s.do(ctx, http.MethodPost, "/collections/"+name+"/points/scroll", body, &resp); err != nil {
			return nil, err
		}

		dump.Points = append(dump.Points, resp.Result.Points...)

		if len(resp.Result.NextPageOffset) == 0 || string(resp.Result.NextPageOffset) == "null" {
			break
		}
		offset = resp.Result.NextPageOffset
	}

	return dump, nil
}

func (s *QdrantSource) RestoreFromBackup(ctx context.Context, localPath string) error {
	tempDir, err := os.MkdirTemp("", "qdrant-restore-")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	if err := extractTarGz(localPath, tempDir); err != nil {
		return fmt.Errorf("extract qdrant backup: %w", err)
	}

	dumpDir := filepath.Join(tempDir, "qdrant_backup")
	entries, err := os.ReadDir(dumpDir)
	if err != nil {
		return fmt.Errorf("incompatible artifact, missing qdrant_backup dir: %w", err)
	}

	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		payload, err := os.ReadFile(filepath.Join(dumpDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read collection dump %s: %w", entry.Name(), err)
		}

		var dump qdrantCollectionDump
		if err := json.Unmarshal(payload, &dump); err != nil {
			return fmt.Errorf("corrupt collection dump %s: %w", entry.Name(), err)
		}

		if err := s.do(ctx, http.MethodDelete, "/collections/"+dump.Name, nil, nil); err != nil {
			s.logger.Debug().Err(err).Str("collection", dump.Name).Msg("delete before restore failed, continuing")
		}

		createBody := map[string]any{}
		if len(dump.Vectors) > 0 {
			createBody["vectors"] = json.RawMessage(dump.Vectors)
		}
		if err := s.do(ctx, http.MethodPut, "/collections/"+dump.Name, createBody, nil); err != nil {
			return transportErr("qdrant", "create collection "+dump.Name, err)
		}

		// Point order does not matter, so batches upsert concurrently.
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(4)
		for start := 0; start < len(dump.Points); start += qdrantUpsertBatch {
			end := start + qdrantUpsertBatch
			if end > len(dump.Points) {
				end = len(dump.Points)
			}
			batch := dump.Points[start:end]
			g.Go(func() error {
				return s.do(gctx, http.MethodPut, "/collections/"+dump.Name+"/points", map[string]any{"points": batch}, nil)
			})
		}
		if err := g.Wait(); err != nil {
			return transportErr("qdrant", "upsert points into "+dump.Name, err)
		}

		s.logger.Info().Str("collection", dump.Name).Int("points", len(dump.Points)).Msg("restored collection")
	}

	return nil
}

func (s *QdrantSource) TestConnection(ctx context.Context) bool {
	if err := s.do(ctx, http.MethodGet, "/collections", nil, nil); err != nil {
		s.logger.Warn().Err(err).Msg("qdrant connection test failed")
		return false
	}
	return true
}
