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

	"github.com/edvin/backupd/internal/model"
)

// ElasticsearchSource dumps every index of a cluster (settings, mappings and
// all documents via the scroll API) into one tar.gz artifact, and restores by
// recreating the indices and re-indexing the documents.
type ElasticsearchSource struct {
	logger  zerolog.Logger
	baseURL string
	client  *http.Client
	login   string
	pass    string
	apiKey  string
}

func NewElasticsearchSource(creds model.Credentials, logger zerolog.Logger) (*ElasticsearchSource, error) {
	if creds.URL == "" {
		return nil, fmt.Errorf("elasticsearch url is required")
	}
	return &ElasticsearchSource{
		logger:  logger.With().Str("component", "elasticsearch-source").Logger(),
		baseURL: strings.TrimRight(creds.URL, "/"),
		client:  &http.Client{Timeout: 5 * time.Minute},
		login:   creds.Login,
		pass:    creds.Password,
		apiKey:  creds.APIKey,
	}, nil
}

func (s *ElasticsearchSource) do(ctx context.Context, method, path string, body any, out any) error {
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
	// API key takes precedence over basic auth, matching credential layout.
	if s.apiKey != "" {
		req.Header.Set("Authorization", "ApiKey "+s.apiKey)
	} else if s.login != "" {
		req.SetBasicAuth(s.login, s.pass)
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

type esIndexDump struct {
	Name      string            `json:"name"`
	Settings  json.RawMessage   `json:"settings,omitempty"`
	Mappings  json.RawMessage   `json:"mappings,omitempty"`
	Documents []json.RawMessage `json:"documents"`
}

type esSearchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []struct {
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (s *ElasticsearchSource) CreateBackup(ctx context.Context, tenantID string, sourceID int64, scheduleID *int64) (string, error) {
	tempDir, err := os.MkdirTemp("", "es-backup-")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	var indices map[string]struct {
		Settings json.RawMessage `json:"settings"`
		Mappings json.RawMessage `json:"mappings"`
	}
	if err := s.do(ctx, http.MethodGet, "/_all", nil, &indices); err != nil {
		return "", transportErr("elasticsearch", "list indices", err)
	}
	if len(indices) == 0 {
		return "", transportErr("elasticsearch", "list indices", fmt.Errorf("no indices found in cluster"))
	}

	for name, info := range indices {
		// Dot-prefixed indices are internal to the cluster.
		if strings.HasPrefix(name, ".") {
			continue
		}

		dump := esIndexDump{Name: name, Settings: info.Settings, Mappings: info.Mappings}
		if err := s.scrollDocuments(ctx, name, &dump); err != nil {
			return "", transportErr("elasticsearch", "dump index "+name, err)
		}

		payload, err := json.Marshal(dump)
		if err != nil {
			return "", fmt.Errorf("marshal index %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(tempDir, name+".json"), payload, 0o600); err != nil {
			return "", fmt.Errorf("write index dump %s: %w", name, err)
		}
	}

	artifactName := FormatArtifactName(model.SourceTypeElasticsearch, tenantID, scheduleID, sourceID, time.Now().UTC(), "tar.gz")
	backupPath := filepath.Join(os.TempDir(), artifactName)

	if err := tarGzDir(tempDir, backupPath, "elasticsearch_backup"); err != nil {
		os.Remove(backupPath)
		return "", fmt.Errorf("archive elasticsearch backup: %w", err)
	}

	return backupPath, nil
}

func (s *ElasticsearchSource) scrollDocuments(ctx context.Context, index string, dump *esIndexDump) error {
	var resp esSearchResponse
	err := s.do(ctx, http.MethodPost, "/"+index+"/_search?scroll=2m",
		map[string]any{"size": 1000, "query": map[string]any{"match_all": map[string]any{}}}, &resp)
	if err != nil {
		return err
	}

	for len(resp.Hits.Hits) > 0 {
		for _, hit := range resp.Hits.Hits {
			dump.Documents = append(dump.Documents, hit.Source)
		}

		scrollID := resp.ScrollID
		resp = esSearchResponse{}
		err = s.do(ctx, http.MethodPost, "/_search/scroll",
			map[string]any{"scroll": "2m", "scroll_id": scrollID}, &resp)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *ElasticsearchSource) RestoreFromBackup(ctx context.Context, localPath string) error {
	tempDir, err := os.MkdirTemp("", "es-restore-")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	if err := extractTarGz(localPath, tempDir); err != nil {
		return fmt.Errorf("extract elasticsearch backup: %w", err)
	}

	dumpDir := filepath.Join(tempDir, "elasticsearch_backup")
	entries, err := os.ReadDir(dumpDir)
	if err != nil {
		return fmt.Errorf("incompatible artifact, missing elasticsearch_backup dir: %w", err)
	}

	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		payload, err := os.ReadFile(filepath.Join(dumpDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read index dump %s: %w", entry.Name(), err)
		}

		var dump esIndexDump
		if err := json.Unmarshal(payload, &dump); err != nil {
			return fmt.Errorf("corrupt index dump %s: %w", entry.Name(), err)
		}

		// Drop and recreate the index, then re-index every document.
		if err := s.do(ctx, http.MethodDelete, "/"+dump.Name, nil, nil); err != nil {
			s.logger.Debug().Err(err).Str("index", dump.Name).Msg("delete before restore failed, continuing")
		}

		createBody := map[string]any{}
		if len(dump.Mappings) > 0 {
			createBody["mappings"] = json.RawMessage(dump.Mappings)
		}
		if err := s.do(ctx, http.MethodPut, "/"+dump.Name, createBody, nil); err != nil {
			return transportErr("elasticsearch", "create index "+dump.Name, err)
		}

		for _, doc := range dump.Documents {
			if err := s.do(ctx, http.MethodPost, "/"+dump.Name+"/_doc", json.RawMessage(doc), nil); err != nil {
				return transportErr("elasticsearch", "index document into "+dump.Name, err)
			}
		}

		s.logger.Info().Str("index", dump.Name).Int("documents", len(dump.Documents)).Msg("restored index")
	}

	return nil
}

func (s *ElasticsearchSource) TestConnection(ctx context.Context) bool {
	if err := s.do(ctx, http.MethodGet, "/", nil, nil); err != nil {
		s.logger.Warn().Err(err).Msg("elasticsearch connection test failed")
		return false
	}
	return true
}
