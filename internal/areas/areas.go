// Package areas marks user areas of interest as analysed once their
// geostores have been processed.
package areas

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/datapump/internal/apperrors"
)

// StatusSaved is the status given to areas whose analysis has completed.
const StatusSaved = "saved"

const maxErrorBody = 4096

// GeostoreIDs returns the distinct values of the first tab-separated column
// of a feature file, in file order. The header line and empty ids are
// skipped.
func GeostoreIDs(r io.Reader) ([]string, error) {
	br := bufio.NewReader(r)
	seen := make(map[string]struct{})
	var ids []string

	header := true
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			if header {
				header = false
			} else {
				id, _, _ := strings.Cut(strings.TrimRight(line, "\r\n"), "\t")
				if _, dup := seen[id]; id != "" && !dup {
					seen[id] = struct{}{}
					ids = append(ids, id)
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return ids, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading features: %w", err)
		}
	}
}

// Client talks to the areas service.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates an areas client. token is sent as a bearer token.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

type updateRequest struct {
	Geostores    []string     `json:"geostores"`
	UpdateParams updateParams `json:"update_params"`
}

type updateParams struct {
	Status string `json:"status"`
}

// UpdateStatuses sets status on every area drawn on one of geostores. Any
// response other than 200 OK is an error matching
// apperrors.ErrServiceResponse.
func (c *Client) UpdateStatuses(ctx context.Context, geostores []string, status string) error {
	const op = "areas.updateStatuses"

	if geostores == nil {
		geostores = []string{}
	}
	buf, err := json.Marshal(updateRequest{
		Geostores:    geostores,
		UpdateParams: updateParams{Status: status},
	})
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/area/update", bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.ServiceResponse(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return apperrors.ServiceResponse(op,
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}
	return nil
}

// ObjectReader opens stored objects by URI.
type ObjectReader interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// StatusUpdater is the part of Client used by Updater.
type StatusUpdater interface {
	UpdateStatuses(ctx context.Context, geostores []string, status string) error
}

// Updater marks the areas listed in a feature file as saved.
type Updater struct {
	objects ObjectReader
	areas   StatusUpdater
}

func NewUpdater(objects ObjectReader, areas StatusUpdater) *Updater {
	return &Updater{objects: objects, areas: areas}
}

// MarkSaved reads the geostore ids from the feature file at featuresURI and
// sets their areas to saved. It returns how many geostores were sent. A file
// without ids sends nothing.
func (u *Updater) MarkSaved(ctx context.Context, featuresURI string) (int, error) {
	body, err := u.objects.Open(ctx, featuresURI)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	ids, err := GeostoreIDs(body)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		slog.InfoContext(ctx, "no geostores to update", "features", featuresURI)
		return 0, nil
	}

	if err := u.areas.UpdateStatuses(ctx, ids, StatusSaved); err != nil {
		return 0, err
	}
	slog.InfoContext(ctx, "area statuses updated",
		"features", featuresURI,
		"geostores", len(ids),
		"status", StatusSaved,
	)
	return len(ids), nil
}
