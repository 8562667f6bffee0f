// Package dataapi is an HTTP client for the dataset/asset management service.
package dataapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kiranshivaraju/datapump/internal/apperrors"
	"github.com/kiranshivaraju/datapump/internal/pipeline"
	"github.com/kiranshivaraju/datapump/pkg/models"
)

// Sentinel errors for data API failures. Every error returned by Client
// also matches apperrors.ErrServiceResponse.
var (
	ErrUnreachable   = errors.New("data api unreachable")
	ErrTimeout       = errors.New("data api timeout")
	ErrAlreadyExists = errors.New("already exists")
)

const maxErrorBody = 4096

// Client implements pipeline.AssetService over the data API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a data API client. token is sent as a bearer token.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// CreateDataset creates an empty dataset. An existing dataset is not an error.
func (c *Client) CreateDataset(ctx context.Context, dataset string) error {
	body := map[string]any{"metadata": map[string]any{}}
	err := c.do(ctx, "dataapi.createDataset", http.MethodPut, c.path(dataset), body, nil)
	if errors.Is(err, ErrAlreadyExists) {
		return nil
	}
	return err
}

// CreateVersion creates a version whose primary asset is built from
// creationOptions. An existing version is not an error.
func (c *Client) CreateVersion(ctx context.Context, dataset, version string, creationOptions any) error {
	body := map[string]any{"creation_options": creationOptions}
	err := c.do(ctx, "dataapi.createVersion", http.MethodPut, c.path(dataset, version), body, nil)
	if errors.Is(err, ErrAlreadyExists) {
		return nil
	}
	return err
}

// CreateAuxAsset requests a derived asset and returns its id. An asset that
// already exists is not an error; its id is then unknown and returned empty.
func (c *Client) CreateAuxAsset(ctx context.Context, dataset, version string, req models.AssetRequest) (string, error) {
	var asset models.Asset
	err := c.do(ctx, "dataapi.createAuxAsset", http.MethodPost, c.path(dataset, version, "assets"), req, &asset)
	if errors.Is(err, ErrAlreadyExists) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return asset.ID, nil
}

// GetAsset returns the first asset of assetType on a version.
func (c *Client) GetAsset(ctx context.Context, dataset, version, assetType string) (models.Asset, error) {
	u := c.path(dataset, version, "assets") + "?" + url.Values{"asset_type": {assetType}}.Encode()

	var assets []models.Asset
	if err := c.do(ctx, "dataapi.getAsset", http.MethodGet, u, nil, &assets); err != nil {
		return models.Asset{}, err
	}
	if len(assets) == 0 {
		return models.Asset{}, apperrors.ServiceResponse("dataapi.getAsset",
			fmt.Errorf("no %s asset on %s/%s", assetType, dataset, version))
	}
	return assets[0], nil
}

// GetAssets returns every asset of a version.
func (c *Client) GetAssets(ctx context.Context, dataset, version string) ([]models.Asset, error) {
	var assets []models.Asset
	if err := c.do(ctx, "dataapi.getAssets", http.MethodGet, c.path(dataset, version, "assets"), nil, &assets); err != nil {
		return nil, err
	}
	return assets, nil
}

// SetLatest points the dataset's latest tag at version.
func (c *Client) SetLatest(ctx context.Context, dataset, version string) error {
	body := map[string]any{"is_latest": true}
	return c.do(ctx, "dataapi.setLatest", http.MethodPatch, c.path(dataset, version), body, nil)
}

// GetLatestVersion returns the version currently tagged latest.
func (c *Client) GetLatestVersion(ctx context.Context, dataset string) (string, error) {
	var latest struct {
		Version string `json:"version"`
	}
	if err := c.do(ctx, "dataapi.getLatestVersion", http.MethodGet, c.path(dataset, "latest"), nil, &latest); err != nil {
		return "", err
	}
	return latest.Version, nil
}

// Ping reports whether the data API is reachable and serving.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ping", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(req, false)

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: data api not ready (status %d)", ErrUnreachable, resp.StatusCode)
	}
	return nil
}

func (c *Client) path(segments ...string) string {
	var b strings.Builder
	b.WriteString(c.baseURL)
	b.WriteString("/dataset")
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

// do sends a JSON request and decodes the "data" member of the response
// into out, if out is non-nil.
func (c *Client) do(ctx context.Context, op, method, u string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(req, body != nil)

	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.ServiceResponse(op, classifyError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.ServiceResponse(op, responseError(resp))
	}

	if out == nil {
		return nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return apperrors.ServiceResponse(op, fmt.Errorf("decoding response: %w", err))
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return apperrors.ServiceResponse(op, fmt.Errorf("decoding data: %w", err))
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, hasBody bool) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
}

// responseError reads an error body. A conflict, or a bad request whose
// message says the resource already exists, matches ErrAlreadyExists.
func responseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body struct {
		Message string `json:"message"`
		Detail  any    `json:"detail"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			msg = body.Message
		} else if s, ok := body.Detail.(string); ok && s != "" {
			msg = s
		}
	}

	if resp.StatusCode == http.StatusConflict ||
		(resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(msg), "already exists")) {
		return fmt.Errorf("%w: status %d: %s", ErrAlreadyExists, resp.StatusCode, msg)
	}
	return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// Compile-time check that Client implements pipeline.AssetService.
var _ pipeline.AssetService = (*Client)(nil)
