package dataapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/datapump/internal/apperrors"
	"github.com/kiranshivaraju/datapump/internal/pipeline"
	"github.com/kiranshivaraju/datapump/pkg/models"
)

// --- helpers ---

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewClient(ts.URL+"/", "secret-token", 5*time.Second)
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"status": "success", "data": data})
}

// --- CreateDataset ---

func TestCreateDataset(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if r.URL.Path != "/dataset/umd_glad_alerts" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Errorf("unexpected authorization: %q", got)
		}
		writeData(w, http.StatusCreated, map[string]any{"dataset": "umd_glad_alerts"})
	})

	if err := c.CreateDataset(context.Background(), "umd_glad_alerts"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateDataset_AlreadyExists(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"conflict", http.StatusConflict, `{"status":"failed","message":"Dataset exists"}`},
		{"bad request", http.StatusBadRequest, `{"status":"failed","message":"Dataset with name umd already exists"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			if err := c.CreateDataset(context.Background(), "umd"); err != nil {
				t.Fatalf("expected already-exists to be ignored, got %v", err)
			}
		})
	}
}

func TestCreateDataset_OtherBadRequest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"status":"failed","message":"invalid dataset name"}`)
	})

	err := c.CreateDataset(context.Background(), "Bad Name")
	if !errors.Is(err, apperrors.ErrServiceResponse) {
		t.Fatalf("expected ErrServiceResponse, got %v", err)
	}
	if errors.Is(err, ErrAlreadyExists) {
		t.Error("did not expect ErrAlreadyExists")
	}
}

// --- CreateVersion / CreateAuxAsset ---

func TestCreateVersion_SendsCreationOptions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/dataset/umd/v2024" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		if body["creation_options"]["grid"] != "10/40000" {
			t.Errorf("unexpected creation options: %v", body)
		}
		writeData(w, http.StatusAccepted, map[string]any{})
	})

	err := c.CreateVersion(context.Background(), "umd", "v2024", map[string]any{"grid": "10/40000"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateAuxAsset(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/dataset/umd/v2024/assets" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req models.AssetRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.AssetType != models.AssetTypeRasterTileCache || !req.IsManaged {
			t.Errorf("unexpected asset request: %+v", req)
		}
		writeData(w, http.StatusAccepted, map[string]any{"asset_id": "a1b2", "status": "pending"})
	})

	id, err := c.CreateAuxAsset(context.Background(), "umd", "v2024", models.AssetRequest{
		AssetType: models.AssetTypeRasterTileCache,
		IsManaged: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "a1b2" {
		t.Errorf("expected asset id a1b2, got %q", id)
	}
}

func TestCreateVersionAndAuxAsset_AlreadyExists(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `{"status":"failed","message":"Asset already exists"}`)
	})

	if err := c.CreateVersion(context.Background(), "umd", "v2024", map[string]any{}); err != nil {
		t.Fatalf("expected existing version to be accepted, got %v", err)
	}
	id, err := c.CreateAuxAsset(context.Background(), "umd", "v2024", models.AssetRequest{AssetType: models.AssetTypeRasterTileCache})
	if err != nil {
		t.Fatalf("expected existing asset to be accepted, got %v", err)
	}
	if id != "" {
		t.Errorf("expected empty id for existing asset, got %q", id)
	}
}

// A step whose auxiliary creations partly succeeded must complete on a later
// tick instead of failing forever on the asset that already exists.
func TestAdvance_RetriesPartialAuxiliaryCreation(t *testing.T) {
	posts := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/dataset/umd/latest":
			writeData(w, http.StatusOK, map[string]any{"version": "v2"})
		case r.Method == http.MethodPost && r.URL.Path == "/dataset/umd/v2/assets":
			posts++
			switch posts {
			case 1, 4:
				writeData(w, http.StatusAccepted, map[string]any{"asset_id": "aux", "status": "pending"})
			case 2:
				w.WriteHeader(http.StatusBadGateway)
				io.WriteString(w, `{"message":"upstream timeout"}`)
			default:
				w.WriteHeader(http.StatusConflict)
				io.WriteString(w, `{"message":"Asset already exists"}`)
			}
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	job := models.NewVersionUpdateJob(models.VersionUpdateJob{
		Dataset: "umd",
		Version: "v2",
		TileSet: models.TileSetParameters{Grid: "10/40000"},
		AuxTileSets: []models.TileSetParameters{
			{Grid: "10/40000", PixelMeaning: "intensity"},
			{Grid: "10/40000", PixelMeaning: "date_conf"},
		},
	})
	job.Status = models.JobStatusExecuting
	job.VersionUpdate.Step = models.StepMarkingLatest
	engine := pipeline.NewEngine(c)

	next, err := engine.Advance(context.Background(), job)
	if !errors.Is(err, apperrors.ErrServiceResponse) {
		t.Fatalf("expected service response error on first tick, got %v", err)
	}
	if next.VersionUpdate.Step != models.StepMarkingLatest {
		t.Fatalf("failed tick must not advance, got %s", next.VersionUpdate.Step)
	}

	next, err = engine.Advance(context.Background(), next)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if next.VersionUpdate.Step != models.StepCreatingAuxiliaryAssets {
		t.Errorf("expected %s, got %s", models.StepCreatingAuxiliaryAssets, next.VersionUpdate.Step)
	}
	if posts != 4 {
		t.Errorf("expected 4 asset requests, got %d", posts)
	}
}

// --- reads ---

func TestGetAsset(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("asset_type") != "Raster tile set" {
			t.Errorf("unexpected asset_type: %q", r.URL.Query().Get("asset_type"))
		}
		writeData(w, http.StatusOK, []map[string]any{
			{"asset_id": "rts-1", "asset_type": "Raster tile set", "status": "pending"},
		})
	})

	asset, err := c.GetAsset(context.Background(), "umd", "v2024", models.AssetTypeRasterTileSet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if asset.ID != "rts-1" || asset.Status != models.AssetStatusPending {
		t.Errorf("unexpected asset: %+v", asset)
	}
}

func TestGetAsset_NoneFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, []map[string]any{})
	})

	_, err := c.GetAsset(context.Background(), "umd", "v2024", models.AssetTypeRasterTileCache)
	if !errors.Is(err, apperrors.ErrServiceResponse) {
		t.Fatalf("expected ErrServiceResponse, got %v", err)
	}
}

func TestGetAssets(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, []map[string]any{
			{"asset_id": "1", "status": "saved"},
			{"asset_id": "2", "status": "failed"},
		})
	})

	assets, err := c.GetAssets(context.Background(), "umd", "v2024")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(assets) != 2 || assets[1].Status != models.AssetStatusFailed {
		t.Errorf("unexpected assets: %+v", assets)
	}
}

func TestSetLatestAndGetLatestVersion(t *testing.T) {
	latest := "v2023"
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPatch && r.URL.Path == "/dataset/umd/v2024":
			var body map[string]bool
			json.NewDecoder(r.Body).Decode(&body)
			if body["is_latest"] {
				latest = "v2024"
			}
			writeData(w, http.StatusOK, map[string]any{})
		case r.Method == http.MethodGet && r.URL.Path == "/dataset/umd/latest":
			writeData(w, http.StatusOK, map[string]any{"version": latest})
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	ctx := context.Background()
	if err := c.SetLatest(ctx, "umd", "v2024"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := c.GetLatestVersion(ctx, "umd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "v2024" {
		t.Errorf("expected v2024, got %q", got)
	}
}

// --- failures ---

func TestServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.GetAssets(context.Background(), "umd", "v2024")
	if !errors.Is(err, apperrors.ErrServiceResponse) {
		t.Fatalf("expected ErrServiceResponse, got %v", err)
	}
}

func TestMalformedResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `not json`)
	})

	_, err := c.GetLatestVersion(context.Background(), "umd")
	if !errors.Is(err, apperrors.ErrServiceResponse) {
		t.Fatalf("expected ErrServiceResponse, got %v", err)
	}
}

func TestUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "", time.Second)

	err := c.CreateDataset(context.Background(), "umd")
	if !errors.Is(err, apperrors.ErrServiceResponse) {
		t.Fatalf("expected ErrServiceResponse, got %v", err)
	}
	if !errors.Is(err, ErrUnreachable) && !errors.Is(err, ErrTimeout) {
		t.Errorf("expected a transport sentinel, got %v", err)
	}
}

func TestTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "", 50*time.Millisecond)
	_, err := c.GetAssets(context.Background(), "umd", "v1")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

// --- Ping ---

func TestPing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ping" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPing_NotReady(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	err := c.Ping(context.Background())
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}
