package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/kiranshivaraju/datapump/internal/api/response"
	"github.com/kiranshivaraju/datapump/internal/store"
	"github.com/kiranshivaraju/datapump/pkg/models"
)

type SyncConfigLister interface {
	ListSyncConfigs(ctx context.Context, filter store.SyncFilter) ([]*models.SyncConfig, error)
}

// NewListSyncConfigsHandler returns an http.HandlerFunc for
// GET /api/v1/sync-configs?sync_type=&dataset=&limit=.
func NewListSyncConfigsHandler(lister SyncConfigLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := store.SyncFilter{
			SyncType: models.SyncType(q.Get("sync_type")),
			Dataset:  q.Get("dataset"),
		}
		if v := q.Get("limit"); v != "" {
			limit, err := strconv.Atoi(v)
			if err != nil || limit < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil)
				return
			}
			filter.Limit = limit
		}

		configs, err := lister.ListSyncConfigs(r.Context(), filter)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if configs == nil {
			configs = []*models.SyncConfig{}
		}
		response.List(w, configs, response.ListMeta{Count: len(configs), Limit: filter.Limit})
	}
}
