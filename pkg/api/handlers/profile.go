package handlers

import (
	"net/http"

	"github.com/cbodonnell/gserver/pkg/api/middleware"
	"github.com/cbodonnell/gserver/pkg/log"
	"github.com/cbodonnell/gserver/pkg/progress"
	"github.com/cbodonnell/gserver/pkg/repositories/models"
	"github.com/cbodonnell/gserver/pkg/saves"
	"github.com/gorilla/mux"
)

type Profile struct {
	Identity *models.Identity         `json:"identity"`
	Saves    []*models.SaveRecord     `json:"saves"`
	Progress []*models.ProgressRecord `json:"progress"`
	Stats    progress.Stats           `json:"stats"`
}

func HandleGetProfile(coordinator *saves.Coordinator, aggregator *progress.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := middleware.IdentityFromContext(r.Context())
		if !ok {
			log.Error("failed to get identity from context")
			http.Error(w, "Failed to get identity from context", http.StatusInternalServerError)
			return
		}

		all, err := coordinator.ListAllSaves(r.Context(), identity)
		if err != nil {
			writeError(w, err)
			return
		}
		records, err := aggregator.ListProgress(r.Context(), identity)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, &Profile{
			Identity: identity,
			Saves:    all,
			Progress: records,
			Stats:    progress.Summarize(records, len(all)),
		})
	}
}

func HandleGetProgress(aggregator *progress.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := middleware.IdentityFromContext(r.Context())
		if !ok {
			log.Error("failed to get identity from context")
			http.Error(w, "Failed to get identity from context", http.StatusInternalServerError)
			return
		}

		record, err := aggregator.GetProgress(r.Context(), identity, mux.Vars(r)["gameId"])
		if err != nil {
			writeError(w, err)
			return
		}
		if record == nil {
			http.Error(w, "Progress not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, record)
	}
}
