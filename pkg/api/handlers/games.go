package handlers

import (
	"net/http"

	"github.com/cbodonnell/gserver/pkg/games"
	"github.com/gorilla/mux"
)

func HandleListGames(registry *games.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, registry.List())
	}
}

func HandleGetGame(registry *games.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		game, ok := registry.Get(mux.Vars(r)["gameId"])
		if !ok {
			http.Error(w, "Game not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, game)
	}
}
