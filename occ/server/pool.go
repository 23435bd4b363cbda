package server

import (
	"net/http"

	"github.com/unrolled/render"
)

type poolHandler struct {
	pool StatsProvider
	rd   *render.Render
}

func newPoolHandler(pool StatsProvider, rd *render.Render) *poolHandler {
	return &poolHandler{
		pool: pool,
		rd:   rd,
	}
}

func (h *poolHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.pool == nil {
		h.rd.JSON(w, http.StatusNotFound, "no worker pool is running")
		return
	}
	h.rd.JSON(w, http.StatusOK, h.pool.Stats())
}
