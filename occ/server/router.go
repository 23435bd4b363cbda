package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pingcap-incubator/tinyocc/occ/cell"
	"github.com/pingcap-incubator/tinyocc/occ/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/unrolled/render"
)

// StatsProvider reports the dispatcher state.
type StatsProvider interface {
	Stats() worker.Stats
}

// NewRouter serves the cell table, the dispatcher stats and the Prometheus metrics. pool may be nil.
func NewRouter(table *cell.Table, pool StatsProvider) *mux.Router {
	rd := render.New(render.Options{
		IndentJSON: true,
	})

	router := mux.NewRouter()

	cellHandler := newCellHandler(table, rd)
	router.HandleFunc("/api/v1/cells", cellHandler.List).Methods("GET")
	router.HandleFunc("/api/v1/cells/{name}", cellHandler.Get).Methods("GET")

	poolHandler := newPoolHandler(pool, rd)
	router.HandleFunc("/api/v1/pool", poolHandler.Get).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {}).Methods("GET")
	return router
}
