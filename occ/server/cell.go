package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pingcap-incubator/tinyocc/occ/cell"
	"github.com/unrolled/render"
)

// CellInfo is the JSON view of one cell.
type CellInfo struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Value   int    `json:"value"`
	Writer  uint64 `json:"writer,omitempty"`
	Readers int    `json:"readers"`
}

func newCellInfo(c *cell.Cell) *CellInfo {
	writer, readers := c.Holders()
	return &CellInfo{
		ID:      c.ID(),
		Name:    c.Name(),
		Value:   c.Value(),
		Writer:  uint64(writer),
		Readers: readers,
	}
}

type cellHandler struct {
	table *cell.Table
	rd    *render.Render
}

func newCellHandler(table *cell.Table, rd *render.Render) *cellHandler {
	return &cellHandler{
		table: table,
		rd:    rd,
	}
}

func (h *cellHandler) List(w http.ResponseWriter, r *http.Request) {
	infos := make([]*CellInfo, 0, h.table.Len())
	for i := 0; i < h.table.Len(); i++ {
		infos = append(infos, newCellInfo(h.table.Cell(i)))
	}
	h.rd.JSON(w, http.StatusOK, infos)
}

func (h *cellHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	id, ok := h.table.Lookup(name)
	if !ok {
		h.rd.JSON(w, http.StatusNotFound, "unknown cell "+name)
		return
	}
	h.rd.JSON(w, http.StatusOK, newCellInfo(h.table.Cell(id)))
}
