package server

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pingcap-incubator/tinyocc/occ/cell"
	"github.com/pingcap-incubator/tinyocc/occ/metrics"
	"github.com/pingcap-incubator/tinyocc/occ/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedStats worker.Stats

func (s fixedStats) Stats() worker.Stats {
	return worker.Stats(s)
}

func newTestTable(t *testing.T) *cell.Table {
	table, err := cell.NewTable([]int{5, 10, 15}, 0)
	require.NoError(t, err)
	return table
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCells(t *testing.T) {
	table := newTestTable(t)
	require.NoError(t, table.Cell(1).Open(7, true))
	router := NewRouter(table, nil)

	rec := get(t, router, "/api/v1/cells")
	require.Equal(t, http.StatusOK, rec.Code)
	var infos []CellInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 3)
	assert.Equal(t, CellInfo{ID: 1, Name: "B", Value: 10, Writer: 7}, infos[1])
	assert.Equal(t, CellInfo{ID: 2, Name: "C", Value: 15}, infos[2])

	rec = get(t, router, "/api/v1/cells/c")
	require.Equal(t, http.StatusOK, rec.Code)
	var info CellInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, 15, info.Value)

	assert.Equal(t, http.StatusNotFound, get(t, router, "/api/v1/cells/Z").Code)
	assert.Equal(t, http.StatusNotFound, get(t, router, "/api/v1/cells/AB").Code)
}

func TestPool(t *testing.T) {
	table := newTestTable(t)
	assert.Equal(t, http.StatusNotFound, get(t, NewRouter(table, nil), "/api/v1/pool").Code)

	router := NewRouter(table, fixedStats{Name: "txn", Workers: 3, Submitted: 9, Completed: 4})
	rec := get(t, router, "/api/v1/pool")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats worker.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, "txn", stats.Name)
	assert.Equal(t, int64(9), stats.Submitted)
	assert.Equal(t, int64(4), stats.Completed)
}

func TestMetrics(t *testing.T) {
	metrics.ObserveConflict("stale-read", 0)
	rec := get(t, NewRouter(newTestTable(t), nil), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tinyocc_")
}

func TestServerStartClose(t *testing.T) {
	s := New("127.0.0.1:0", newTestTable(t), nil)
	require.NoError(t, s.Start())

	resp, err := http.Get(fmt.Sprintf("http://%s/api/v1/cells/A", s.Addr()))
	require.NoError(t, err)
	body, err := ioutil.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `"value": 5`), string(body))

	require.NoError(t, s.Close())
}
