package api

import (
	"net/http"
	"runtime"

	"chatwire/pkg/chaterr"
	"chatwire/pkg/store"
	"chatwire/pkg/utils"
)

// adminStats handles GET /v1/admin/stats, aggregating store, gateway and
// process counters for dashboards. The route is mounted behind
// RequireAction, so only admins reach it.
func adminStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	st, err := store.GetStats()
	if err != nil {
		utils.JSONDomainError(w, chaterr.TransientStore("store stats failed", err))
		return
	}
	total := 0
	for _, n := range st.Sessions {
		total += n
	}
	conns, users, rooms := deps.Hub.Stats()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{
		"sessions":    total,
		"by_status":   st.Sessions,
		"messages":    st.Messages,
		"disk_bytes":  st.DiskBytes,
		"connections": conns,
		"users":       users,
		"rooms":       rooms,
		"runtime": map[string]any{
			"goroutines": runtime.NumGoroutine(),
			"heap_bytes": mem.HeapAlloc,
		},
	})
}
