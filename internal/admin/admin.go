// Package admin exposes a lightweight node-local status/health mux on the
// peer port's companion admin surface, kept deliberately separate from the
// client-facing gin router per SPEC_FULL's goroutine/port layout.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ruvnet/raftbooking/internal/consensus"
)

// StatusView is the JSON body GET /status returns.
type StatusView struct {
	NodeID      string `json:"node_id"`
	State       string `json:"state"`
	Term        uint64 `json:"term"`
	Leader      string `json:"leader"`
	IsLeader    bool   `json:"is_leader"`
}

// NewMux builds the admin mux: GET /healthz, GET /status.
func NewMux(nodeID consensus.NodeID, node consensus.Consensus) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	r.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		view := StatusView{
			NodeID:   string(nodeID),
			State:    node.GetState().String(),
			Term:     uint64(node.GetTerm()),
			Leader:   string(node.GetLeader()),
			IsLeader: node.IsLeader(),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(view)
	}).Methods(http.MethodGet)

	return r
}
