package node

import (
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrnet/pkg/event"
)

// Healthz returns 200 OK to indicate the Node is alive.
func (n *Node) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Info writes a JSON payload with the process ID, current time and peers.
func (n *Node) Info(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		ID    string     `json:"id"`
		Addr  string     `json:"addr"`
		PID   int        `json:"pid"`
		Now   time.Time  `json:"now"`
		Peers []PeerInfo `json:"peers"`
	}
	writeJSON(w, resp{ID: n.id, Addr: n.Addr(), PID: os.Getpid(), Now: time.Now(), Peers: n.Peers()})
}

// Emit sends the request body as an event to the peer named in the path:
//
//	POST /events/{peer}?type=1&reliable=true
//
// The peer "*" broadcasts.
func (n *Node) Emit(w http.ResponseWriter, req *http.Request) {
	target, ok := strings.CutPrefix(req.URL.Path, "/events/")
	if !ok {
		http.NotFound(w, req)
		return
	}
	if target == "" {
		http.Error(w, "missing peer", http.StatusBadRequest)
		return
	}

	typeID, err := strconv.ParseUint(req.URL.Query().Get("type"), 10, 16)
	if err != nil {
		http.Error(w, "invalid type", http.StatusBadRequest)
		return
	}
	reliable := false
	if v := req.URL.Query().Get("reliable"); v != "" {
		if reliable, err = strconv.ParseBool(v); err != nil {
			http.Error(w, "invalid reliable", http.StatusBadRequest)
			return
		}
	}
	data, err := io.ReadAll(io.LimitReader(req.Body, event.MaxPayloadLen+1))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ev := event.Message{Type: uint16(typeID), Reliable: reliable, Data: data}
	if target == "*" {
		err = n.Broadcast(ev)
	} else {
		err = n.Send(target, ev)
	}
	if err != nil {
		n.log.Info("emit rejected", zap.String("peer", target), zap.Error(err))
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Events drains the inbox as JSON.
func (n *Node) Events(w http.ResponseWriter, _ *http.Request) {
	type item struct {
		From     string `json:"from"`
		Type     uint16 `json:"type"`
		Reliable bool   `json:"reliable"`
		Data     []byte `json:"data"`
	}
	deliveries := n.Drain()
	out := make([]item, 0, len(deliveries))
	for _, d := range deliveries {
		out = append(out, item{From: d.From, Type: d.Event.Type, Reliable: d.Event.Reliable, Data: d.Event.Data})
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
