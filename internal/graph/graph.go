// Package graph serves a live view of the include graph over HTTP and
// WebSocket.
package graph

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"path"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/igor-prusov/dts-lsp/internal/depot"
	"github.com/igor-prusov/dts-lsp/internal/logging"
)

// GraphData holds the nodes and links of the graph.
type GraphData struct {
	Nodes []Node `json:"nodes"`
	Links []Link `json:"links"`
}

// Node is one file. ID is its uri.
type Node struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Loaded bool   `json:"loaded"`
}

// Link is an include directive from Source to Target.
type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// IncrementalMessage is sent over WebSocket to update clients.
type IncrementalMessage struct {
	Op    string     `json:"op"`              // "init", "add", "update", "deleteLink"
	Graph *GraphData `json:"graph,omitempty"` // used for "init"
	Node  *Node      `json:"node,omitempty"`
	Link  *Link      `json:"link,omitempty"`
}

//go:embed static/*
var staticFiles embed.FS

type Viewer struct {
	log      logging.Logger
	upgrader websocket.Upgrader

	graphMu sync.Mutex
	nodes   map[string]*Node
	links   map[Link]struct{}
	order   []string

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]bool

	srv *http.Server
}

func NewViewer(log logging.Logger) *Viewer {
	return &Viewer{
		log:      log,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		nodes:    make(map[string]*Node),
		links:    make(map[Link]struct{}),
		clients:  make(map[*websocket.Conn]bool),
	}
}

func label(uri protocol.DocumentUri) string {
	return path.Base(uri)
}

// Load merges a snapshot of the file depot into the graph.
func (v *Viewer) Load(files []depot.FileInfo) {
	for _, f := range files {
		v.addNode(f.URI, f.HasText)
		for _, target := range f.Includes {
			v.addNode(target, false)
			v.addLink(Link{Source: f.URI, Target: target})
		}
	}
}

// Apply folds one depot event into the graph and broadcasts the change.
// Events already reflected in the graph are ignored.
func (v *Viewer) Apply(event depot.GraphEvent) {
	switch event.Type {
	case depot.CreateFile:
		if n, added := v.addNode(event.URI, false); added {
			v.broadcast(IncrementalMessage{Op: "add", Node: &n})
		}
	case depot.LoadFile:
		n, added := v.addNode(event.URI, true)
		if added {
			v.broadcast(IncrementalMessage{Op: "add", Node: &n})
			return
		}
		if v.markLoaded(event.URI) {
			v.broadcast(IncrementalMessage{Op: "update", Node: &n})
		}
	case depot.CreateInclude:
		if n, added := v.addNode(event.Target, false); added {
			v.broadcast(IncrementalMessage{Op: "add", Node: &n})
		}
		link := Link{Source: event.URI, Target: event.Target}
		if v.addLink(link) {
			v.broadcast(IncrementalMessage{Op: "add", Link: &link})
		}
	case depot.DeleteInclude:
		link := Link{Source: event.URI, Target: event.Target}
		if v.deleteLink(link) {
			v.broadcast(IncrementalMessage{Op: "deleteLink", Link: &link})
		}
	}
}

// Follow applies events until the channel closes or ctx is done.
func (v *Viewer) Follow(ctx context.Context, events <-chan depot.GraphEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			v.Apply(ev)
		}
	}
}

func (v *Viewer) addNode(uri protocol.DocumentUri, loaded bool) (Node, bool) {
	v.graphMu.Lock()
	defer v.graphMu.Unlock()
	if n, ok := v.nodes[uri]; ok {
		if loaded {
			return Node{ID: n.ID, Label: n.Label, Loaded: true}, false
		}
		return *n, false
	}
	n := &Node{ID: uri, Label: label(uri), Loaded: loaded}
	v.nodes[uri] = n
	v.order = append(v.order, uri)
	return *n, true
}

func (v *Viewer) markLoaded(uri protocol.DocumentUri) bool {
	v.graphMu.Lock()
	defer v.graphMu.Unlock()
	n := v.nodes[uri]
	if n.Loaded {
		return false
	}
	n.Loaded = true
	return true
}

func (v *Viewer) addLink(link Link) bool {
	v.graphMu.Lock()
	defer v.graphMu.Unlock()
	if _, ok := v.links[link]; ok {
		return false
	}
	v.links[link] = struct{}{}
	return true
}

func (v *Viewer) deleteLink(link Link) bool {
	v.graphMu.Lock()
	defer v.graphMu.Unlock()
	if _, ok := v.links[link]; !ok {
		return false
	}
	delete(v.links, link)
	return true
}

// Graph returns a snapshot of the current graph. Nodes keep insertion order,
// links are grouped by source in the same order.
func (v *Viewer) Graph() GraphData {
	v.graphMu.Lock()
	defer v.graphMu.Unlock()
	data := GraphData{Nodes: make([]Node, 0, len(v.order)), Links: []Link{}}
	index := make(map[string]int, len(v.order))
	for i, uri := range v.order {
		data.Nodes = append(data.Nodes, *v.nodes[uri])
		index[uri] = i
	}
	for l := range v.links {
		data.Links = append(data.Links, l)
	}
	sort.Slice(data.Links, func(i, j int) bool {
		a, b := data.Links[i], data.Links[j]
		if index[a.Source] != index[b.Source] {
			return index[a.Source] < index[b.Source]
		}
		return index[a.Target] < index[b.Target]
	})
	return data
}

// broadcast marshals and sends a message to all clients.
func (v *Viewer) broadcast(msg IncrementalMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		v.log.Errorf("graph: marshal %s: %v", msg.Op, err)
		return
	}
	v.clientsMu.Lock()
	defer v.clientsMu.Unlock()
	for conn := range v.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			v.log.Warningf("graph: broadcast error: %v", err)
			conn.Close()
			delete(v.clients, conn)
		}
	}
}

// Handler serves the static viewer under /static/ and the update stream on
// /ws.
func (v *Viewer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(staticFiles)))
	mux.HandleFunc("/ws", v.handleWS)
	return mux
}

// Serve starts listening on addr (":0" picks a free port) and returns the
// URL of the viewer.
func (v *Viewer) Serve(addr string) (string, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	v.srv = &http.Server{Handler: v.Handler()}
	go func() {
		if err := v.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			v.log.Errorf("graph: server error: %v", err)
		}
	}()
	return "http://" + l.Addr().String() + "/static/", nil
}

// Close stops the server started by Serve and drops every client.
func (v *Viewer) Close() error {
	v.clientsMu.Lock()
	for conn := range v.clients {
		conn.Close()
		delete(v.clients, conn)
	}
	v.clientsMu.Unlock()
	if v.srv == nil {
		return nil
	}
	return v.srv.Close()
}

// handleWS upgrades HTTP connections and sends initial graph state.
func (v *Viewer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := v.upgrader.Upgrade(w, r, nil)
	if err != nil {
		v.log.Warningf("graph: upgrade error: %v", err)
		return
	}

	state := v.Graph()
	data, err := json.Marshal(IncrementalMessage{Op: "init", Graph: &state})
	if err != nil {
		v.log.Errorf("graph: marshal init: %v", err)
		conn.Close()
		return
	}

	v.clientsMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	if err == nil {
		v.clients[conn] = true
	}
	v.clientsMu.Unlock()
	if err != nil {
		conn.Close()
		return
	}

	defer func() {
		v.clientsMu.Lock()
		delete(v.clients, conn)
		v.clientsMu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.NextReader(); err != nil {
			break
		}
	}
}
