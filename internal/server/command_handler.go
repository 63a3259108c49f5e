package server

import (
	"fmt"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/igor-prusov/dts-lsp/internal/graph"
)

func (s *Server) workspaceExecuteCommand(
	context *glsp.Context,
	params *protocol.ExecuteCommandParams,
) (any, error) {
	switch params.Command {
	case ShowIncludeGraph:
		addr, err := s.showGraph()
		if err != nil {
			return nil, err
		}
		context.Notify(
			"window/showDocument",
			protocol.ShowDocumentParams{
				URI:      protocol.URI(addr),
				External: &protocol.True,
			},
		)
		return addr, nil
	}
	return nil, invalidParams(fmt.Errorf("unknown command %q", params.Command))
}

// showGraph starts the viewer on first use and returns its address.
func (s *Server) showGraph() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.graphAddr != "" {
		return s.graphAddr, nil
	}

	v := graph.NewViewer(s.log)
	events := s.ws.Files.Subscribe(s.ctx)
	v.Load(s.ws.Files.Snapshot())
	addr, err := v.Serve("127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("failed to start graph viewer: %w", err)
	}
	go v.Follow(s.ctx, events)

	s.viewer = v
	s.graphAddr = addr
	s.log.Infof("include graph at %s", addr)
	return addr, nil
}
