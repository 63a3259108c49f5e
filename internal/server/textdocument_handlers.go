package server

import (
	"fmt"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/igor-prusov/dts-lsp/internal/scheduler"
)

func (s *Server) textDocumentDidOpen(
	context *glsp.Context,
	params *protocol.DidOpenTextDocumentParams,
) error {
	uri := s.canonical(params.TextDocument.URI)
	s.docs.Open(uri, params.TextDocument.Version)
	return s.update(uri, params.TextDocument.Text)
}

func (s *Server) textDocumentDidChange(
	context *glsp.Context,
	params *protocol.DidChangeTextDocumentParams,
) error {
	uri := s.canonical(params.TextDocument.URI)
	if !s.docs.Update(uri, params.TextDocument.Version) {
		s.log.Debugf("dropping stale version %d of %s", params.TextDocument.Version, uri)
		return nil
	}
	var text *string
	for _, raw := range params.ContentChanges {
		change, ok := raw.(protocol.TextDocumentContentChangeEventWhole)
		if !ok {
			return fmt.Errorf("unexpected change event type %T", raw)
		}
		text = &change.Text
	}
	if text == nil {
		return nil
	}
	return s.update(uri, *text)
}

// update indexes the editor's text of uri and, when enabled, the files
// next to it.
func (s *Server) update(uri protocol.DocumentUri, text string) error {
	neighbours := s.settings().Neighbours()
	return s.sched.Run(scheduler.Task{
		Name: "update " + uri,
		Execute: func() error {
			s.ws.HandleFile(s.ctx, uri, &text)
			if neighbours {
				s.ws.OpenNeighbours(s.ctx, uri)
			}
			s.watchIndexed()
			return nil
		},
	})
}

func (s *Server) textDocumentDidSave(
	context *glsp.Context,
	params *protocol.DidSaveTextDocumentParams,
) error {
	s.log.Debugf("saved %s", params.TextDocument.URI)
	return nil
}

func (s *Server) textDocumentDidClose(
	context *glsp.Context,
	params *protocol.DidCloseTextDocumentParams,
) error {
	uri := s.canonical(params.TextDocument.URI)
	s.docs.Release(uri)
	s.log.Debugf("closed %s", uri)
	return nil
}
