package server

import (
	"errors"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/igor-prusov/dts-lsp/internal/scheduler"
	"github.com/igor-prusov/dts-lsp/internal/workspace"
)

func (s *Server) textDocumentDefinition(
	context *glsp.Context,
	params *protocol.DefinitionParams,
) (any, error) {
	uri := s.canonical(params.TextDocument.URI)
	locations, err := s.ws.Definition(s.ctx, uri, params.Position)
	if err != nil {
		s.log.Debugf("definition in %s: %v", uri, err)
		return nil, nil
	}
	switch len(locations) {
	case 0:
		return nil, nil
	case 1:
		return locations[0], nil
	}
	return locations, nil
}

func (s *Server) textDocumentReferences(
	context *glsp.Context,
	params *protocol.ReferenceParams,
) ([]protocol.Location, error) {
	uri := s.canonical(params.TextDocument.URI)
	locations, err := s.ws.References(s.ctx, uri, params.Position)
	if err != nil {
		s.log.Debugf("references in %s: %v", uri, err)
		return nil, nil
	}
	return locations, nil
}

func (s *Server) textDocumentPrepareRename(
	context *glsp.Context,
	params *protocol.PrepareRenameParams,
) (any, error) {
	uri := s.canonical(params.TextDocument.URI)
	r, err := s.ws.PrepareRename(s.ctx, uri, params.Position)
	if err != nil {
		return nil, renameError(err)
	}
	return r, nil
}

func (s *Server) textDocumentRename(
	context *glsp.Context,
	params *protocol.RenameParams,
) (*protocol.WorkspaceEdit, error) {
	uri := s.canonical(params.TextDocument.URI)
	var (
		changes   map[protocol.DocumentUri][]protocol.TextEdit
		renameErr error
	)
	// a missing symbol is the caller's mistake, not a failed task
	err := s.sched.Run(scheduler.Task{
		Name: "rename in " + uri,
		Execute: func() error {
			changes, renameErr = s.ws.Rename(s.ctx, uri, params.Position, params.NewName)
			return nil
		},
	})
	if err == nil {
		err = renameErr
	}
	if err != nil {
		return nil, renameError(err)
	}
	return &protocol.WorkspaceEdit{Changes: changes}, nil
}

// renameError reports a missing symbol as invalid params; other errors pass
// through.
func renameError(err error) error {
	if errors.Is(err, workspace.ErrNoSymbol) || errors.Is(err, workspace.ErrNotIndexed) {
		return invalidParams(err)
	}
	return err
}
