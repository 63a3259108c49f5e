package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/igor-prusov/dts-lsp/internal/config"
	"github.com/igor-prusov/dts-lsp/internal/logging"
	"github.com/igor-prusov/dts-lsp/internal/resolver"
)

const (
	boardText = `/dts-v1/;
#include "common.dtsi"

&led {
	status = "okay";
};
`
	commonText = `/ {
	led: led {
	};
};
`
)

type notification struct {
	method string
	params any
}

type client struct {
	mu            sync.Mutex
	notifications []notification
	settings      map[string]any
}

func (c *client) context() *glsp.Context {
	return &glsp.Context{
		Notify: func(method string, params any) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.notifications = append(c.notifications, notification{method, params})
		},
		Call: func(method string, params any, result any) {
			data, _ := json.Marshal([]any{c.settings})
			_ = json.Unmarshal(data, result)
		},
	}
}

func (c *client) sent(method string) []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []any
	for _, n := range c.notifications {
		if n.method == method {
			out = append(out, n.params)
		}
	}
	return out
}

// errorLog counts Errorf calls and drops everything else.
type errorLog struct {
	mu     sync.Mutex
	errors []string
}

func (l *errorLog) Debugf(string, ...any)   {}
func (l *errorLog) Infof(string, ...any)    {}
func (l *errorLog) Warningf(string, ...any) {}
func (l *errorLog) Errorf(format string, values ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, fmt.Sprintf(format, values...))
}

func (l *errorLog) logged() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.errors...)
}

type fixture struct {
	s      *Server
	client *client
	root   string
	board  protocol.DocumentUri
	common protocol.DocumentUri
}

func write(t *testing.T, path, text string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
}

func newFixture(t *testing.T, override Override, options any) *fixture {
	t.Helper()
	return newFixtureWithLog(t, override, options, logging.Discard())
}

func newFixtureWithLog(t *testing.T, override Override, options any, log logging.Logger) *fixture {
	t.Helper()
	root := t.TempDir()
	write(t, filepath.Join(root, "board.dts"), boardText)
	write(t, filepath.Join(root, "common.dtsi"), commonText)

	f := &fixture{
		s:      newServer(config.Default(), override, log),
		client: &client{},
		root:   root,
		board:  resolver.PathToURI(filepath.Join(root, "board.dts")),
		common: resolver.PathToURI(filepath.Join(root, "common.dtsi")),
	}
	t.Cleanup(func() { f.s.shutdown(f.client.context()) })

	rootURI := resolver.PathToURI(root)
	_, err := f.s.initialize(f.client.context(), &protocol.InitializeParams{
		RootURI:               &rootURI,
		InitializationOptions: options,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) open(t *testing.T, uri protocol.DocumentUri, text string) {
	t.Helper()
	require.NoError(t, f.s.textDocumentDidOpen(f.client.context(), &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{URI: uri, LanguageID: "dts", Version: 1, Text: text},
	}))
}

func position(uri protocol.DocumentUri, line, character uint32) protocol.TextDocumentPositionParams {
	return protocol.TextDocumentPositionParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
		Position:     protocol.Position{Line: line, Character: character},
	}
}

func rng(sl, sc, el, ec uint32) protocol.Range {
	return protocol.Range{
		Start: protocol.Position{Line: sl, Character: sc},
		End:   protocol.Position{Line: el, Character: ec},
	}
}

func TestInitialize(t *testing.T) {
	f := newFixture(t, nil, map[string]any{"experimental": true})

	root := resolver.PathToURI(f.root)
	result, err := f.s.initialize(f.client.context(), &protocol.InitializeParams{
		RootURI:               &root,
		InitializationOptions: map[string]any{"experimental": true},
	})
	require.NoError(t, err)

	res, ok := result.(protocol.InitializeResult)
	require.True(t, ok)
	assert.Equal(t, Name, res.ServerInfo.Name)
	assert.Equal(t, &protocol.RenameOptions{PrepareProvider: &protocol.True}, res.Capabilities.RenameProvider)

	opts, ok := res.Capabilities.TextDocumentSync.(*protocol.TextDocumentSyncOptions)
	require.True(t, ok)
	assert.Equal(t, protocol.TextDocumentSyncKindFull, *opts.Change)

	assert.True(t, f.s.settings().Experimental)
	assert.Equal(t, root+"/", f.s.ws.Files.Root())
}

func TestInitializeLayersConfig(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, config.FileName), "bindings_includes: dts/include\nwatch: true\n")

	s := newServer(config.Default(), func(c *config.Config) { c.FullScan = true }, logging.Discard())
	c := &client{}
	t.Cleanup(func() { s.shutdown(c.context()) })

	rootURI := resolver.PathToURI(root)
	_, err := s.initialize(c.context(), &protocol.InitializeParams{
		RootURI:               &rootURI,
		InitializationOptions: map[string]any{"watch": false},
	})
	require.NoError(t, err)

	cfg := s.settings()
	assert.Equal(t, "dts/include", cfg.IncludesPrefix)
	assert.Equal(t, "dts/include", s.ws.Files.IncludesPrefix())
	assert.False(t, cfg.Watch)
	assert.True(t, cfg.FullScan)
	assert.False(t, cfg.Neighbours())
}

func TestFlagDisablingFullScanRestoresNeighbours(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, config.FileName), "full_scan: true\n")
	write(t, filepath.Join(root, "board.dts"), boardText)
	write(t, filepath.Join(root, "common.dtsi"), commonText)
	write(t, filepath.Join(root, "other.dts"), "/ { other: node {}; };\n")

	s := newServer(config.Default(), func(c *config.Config) { c.FullScan = false }, logging.Discard())
	c := &client{}
	t.Cleanup(func() { s.shutdown(c.context()) })

	rootURI := resolver.PathToURI(root)
	_, err := s.initialize(c.context(), &protocol.InitializeParams{RootURI: &rootURI})
	require.NoError(t, err)
	assert.False(t, s.settings().FullScan)
	assert.True(t, s.settings().Neighbours())

	board := resolver.PathToURI(filepath.Join(root, "board.dts"))
	require.NoError(t, s.textDocumentDidOpen(c.context(), &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{URI: board, LanguageID: "dts", Version: 1, Text: boardText},
	}))
	assert.True(t, s.ws.Files.Exists(resolver.PathToURI(filepath.Join(root, "other.dts"))))
}

func TestPullIncludesPrefix(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.s.pullConfig = true
	f.client.settings = map[string]any{"bindings_includes": "scripts/dtc/include"}

	f.s.pullIncludesPrefix(f.client.context())

	assert.Equal(t, "scripts/dtc/include", f.s.ws.Files.IncludesPrefix())
	assert.Equal(t, "scripts/dtc/include", f.s.settings().IncludesPrefix)
}

func TestInitializedStartsFullScan(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.FullScan = true }, nil)
	nested := filepath.Join(f.root, "arch", "soc.dtsi")
	write(t, nested, "/ { soc: soc {}; };\n")

	require.NoError(t, f.s.initialized(f.client.context(), &protocol.InitializedParams{}))

	assert.Eventually(t, func() bool {
		return f.s.ws.Files.Exists(resolver.PathToURI(nested)) && f.s.ws.Files.Exists(f.board)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestReindexSkipsOpenFiles(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.open(t, f.board, boardText)

	write(t, filepath.Join(f.root, "common.dtsi"), "/ { renamed: led {}; };\n")
	write(t, filepath.Join(f.root, "board.dts"), "/ { disk: node {}; };\n")
	f.s.reindex([]string{filepath.Join(f.root, "common.dtsi"), filepath.Join(f.root, "board.dts")})

	assert.Eventually(t, func() bool {
		return len(f.s.ws.Labels.Find(f.common, "renamed")) == 1
	}, 5*time.Second, 10*time.Millisecond)
	text, _ := f.s.ws.Files.Text(f.board)
	assert.Equal(t, boardText, text)
}

func TestDidOpenIndexesNeighbours(t *testing.T) {
	f := newFixture(t, nil, nil)
	write(t, filepath.Join(f.root, "other.dts"), "/ { other: node {}; };\n")

	f.open(t, f.board, boardText)

	assert.True(t, f.s.ws.Files.Exists(f.common))
	assert.True(t, f.s.ws.Files.Exists(resolver.PathToURI(filepath.Join(f.root, "other.dts"))))
	assert.True(t, f.s.docs.IsOpen(f.board))

	require.NoError(t, f.s.textDocumentDidClose(f.client.context(), &protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: f.board},
	}))
	assert.False(t, f.s.docs.IsOpen(f.board))
}

func TestDidChangeReindexes(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.open(t, f.board, boardText)

	changed := boardText + "\n/ { extra: node {}; };\n"
	require.NoError(t, f.s.textDocumentDidChange(f.client.context(), &protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: f.board},
			Version:                2,
		},
		ContentChanges: []any{protocol.TextDocumentContentChangeEventWhole{Text: changed}},
	}))

	text, ok := f.s.ws.Files.Text(f.board)
	require.True(t, ok)
	assert.Equal(t, changed, text)
	assert.Len(t, f.s.ws.Labels.Find(f.board, "extra"), 1)
}

func TestDefinition(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.open(t, f.board, boardText)

	result, err := f.s.textDocumentDefinition(f.client.context(), &protocol.DefinitionParams{
		TextDocumentPositionParams: position(f.board, 3, 2),
	})
	require.NoError(t, err)
	assert.Equal(t, protocol.Location{URI: f.common, Range: rng(1, 1, 1, 4)}, result)

	result, err = f.s.textDocumentDefinition(f.client.context(), &protocol.DefinitionParams{
		TextDocumentPositionParams: position(f.board, 2, 0),
	})
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestReferences(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.open(t, f.board, boardText)

	locations, err := f.s.textDocumentReferences(f.client.context(), &protocol.ReferenceParams{
		TextDocumentPositionParams: position(f.common, 1, 2),
	})
	require.NoError(t, err)
	assert.Equal(t, []protocol.Location{{URI: f.board, Range: rng(3, 1, 3, 4)}}, locations)
}

func TestPrepareRename(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.open(t, f.board, boardText)

	result, err := f.s.textDocumentPrepareRename(f.client.context(), &protocol.PrepareRenameParams{
		TextDocumentPositionParams: position(f.board, 3, 2),
	})
	require.NoError(t, err)
	assert.Equal(t, rng(3, 1, 3, 4), result)

	_, err = f.s.textDocumentPrepareRename(f.client.context(), &protocol.PrepareRenameParams{
		TextDocumentPositionParams: position(f.board, 2, 0),
	})
	var rpcErr *jsonrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int64(jsonrpc2.CodeInvalidParams), rpcErr.Code)
}

func TestRename(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.open(t, f.board, boardText)

	edit, err := f.s.textDocumentRename(f.client.context(), &protocol.RenameParams{
		TextDocumentPositionParams: position(f.board, 3, 2),
		NewName:                    "status_led",
	})
	require.NoError(t, err)
	assert.Equal(t, map[protocol.DocumentUri][]protocol.TextEdit{
		f.board:  {{Range: rng(3, 1, 3, 4), NewText: "status_led"}},
		f.common: {{Range: rng(1, 1, 1, 4), NewText: "status_led"}},
	}, edit.Changes)

	assert.Len(t, f.s.ws.Labels.Find(f.board, "status_led"), 1)
	text, _ := f.s.ws.Files.Text(f.common)
	assert.Contains(t, text, "status_led: led {")
}

func TestRenameWithoutSymbol(t *testing.T) {
	log := &errorLog{}
	f := newFixtureWithLog(t, nil, nil, log)
	f.open(t, f.board, boardText)

	_, err := f.s.textDocumentRename(f.client.context(), &protocol.RenameParams{
		TextDocumentPositionParams: position(f.board, 2, 0),
		NewName:                    "x",
	})
	var rpcErr *jsonrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int64(jsonrpc2.CodeInvalidParams), rpcErr.Code)
	assert.Empty(t, log.logged())
}

func TestPublishDiagnostics(t *testing.T) {
	f := newFixture(t, nil, map[string]any{"experimental": true})

	f.open(t, f.board, "/ { node {; };\n")

	published := f.client.sent("textDocument/publishDiagnostics")
	require.NotEmpty(t, published)
	params, ok := published[0].(protocol.PublishDiagnosticsParams)
	require.True(t, ok)
	assert.Equal(t, f.board, params.URI)
	assert.NotEmpty(t, params.Diagnostics)
}

func TestWorkspaceSymbol(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.open(t, f.board, boardText)

	symbols, err := f.s.workspaceSymbol(f.client.context(), &protocol.WorkspaceSymbolParams{Query: "lde"})
	require.NoError(t, err)
	require.Len(t, symbols, 1)
	assert.Equal(t, "led", symbols[0].Name)
	assert.Equal(t, protocol.Location{URI: f.common, Range: rng(1, 1, 1, 4)}, symbols[0].Location)

	symbols, err = f.s.workspaceSymbol(f.client.context(), &protocol.WorkspaceSymbolParams{Query: "uart"})
	require.NoError(t, err)
	assert.Empty(t, symbols)
}

func TestShowIncludeGraph(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.open(t, f.board, boardText)

	addr, err := f.s.workspaceExecuteCommand(f.client.context(), &protocol.ExecuteCommandParams{Command: ShowIncludeGraph})
	require.NoError(t, err)
	require.NotEmpty(t, addr)

	again, err := f.s.workspaceExecuteCommand(f.client.context(), &protocol.ExecuteCommandParams{Command: ShowIncludeGraph})
	require.NoError(t, err)
	assert.Equal(t, addr, again)
	assert.Len(t, f.client.sent("window/showDocument"), 2)
	assert.Len(t, f.s.viewer.Graph().Links, 1)

	_, err = f.s.workspaceExecuteCommand(f.client.context(), &protocol.ExecuteCommandParams{Command: "nope"})
	var rpcErr *jsonrpc2.Error
	assert.ErrorAs(t, err, &rpcErr)
}

func TestIndexExport(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.open(t, f.board, boardText)

	db := filepath.Join(t.TempDir(), "index.db")
	require.NoError(t, f.s.openIndex(db))
	require.NoError(t, f.s.exportIndex())

	stats, err := f.s.index.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 1, stats.Labels)
}

func TestMatcher(t *testing.T) {
	tests := []struct {
		pattern string
		text    string
		want    bool
	}{
		{"", "anything", true},
		{"led", "led", true},
		{"led", "status_led", true},
		{"uarr", "uart0", true},
		{"usb", "led", false},
		{"i2c", "spi0", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, matcher(tt.pattern, 1)(tt.text))
		})
	}
}
