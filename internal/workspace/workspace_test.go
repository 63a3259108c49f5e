package workspace_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/igor-prusov/dts-lsp/internal/depot"
	"github.com/igor-prusov/dts-lsp/internal/logging"
	"github.com/igor-prusov/dts-lsp/internal/resolver"
	"github.com/igor-prusov/dts-lsp/internal/workspace"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

func fixture(t *testing.T, parts ...string) protocol.DocumentUri {
	t.Helper()
	path, err := filepath.Abs(filepath.Join(append([]string{"testdata"}, parts...)...))
	require.NoError(t, err)
	return resolver.PathToURI(path)
}

func newWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	ws := workspace.New(logging.Discard())
	t.Cleanup(ws.Close)
	return ws
}

func rng(sl, sc, el, ec uint32) protocol.Range {
	return protocol.Range{
		Start: protocol.Position{Line: sl, Character: sc},
		End:   protocol.Position{Line: el, Character: ec},
	}
}

func ptr(s string) *string { return &s }

func TestSingleFile(t *testing.T) {
	ws := newWorkspace(t)
	uri := fixture(t, "single", "single.dts")

	ws.HandleFile(context.Background(), uri, nil)

	assert.Equal(t, []depot.LabelEntry{{Name: "lbl", URI: uri, Range: rng(1, 1, 1, 4)}}, ws.Labels.Entries())
	assert.Empty(t, ws.Labels.Find(uri, "missing"))
	assert.Equal(t, 1, ws.Files.Size())
}

func TestHandleFileFollowsIncludes(t *testing.T) {
	ws := newWorkspace(t)
	a := fixture(t, "shared", "a.dts")
	common := fixture(t, "shared", "common.dtsi")

	ws.HandleFile(context.Background(), a, nil)

	assert.Equal(t, 2, ws.Files.WithText())
	assert.Equal(t, []protocol.DocumentUri{common}, ws.Files.Includes(a))
	assert.Equal(t, 1, ws.Labels.Size())
	assert.Equal(t, []depot.Symbol{
		{URI: common, Range: rng(2, 13, 2, 17)},
		{URI: common, Range: rng(3, 11, 3, 15)},
		{URI: common, Range: rng(3, 17, 3, 21)},
	}, ws.References.Find(a, "node"))
}

func TestOpenNeighbours(t *testing.T) {
	ws := newWorkspace(t)
	a := fixture(t, "shared", "a.dts")
	b := fixture(t, "shared", "b.dts")

	ctx := context.Background()
	ws.HandleFile(ctx, a, nil)
	ws.OpenNeighbours(ctx, a)

	// README is not a devicetree file
	assert.Equal(t, 3, ws.Files.Size())
	assert.Equal(t, 2, ws.Labels.Size())
	assert.Equal(t, []depot.Symbol{{URI: a, Range: rng(4, 1, 4, 5)}}, ws.Labels.Find(a, "node"))
	assert.Equal(t, []depot.Symbol{{URI: b, Range: rng(4, 1, 4, 5)}}, ws.Labels.Find(b, "node"))

	// listing the same directory again is a no-op
	ws.Labels.Invalidate(b)
	ws.OpenNeighbours(ctx, b)
	assert.Equal(t, 1, ws.Labels.Size())
}

func TestOpenNeighboursSkipsKnownFiles(t *testing.T) {
	ws := newWorkspace(t)
	a := fixture(t, "shared", "a.dts")
	b := fixture(t, "shared", "b.dts")

	ctx := context.Background()
	ws.Files.AddInclude(fixture(t, "single", "single.dts"), b)
	ws.HandleFile(ctx, a, nil)
	ws.OpenNeighbours(ctx, a)

	_, ok := ws.Files.Text(b)
	assert.False(t, ok)
	assert.Empty(t, ws.Labels.Find(b, "node"))

	// a full scan still loads files only known as include targets
	ws.Files.SetRoot(fixture(t, "shared"))
	require.NoError(t, ws.FullScan(ctx, nil))
	_, ok = ws.Files.Text(b)
	assert.True(t, ok)
}

func TestMissingInclude(t *testing.T) {
	ws := newWorkspace(t)
	a := fixture(t, "missing", "a.dts")

	ws.HandleFile(context.Background(), a, nil)

	assert.Equal(t, 2, ws.Files.Size())
	assert.Equal(t, 1, ws.Files.WithText())
	assert.Equal(t, []protocol.DocumentUri{fixture(t, "missing", "missing.dtsi")}, ws.Files.Includes(a))
	assert.Equal(t, 1, ws.Labels.Size())
}

func TestIncludesPrefixFallback(t *testing.T) {
	ws := newWorkspace(t)
	board := fixture(t, "prefixed", "boards", "board.dts")
	header := fixture(t, "prefixed", "include", "dt-bindings", "gpio.h")
	ws.Files.SetRoot(fixture(t, "prefixed"))

	ctx := context.Background()
	ws.HandleFile(ctx, board, nil)

	require.Equal(t, []protocol.DocumentUri{header}, ws.Files.Includes(board))
	assert.Equal(t, 2, ws.Defines.Size())

	locs, err := ws.Definition(ctx, board, protocol.Position{Line: 4, Character: 14})
	require.NoError(t, err)
	assert.Equal(t, []protocol.Location{{URI: header, Range: rng(0, 8, 0, 24)}}, locs)
}

func TestUnsupportedAndUnreadableFiles(t *testing.T) {
	ws := newWorkspace(t)
	ctx := context.Background()

	ws.HandleFile(ctx, fixture(t, "shared", "README"), nil)
	ws.HandleFile(ctx, "file:///ws/notes.md", ptr("/ { l: n {}; };"))
	ws.HandleFile(ctx, fixture(t, "shared", "does-not-exist.dts"), nil)
	ws.HandleFile(ctx, "untitled:Untitled-1.dts", nil)

	assert.Zero(t, ws.Files.Size())
}

func TestHandleFileIsIdempotent(t *testing.T) {
	ws := newWorkspace(t)
	uri := protocol.DocumentUri("file:///ws/board.dts")
	text := "/ {\n\tfirst: a {};\n\tother = <&first>;\n};\n"

	ctx := context.Background()
	ws.HandleFile(ctx, uri, &text)
	ws.HandleFile(ctx, uri, &text)

	assert.Equal(t, 1, ws.Labels.Size())
	assert.Len(t, ws.References.Find(uri, "first"), 1)
}

func TestHandleFileModifiedInvalidates(t *testing.T) {
	ws := newWorkspace(t)
	uri := protocol.DocumentUri("file:///ws/board.dts")
	ctx := context.Background()

	ws.HandleFile(ctx, uri, ptr("#define OLD 1\n/ {\n\told: a {};\n\tp = <&old>;\n};\n"))
	ws.HandleFile(ctx, uri, ptr("/ {\n\tnew: a {};\n};\n"))

	assert.Empty(t, ws.Labels.Find(uri, "old"))
	assert.Empty(t, ws.References.Find(uri, "old"))
	_, ok := ws.Defines.Find(uri, "OLD")
	assert.False(t, ok)
	assert.Len(t, ws.Labels.Find(uri, "new"), 1)
}

func TestHandleFileModifiedDropsStaleIncludes(t *testing.T) {
	ws := newWorkspace(t)
	// lives next to common.dtsi but only in memory
	uri := fixture(t, "shared", "scratch.dts")
	common := fixture(t, "shared", "common.dtsi")
	ctx := context.Background()

	ws.HandleFile(ctx, uri, ptr("#include \"common.dtsi\"\n"))
	require.Equal(t, []protocol.DocumentUri{common}, ws.Files.Includes(uri))

	ws.HandleFile(ctx, uri, ptr("/ {};\n"))
	assert.Empty(t, ws.Files.Includes(uri))
	assert.NotContains(t, ws.Files.IncludedBy(common), uri)
	assert.Empty(t, ws.References.Find(uri, "node"))

	// re-adding the include does not duplicate the edge
	ws.HandleFile(ctx, uri, ptr("#include \"common.dtsi\"\n"))
	assert.Equal(t, []protocol.DocumentUri{common}, ws.Files.Includes(uri))
}

func TestHeadersOnlyContributeDefines(t *testing.T) {
	ws := newWorkspace(t)
	uri := protocol.DocumentUri("file:///ws/defs.h")

	ws.HandleFile(context.Background(), uri, ptr("#include \"other.h\"\n#define FOO(x) (x)\n/ { l: n {}; };\n"))

	assert.Equal(t, 1, ws.Defines.Size())
	assert.Zero(t, ws.Labels.Size())
	assert.Empty(t, ws.Files.Includes(uri))
}

func TestDiagnosticsArePublished(t *testing.T) {
	ws := newWorkspace(t)
	ws.SetExperimental(true)

	var mu sync.Mutex
	published := map[protocol.DocumentUri][]protocol.Diagnostic{}
	ws.SetPublisher(func(uri protocol.DocumentUri, diags []protocol.Diagnostic) {
		mu.Lock()
		defer mu.Unlock()
		published[uri] = diags
	})

	broken := protocol.DocumentUri("file:///ws/broken.dts")
	ctx := context.Background()
	ws.HandleFile(ctx, broken, ptr("/ {\n\tnode {\n\t\tprop = <1 2;\n\t};\n};\n"))
	assert.NotEmpty(t, published[broken])

	ws.HandleFile(ctx, broken, ptr("/ {\n\tnode {\n\t\tprop = <1 2>;\n\t};\n};\n"))
	diags, ok := published[broken]
	assert.True(t, ok)
	assert.Empty(t, diags)
}

func TestDiagnosticsDisabled(t *testing.T) {
	ws := newWorkspace(t)
	calls := 0
	ws.SetPublisher(func(protocol.DocumentUri, []protocol.Diagnostic) { calls++ })

	ws.HandleFile(context.Background(), "file:///ws/broken.dts", ptr("/ { prop = <1 2; };\n"))
	assert.Zero(t, calls)
}

func TestFullScan(t *testing.T) {
	ws := newWorkspace(t)
	ctx := context.Background()

	require.NoError(t, ws.FullScan(ctx, nil))
	assert.Zero(t, ws.Files.Size())

	ws.Files.SetRoot(fixture(t))
	require.NoError(t, ws.FullScan(ctx, []string{"missing/"}))

	_, ok := ws.Files.Text(fixture(t, "shared", "b.dts"))
	assert.True(t, ok)
	_, ok = ws.Files.Text(fixture(t, "prefixed", "include", "dt-bindings", "gpio.h"))
	assert.True(t, ok)
	assert.False(t, ws.Files.Exists(fixture(t, "missing", "a.dts")))
	// single.dts, a.dts, b.dts, common.dtsi, board.dts, gpio.h
	assert.Equal(t, 6, ws.Files.WithText())
}
