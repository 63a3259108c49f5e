package logging_test

import (
	"testing"

	"github.com/igor-prusov/dts-lsp/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

type sent struct {
	method string
	params protocol.LogMessageParams
}

func TestClientLoggerForwardsOnceAttached(t *testing.T) {
	log := logging.New(logging.Client, "test")

	var got []sent
	log.Infof("before attach")

	logging.Attach(func(method string, params any) {
		got = append(got, sent{method: method, params: params.(protocol.LogMessageParams)})
	})
	defer logging.Detach()

	log.Infof("opened %s", "a.dts")
	log.Warningf("include %q not found", "missing.dtsi")
	log.Debugf("not forwarded")

	require.Len(t, got, 2)
	assert.Equal(t, protocol.ServerWindowLogMessage, got[0].method)
	assert.Equal(t, "opened a.dts", got[0].params.Message)
	assert.Equal(t, protocol.MessageTypeInfo, got[0].params.Type)
	assert.Equal(t, protocol.MessageTypeWarning, got[1].params.Type)
}

func TestConsoleLoggerNeverForwards(t *testing.T) {
	calls := 0
	logging.Attach(func(string, any) { calls++ })
	defer logging.Detach()

	logging.New(logging.Console, "test").Errorf("boom")
	logging.Discard().Errorf("boom")

	assert.Zero(t, calls)
}
