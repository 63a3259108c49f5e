package depot

import protocol "github.com/tliron/glsp/protocol_3_16"

type EventType string

const (
	CreateFile    EventType = "createFile"
	LoadFile      EventType = "loadFile"
	CreateInclude EventType = "createInclude"
	DeleteInclude EventType = "deleteInclude"
)

// GraphEvent describes one change of the include graph. Target is only set
// for include events.
type GraphEvent struct {
	Type   EventType
	URI    protocol.DocumentUri
	Target protocol.DocumentUri
}
