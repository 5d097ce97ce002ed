package workflow

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Reserved activity ids that may appear as transition sources without a
// matching activity.
const (
	// StartID is the entry id of a top-level compiled graph.
	StartID = "0"
	// ConnectorID seeds every embedded subgraph. The execution engine rebinds
	// it to the owning control activity when the subgraph is instantiated.
	ConnectorID = "temporary_connector"
)

// IDGenerator produces globally unique ids for compiled activities and leaves.
type IDGenerator interface {
	NewID() string
}

type uuidGenerator struct{}

// NewUUIDGenerator returns a generator backed by random UUIDs.
func NewUUIDGenerator() IDGenerator {
	return uuidGenerator{}
}

func (uuidGenerator) NewID() string {
	return uuid.NewString()
}

// SequenceGenerator hands out prefix1, prefix2, ... and is meant for
// reproducible output in tests and golden files.
type SequenceGenerator struct {
	Prefix string
	n      atomic.Uint64
}

// NewID implements IDGenerator.
func (g *SequenceGenerator) NewID() string {
	return g.Prefix + strconv.FormatUint(g.n.Add(1), 10)
}

func isReservedID(id string) bool {
	return id == StartID || id == ConnectorID
}
