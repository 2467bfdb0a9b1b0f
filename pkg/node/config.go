package node

import (
	"time"

	"go.uber.org/zap"

	"github.com/opencyphal-garage/cynode/pkg/diag"
	"github.com/opencyphal-garage/cynode/pkg/dsdl"
	"github.com/opencyphal-garage/cynode/pkg/iface/mocktime"
)

// Default periods for the scheduler's three rate classes, per spec.md §2
// "Scheduler / main loop ... three rate classes (fast, 1 Hz, 0.1 Hz)".
const (
	DefaultFastPeriod    = 20 * time.Millisecond // 50 Hz
	DefaultOneHzPeriod   = 1 * time.Second
	DefaultTenthHzPeriod = 10 * time.Second

	// DefaultMaxNodeID bounds the assignable node-ID range, per spec.md §3
	// "integer in [0, MaxNodeID]".
	DefaultMaxNodeID dsdl.NodeID = 127

	// DefaultPoolCapacity / DefaultPoolBlockSize size the shared block
	// allocator backing every queued fragment (spec.md §4.1).
	DefaultPoolCapacity  = 256 * 1024
	DefaultPoolBlockSize = 512

	// ControlTimeout is the standard disarm window for the actuator role
	// (spec.md §4.7, §9 "sourced from a DSDL-provided constant; treat as
	// part of the data-type contract, not hard-coded here" — named here as
	// that contract constant rather than derived).
	ControlTimeout = 1 * time.Second
)

// Config holds the node's startup settings. Zero value is not usable
// directly; build one with New(...Option) the way the teacher builds a
// Config via functional options over defaultConfig().
type Config struct {
	kvPath      string
	description string

	productName          string
	softwareVersionMajor uint8
	softwareVersionMinor uint8
	softwareVCSRevision  uint64

	uniqueID [16]byte
	nodeID   dsdl.NodeID
	maxNodeID dsdl.NodeID

	poolCapacity  int
	poolBlockSize int

	fastPeriod    time.Duration
	oneHzPeriod   time.Duration
	tenthHzPeriod time.Duration
	ioBatch       int

	clock   mocktime.Clock
	logger  *zap.Logger
	metrics diag.Metrics
}

// Option configures a Config, per the functional-options pattern used
// throughout this tree's teacher package.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		kvPath:        ":memory:",
		description:   "",
		productName:   "cynode",
		nodeID:        dsdl.NodeIDUnset,
		maxNodeID:     DefaultMaxNodeID,
		poolCapacity:  DefaultPoolCapacity,
		poolBlockSize: DefaultPoolBlockSize,
		fastPeriod:    DefaultFastPeriod,
		oneHzPeriod:   DefaultOneHzPeriod,
		tenthHzPeriod: DefaultTenthHzPeriod,
		ioBatch:       16,
		clock:         mocktime.NewReal(),
		logger:        zap.NewNop(),
		metrics:       diag.Noop{},
	}
}

func applyConfig(opts []Option) *Config {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// WithKVPath sets the buntdb file path backing persistent registers
// (":memory:" for a volatile store).
func WithKVPath(path string) Option {
	return func(c *Config) {
		if path != "" {
			c.kvPath = path
		}
	}
}

// WithNodeID pre-seeds the node-ID register, skipping PnP acquisition.
// Pass dsdl.NodeIDUnset (the default) to boot anonymous.
func WithNodeID(id dsdl.NodeID) Option {
	return func(c *Config) { c.nodeID = id }
}

// WithMaxNodeID overrides the assignable node-ID upper bound.
func WithMaxNodeID(id dsdl.NodeID) Option {
	return func(c *Config) {
		if id > 0 {
			c.maxNodeID = id
		}
	}
}

// WithUniqueID sets the node's persistent 16-byte identity. Callers
// generating a fresh identity should use google/uuid and pass its 16 raw
// bytes.
func WithUniqueID(id [16]byte) Option {
	return func(c *Config) { c.uniqueID = id }
}

// WithDescription sets the free-form uavcan.node.description register's
// initial value.
func WithDescription(desc string) Option {
	return func(c *Config) { c.description = desc }
}

// WithProductInfo sets the fields GetInfo responds with.
func WithProductInfo(name string, swMajor, swMinor uint8, vcsRevision uint64) Option {
	return func(c *Config) {
		if name != "" {
			c.productName = name
		}
		c.softwareVersionMajor = swMajor
		c.softwareVersionMinor = swMinor
		c.softwareVCSRevision = vcsRevision
	}
}

// WithPool overrides the shared block allocator's total capacity and
// per-block size (spec.md §4.1).
func WithPool(capacity, blockSize int) Option {
	return func(c *Config) {
		if capacity > 0 {
			c.poolCapacity = capacity
		}
		if blockSize > 0 {
			c.poolBlockSize = blockSize
		}
	}
}

// WithPeriods overrides the scheduler's three rate-class periods.
func WithPeriods(fast, oneHz, tenthHz time.Duration) Option {
	return func(c *Config) {
		if fast > 0 {
			c.fastPeriod = fast
		}
		if oneHz > 0 {
			c.oneHzPeriod = oneHz
		}
		if tenthHz > 0 {
			c.tenthHzPeriod = tenthHz
		}
	}
}

// WithIOBatch bounds how many datagrams the I/O step drains per interface
// per tick (spec.md §4.8 "accepts any ready RX sockets up to a fixed batch
// size").
func WithIOBatch(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.ioBatch = n
		}
	}
}

// WithClock injects a monotonic clock, e.g. mocktime.NewManual() in tests
// to drive the scheduler without wall-clock sleeps.
func WithClock(clock mocktime.Clock) Option {
	return func(c *Config) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the structured logger every node component writes
// through.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the diagnostics sink. Defaults to diag.Noop{}.
func WithMetrics(m diag.Metrics) Option {
	return func(c *Config) {
		if m != nil {
			c.metrics = m
		}
	}
}
