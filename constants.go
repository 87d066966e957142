package hvac

import "github.com/bbbhvac/hvaccore/internal/constants"

// Re-export the timing and sizing constants embedders most often need to
// reference directly (default ports, cache depth, PID file location)
// without importing internal/constants.
const (
	DefaultBaudRate       = constants.DefaultBaudRate
	AIChannelsPerBoard    = constants.AIChannelsPerBoard
	DefaultCacheDepth     = constants.DefaultCacheDepth
	DefaultUnixSocketPath = constants.DefaultUnixSocketPath
	DefaultTCPPort        = constants.DefaultTCPPort
	DefaultPIDFile        = constants.DefaultPIDFile
	LogicLoopPeriod       = constants.LogicLoopPeriod
	FloatMin              = constants.FloatMin
)
