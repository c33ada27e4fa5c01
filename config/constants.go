package config

import "github.com/brettbedarf/memfs/internal/util"

// CLI verbosity values accepted by [ConfigOverride.LogLvl].
const (
	ErrorVerbose = iota + 1
	WarnVerbose
	InfoVerbose
	DebugVerbose
	TraceVerbose
)

// verbosityLevels maps a verbosity (index+1) to the internal log level.
var verbosityLevels = [...]util.LogLevel{
	util.ErrorLevel,
	util.WarnLevel,
	util.InfoLevel,
	util.DebugLevel,
	util.TraceLevel,
}

// LogLevelFromVerbose clamps v to [ErrorVerbose, TraceVerbose] and returns
// the matching log level.
func LogLevelFromVerbose(v int) util.LogLevel {
	v = max(ErrorVerbose, min(v, TraceVerbose))
	return verbosityLevels[v-1]
}

// Names of the three persistence streams inside [Config.StateDir].
const (
	FilesStateFile = "files_list"
	DirsStateFile  = "dirs_list"
	LinksStateFile = "links_list"
)
