package memfs

import (
	"github.com/brettbedarf/memfs/config"
	"github.com/brettbedarf/memfs/server"
)

// New creates a MemFs instance given your config.
func New(cfg *config.Config) (*server.MemFs, error) {
	return server.New(cfg)
}
