package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/pprof"

	"github.com/desertwitch/minixfs/internal/schema"
)

// cpuProfile writes a CPU profile of the command to a host file.
type cpuProfile struct {
	f *os.File
}

func startCPUProfile(path string) (*cpuProfile, error) {
	f, err := (&schema.OS{}).OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		return nil, fmt.Errorf("(profile) failed to create cpu profile: %w", err)
	}

	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()

		return nil, fmt.Errorf("(profile) failed to start cpu profile: %w", err)
	}

	slog.Debug("Started CPU profile", "path", path)

	return &cpuProfile{f: f}, nil
}

// Stop ends profiling. It is safe on a nil profile.
func (p *cpuProfile) Stop() {
	if p == nil {
		return
	}

	pprof.StopCPUProfile()

	if err := p.f.Close(); err != nil {
		slog.Error("Could not close cpu profile", "err", err)
	}
}
