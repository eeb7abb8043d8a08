// Package config holds the analysis knobs. Defaults match the
// contractual constants; a gpucheck.yml file and command-line flags
// may override them.
package config

import (
	"io/ioutil"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

var (
	// DivergeThresh is the divergence score above which a branch is
	// reported.
	DivergeThresh = 0.1
	// CoalesceThres is the transactions-per-warp score above which an
	// access is reported.
	CoalesceThres = 4.0
	// AccessSize is the widest span, in bytes, one memory transaction
	// may cover.
	AccessSize int64 = 256
	// Warps and WarpSize fix the synthetic sampling shape.
	Warps    = 8
	WarpSize = 32
	// GridDim is the synthetic launch shape: thread dims x/y/z then
	// block dims x/y/z.
	GridDim = [6]int64{256, 32, 32, 1, 1, 1}
	// UpdateProbeDepth bounds the DAG walk that recognizes
	// read-modify-write stores.
	UpdateProbeDepth = 4

	// MachineReadable switches the reporter to file:line records.
	MachineReadable = false
	// Verbose prints findings without debug locations as raw
	// instruction text instead of suppressing them.
	Verbose = false
	// ClassifySeverity grades coalesce findings by request count
	// instead of reporting severity Unknown.
	ClassifySeverity = false

	// GoTest suppresses the progress spinner under `go test`.
	GoTest = false
	// TurnOnSpinning enables the terminal spinner; turn off in IDEs.
	TurnOnSpinning = true
)

// GpuCheck mirrors the YAML layout of gpucheck.yml.
type GpuCheck struct {
	GpuCheckCfgs []GpuCheckCfg `yaml:"gpucheckcfgs"`
}

// GpuCheckCfg is one configuration block.
type GpuCheckCfg struct {
	DivergeThresh    *float64 `yaml:"divergeThresh"`
	CoalesceThres    *float64 `yaml:"coalesceThres"`
	AccessSize       *int64   `yaml:"accessSize"`
	Warps            *int     `yaml:"warps"`
	WarpSize         *int     `yaml:"warpSize"`
	GridDim          []int64  `yaml:"gridDim"`
	MachineReadable  *bool    `yaml:"machineReadable"`
	ClassifySeverity *bool    `yaml:"classifySeverity"`
}

// DecodeYmlFile takes the absolute path of a gpucheck.yml file and
// applies every block it contains. A missing file keeps the defaults.
func DecodeYmlFile(absPath string) {
	raw, err := ioutil.ReadFile(absPath)
	if err != nil {
		log.Debugf("No gpucheck.yml at %s, using built-in defaults", absPath)
		return
	}
	gc := GpuCheck{}
	if err := yaml.Unmarshal(raw, &gc); err != nil {
		log.Fatalf("Yml Decode Error: %v", err)
	}
	for _, cfg := range gc.GpuCheckCfgs {
		if cfg.DivergeThresh != nil {
			DivergeThresh = *cfg.DivergeThresh
		}
		if cfg.CoalesceThres != nil {
			CoalesceThres = *cfg.CoalesceThres
		}
		if cfg.AccessSize != nil {
			AccessSize = *cfg.AccessSize
		}
		if cfg.Warps != nil {
			Warps = *cfg.Warps
		}
		if cfg.WarpSize != nil {
			WarpSize = *cfg.WarpSize
		}
		if len(cfg.GridDim) == 6 {
			copy(GridDim[:], cfg.GridDim)
		}
		if cfg.MachineReadable != nil {
			MachineReadable = *cfg.MachineReadable
		}
		if cfg.ClassifySeverity != nil {
			ClassifySeverity = *cfg.ClassifySeverity
		}
	}
}
