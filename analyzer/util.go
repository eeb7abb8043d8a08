package analyzer

import (
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	log "github.com/sirupsen/logrus"

	"github.com/o2lab/gpucheck/config"
	"github.com/o2lab/gpucheck/ir"
)

// Frontend loads a compiled GPU module from a path. Bitcode parsing
// is an external collaborator; frontends register themselves here.
type Frontend func(path string) (*ir.Module, error)

var frontends = make(map[string]Frontend)

// RegisterFrontend installs a module loader under a name; typically
// called from a frontend package's init.
func RegisterFrontend(name string, load Frontend) {
	frontends[name] = load
}

// LoadModule tries every registered frontend in turn.
func LoadModule(path string) (*ir.Module, error) {
	for name, load := range frontends {
		m, err := load(path)
		if err == nil {
			return m, nil
		}
		log.Debugf("frontend %s rejected %s: %v", name, path, err)
	}
	return nil, fmt.Errorf("no registered frontend accepts %s", path)
}

// global: all progress output shares one spinner.
var spin *spinner.Spinner

func doStartLog(msg string) {
	if config.GoTest {
		return
	}
	if config.TurnOnSpinning {
		if spin == nil {
			spin = spinner.New(spinner.CharSets[9], 100*time.Millisecond)
			spin.Suffix = msg
			spin.Start()
		} else {
			spin.Suffix = msg
			spin.Restart()
		}
	} else {
		log.Info(msg)
	}
}

func doEndLog(args ...interface{}) {
	if config.GoTest {
		return
	}
	if config.TurnOnSpinning && spin != nil {
		spin.FinalMSG = fmt.Sprint(args[0]) + "\n"
		spin.Stop()
	} else {
		log.Info(args...)
	}
}
