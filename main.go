package main

import (
	"flag"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/o2lab/gpucheck/analyzer"
	"github.com/o2lab/gpucheck/config"
	"github.com/o2lab/gpucheck/report"
	"github.com/o2lab/gpucheck/stats"
)

// main sets up flags and configuration, then analyzes every module
// path on the command line through the registered IR frontends.
func main() {
	debug := flag.Bool("debug", false, "Prints log.Debug messages.")
	machine := flag.Bool("machine", false, "Emit machine-readable file:line findings.")
	verbose := flag.Bool("verbose", false, "Report findings without debug info as raw IR.")
	classify := flag.Bool("classifySeverity", false, "Grade coalesce findings by request count.")
	flag.BoolVar(&stats.CollectStats, "collectStats", false, "Collect analysis statistics.")
	noSpin := flag.Bool("noSpin", false, "Disable the progress spinner.")
	cfgPath := flag.String("config", "", "Path to gpucheck.yml; defaults to the working directory.")
	help := flag.Bool("help", false, "Show all command-line options.")
	flag.Parse()
	if *help {
		flag.PrintDefaults()
		return
	}

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	if *debug {
		log.SetLevel(log.DebugLevel)
		config.TurnOnSpinning = false
	}
	if *noSpin {
		config.TurnOnSpinning = false
	}

	ymlPath := *cfgPath
	if ymlPath == "" {
		curDir, _ := os.Getwd()
		ymlPath = filepath.Join(curDir, "gpucheck.yml")
	}
	config.DecodeYmlFile(ymlPath)
	if *machine {
		config.MachineReadable = true
	}
	if *verbose {
		config.Verbose = true
	}
	if *classify {
		config.ClassifySeverity = true
	}

	if flag.NArg() == 0 {
		log.Fatalln("Usage: gpucheck [flags] module.bc ...")
	}

	for _, path := range flag.Args() {
		m, err := analyzer.LoadModule(path)
		if err != nil {
			log.Fatalf("ERROR loading module %s: %v", path, err)
		}
		reporter := &report.Reporter{}
		runner := &analyzer.AnalysisRunner{Module: m, Reporter: reporter}
		runner.Run()
		reporter.Flush()
	}
}
