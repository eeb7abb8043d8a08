// Package stats collects counters describing how much symbolic
// translation the analyses performed, mirroring the per-kind
// statistics the analyzer logs when -collectStats is set.
package stats

import (
	log "github.com/sirupsen/logrus"
)

// CollectStats gates all counting; off by default.
var CollectStats bool

// ACFKind enumerates the translation counters.
type ACFKind int

const (
	// ACF expression kinds, by translated instruction.
	NTranslations ACFKind = iota
	NBinOp
	NCall
	NCast
	NCmp
	NLoad
	NPhi
	NGEP
	NArg
	NUnknown

	// Must be the last.
	NStatCount
)

var statName = map[ACFKind]string{
	NTranslations: "ACF Expressions/Subexpressions Generated",
	NBinOp:        "BinOp ACF Expressions Generated",
	NCall:         "Call ACF Expressions Generated",
	NCast:         "Cast ACF Expressions Generated",
	NCmp:          "Cmp ACF Expressions Generated",
	NLoad:         "Load ACF Expressions Generated",
	NPhi:          "Phi ACF Expressions Generated",
	NGEP:          "GEP ACF Expressions Generated",
	NArg:          "Arg ACF Expressions Generated",
	NUnknown:      "Unknown Instruction ACF Expressions Generated",
}

var counts [NStatCount]int64

// maxContexts tracks the largest interprocedural context set built.
var maxContexts int

// Inc bumps one counter.
func Inc(k ACFKind) {
	if CollectStats {
		counts[k]++
	}
}

// RecordContexts keeps the running maximum context-set size.
func RecordContexts(n int) {
	if CollectStats && n > maxContexts {
		maxContexts = n
	}
}

// Print dumps all counters through the logger.
func Print() {
	if !CollectStats {
		return
	}
	for k := NTranslations; k < NStatCount; k++ {
		log.Infof("%8d - %s", counts[k], statName[k])
	}
	log.Infof("%8d - Maximum IACF Set Size", maxContexts)
}

// Reset zeroes every counter; used between modules and by tests.
func Reset() {
	counts = [NStatCount]int64{}
	maxContexts = 0
}
