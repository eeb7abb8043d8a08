// Package report accumulates analyzer findings and renders them either
// as machine-readable file:line records or as colorized human-readable
// warnings with a source-line echo.
package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/logrusorgru/aurora"
	log "github.com/sirupsen/logrus"

	"github.com/o2lab/gpucheck/config"
	"github.com/o2lab/gpucheck/ir"
)

// Severity ranks a finding.
type Severity int

const (
	SevUnknown Severity = iota
	SevMin
	SevMed
	SevMax
)

func (s Severity) String() string {
	switch s {
	case SevMax:
		return "(MAX)"
	case SevMed:
		return "(Med)"
	case SevMin:
		return "(min)"
	}
	return "(Unk)"
}

// Kind tags the hazard class of a finding.
type Kind int

const (
	DivergentBranch Kind = iota
	UncoalescedRead
	UncoalescedWrite
	UncoalescedUpdate
	UncoalescedCopy
	Uncoalesced
)

func (k Kind) String() string {
	switch k {
	case DivergentBranch:
		return "divergent-branch"
	case UncoalescedRead:
		return "uncoalesced-read"
	case UncoalescedWrite:
		return "uncoalesced-write"
	case UncoalescedUpdate:
		return "uncoalesced-update"
	case UncoalescedCopy:
		return "uncoalesced-copy"
	}
	return "uncoalesced"
}

// Confidence grades how trustworthy the measurement behind a finding
// is. Unpredictable contexts lower it; how a load was paired with a
// store does not affect it.
type Confidence int

const (
	HighConfidence Confidence = iota
	LowConfidence
)

// Finding is one structured analyzer result.
type Finding struct {
	Kind       Kind
	Sev        Severity
	Inst       *ir.Instruction
	Name       string // source-level spelling of the accessed value
	Measure    float64
	Confidence Confidence
	Message    string
}

// Reporter collects findings and writes them on Flush. The zero value
// writes to stderr with an identity demangler.
type Reporter struct {
	Out       io.Writer
	Demangler func(string) string
	findings  []Finding
}

// Emit records one finding.
func (r *Reporter) Emit(f Finding) {
	r.findings = append(r.findings, f)
}

// Findings returns everything emitted so far, ranked most severe
// first, ties broken by measure.
func (r *Reporter) Findings() []Finding {
	sorted := make([]Finding, len(r.findings))
	copy(sorted, r.findings)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Sev != sorted[j].Sev {
			return sorted[i].Sev > sorted[j].Sev
		}
		return sorted[i].Measure > sorted[j].Measure
	})
	return sorted
}

// Flush renders the ranked findings. Findings without debug locations
// are suppressed unless config.Verbose is set.
func (r *Reporter) Flush() {
	out := r.Out
	if out == nil {
		out = os.Stderr
	}
	for _, f := range r.Findings() {
		if config.MachineReadable {
			r.machine(out, f)
		} else {
			r.human(out, f)
		}
	}
}

func (r *Reporter) machine(out io.Writer, f Finding) {
	if f.Inst.Loc == nil {
		if config.Verbose {
			fmt.Fprintf(out, "?:?: %s %s\n", f.Kind, f.Inst)
		}
		return
	}
	fmt.Fprintf(out, "%s:%d\n", f.Inst.Loc.Filename, f.Inst.Loc.Line)
}

func (r *Reporter) human(out io.Writer, f Finding) {
	fn := ""
	if f.Inst.Function() != nil {
		fn = f.Inst.Function().Name()
	}
	if r.Demangler != nil {
		fn = r.Demangler(fn)
	}
	if f.Inst.Loc == nil {
		if !config.Verbose {
			return
		}
		fmt.Fprintf(out, "%s Warning: %s\n", severityTag(f.Sev), f.Message)
		fmt.Fprintf(out, "in %s:\n  %s\n\n", aurora.BrightGreen(fn), f.Inst)
		return
	}
	fmt.Fprintf(out, "%s Warning: %s\n", severityTag(f.Sev), f.Message)
	fmt.Fprintf(out, "%s:%d in %s:\n", f.Inst.Loc.Filename, f.Inst.Loc.Line, aurora.BrightGreen(fn))
	if line, err := sourceLine(filepath.Join(f.Inst.Loc.Dir, f.Inst.Loc.Filename), f.Inst.Loc.Line); err == nil {
		fmt.Fprintf(out, "    %s\n", line)
	} else {
		log.Debugf("source line unavailable: %v", err)
	}
	fmt.Fprintln(out)
}

func severityTag(s Severity) aurora.Value {
	switch s {
	case SevMax:
		return aurora.Red(s.String())
	case SevMed:
		return aurora.Yellow(s.String())
	case SevMin:
		return aurora.Cyan(s.String())
	}
	return aurora.Magenta(s.String())
}

func sourceLine(path string, lineNum int) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()
	scanner := bufio.NewScanner(src)
	for i := 1; scanner.Scan(); i++ {
		if i == lineNum {
			return scanner.Text(), nil
		}
	}
	return "", fmt.Errorf("line %d past end of %s", lineNum, path)
}
