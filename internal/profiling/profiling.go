// Package profiling writes CPU and heap profiles of a session run.
package profiling

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Profiler owns the profiling flags of one command.
type Profiler struct {
	cpuPath string
	memPath string
	cpuFile *os.File
	logger  *logrus.Entry
}

// New creates a Profiler logging to logger.
func New(logger *logrus.Entry) *Profiler {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Profiler{logger: logger}
}

// Attach adds the profiling flags to cmd and hooks its run.
func (p *Profiler) Attach(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.cpuPath, "cpu-profile", "", "Write a CPU profile to this file")
	cmd.Flags().StringVar(&p.memPath, "mem-profile", "", "Write a heap profile to this file on exit")
	cmd.PreRunE = func(*cobra.Command, []string) error { return p.Start() }
	cmd.PostRun = func(*cobra.Command, []string) { p.Stop() }
}

// Start begins CPU profiling when a CPU profile path is set.
func (p *Profiler) Start() error {
	if p.cpuPath == "" {
		return nil
	}
	f, err := os.Create(p.cpuPath)
	if err != nil {
		return fmt.Errorf("could not create CPU profile: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return fmt.Errorf("could not start CPU profile: %w", err)
	}
	p.cpuFile = f
	return nil
}

// Stop finishes the CPU profile and writes the heap profile.
func (p *Profiler) Stop() {
	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		p.cpuFile.Close()
		p.cpuFile = nil
		p.logger.WithField("path", p.cpuPath).Info("CPU profile written")
	}

	if p.memPath == "" {
		return
	}
	f, err := os.Create(p.memPath)
	if err != nil {
		p.logger.WithError(err).Warn("Could not create heap profile")
		return
	}
	defer f.Close()
	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		p.logger.WithError(err).Warn("Could not write heap profile")
		return
	}
	p.logger.WithField("path", p.memPath).Info("Heap profile written")
}
