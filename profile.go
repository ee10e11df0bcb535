package qvm

import "go.uber.org/zap"

// dumpProfile writes the per-function call-count profile gathered since
// EnableProfiling(true) to the log, highest call count first (SPEC_FULL.md
// §4 "Profiling dump on shutdown"). It is a diagnostic aid, not something
// scripts or builtins can read back.
func (vm *VM) dumpProfile() {
	type row struct {
		name  string
		calls int64
	}
	rows := make([]row, 0, len(vm.profileCalls))
	for fnID, calls := range vm.profileCalls {
		name := "<unknown>"
		if fn := vm.functionAt(fnID); fn != nil {
			name = fn.Name
		}
		rows = append(rows, row{name: name, calls: calls})
	}
	// Insertion sort: profile dumps are a handful to a few hundred entries,
	// not worth pulling in sort for a shutdown-path diagnostic.
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && rows[j].calls > rows[j-1].calls; j-- {
			rows[j], rows[j-1] = rows[j-1], rows[j]
		}
	}

	fields := make([]zap.Field, 0, len(rows)+1)
	fields = append(fields, zap.Int("frame_stack_high_water_mark", vm.frameStackHWM))
	for _, r := range rows {
		fields = append(fields, zap.Int64("calls_"+r.name, r.calls))
	}
	vm.logger.Info("qvm profile", fields...)
}
