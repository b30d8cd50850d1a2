package main

import "github.com/mikoim/go-loadavg"

// currentLoad1 reads the 1-minute load average, used by
// guessParallelism to avoid over-scheduling an already busy machine.
// Grounded in the teacher's go.mod dependency; the teacher lists the
// package but never calls it, so this is its first real use.
func currentLoad1() (float64, bool) {
	avg, err := loadavg.Parse()
	if err != nil {
		return 0, false
	}
	return avg.LoadAverage1, true
}
