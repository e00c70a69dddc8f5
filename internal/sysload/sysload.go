// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sysload samples CPU, memory, and disk utilization from /proc.
// The readings feed the adaptive debounce window of the typing path and the
// system block of the health endpoint. All readings degrade to zero when the
// proc files are unavailable.
package sysload

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
)

// Sampler computes CPU utilization from successive /proc/stat deltas.
// The first call after construction returns 0 because a single sample
// carries no rate information.
type Sampler struct {
	mu        sync.Mutex
	prevBusy  uint64
	prevTotal uint64
	statPath  string
	memPath   string
}

// NewSampler returns a Sampler reading the standard proc paths.
func NewSampler() *Sampler {
	return &Sampler{statPath: "/proc/stat", memPath: "/proc/meminfo"}
}

// CPUPercent returns aggregate CPU utilization in [0,100] since the last call.
func (s *Sampler) CPUPercent() float64 {
	data, err := os.ReadFile(s.statPath)
	if err != nil {
		return 0
	}
	busy, total, ok := parseCPUTotals(string(data))
	if !ok {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	dBusy := busy - s.prevBusy
	dTotal := total - s.prevTotal
	first := s.prevTotal == 0
	s.prevBusy, s.prevTotal = busy, total
	if first || dTotal == 0 {
		return 0
	}
	return 100 * float64(dBusy) / float64(dTotal)
}

// parseCPUTotals extracts busy and total jiffies from the aggregate "cpu"
// line. Fields: user nice system idle iowait irq softirq steal.
func parseCPUTotals(stat string) (busy, total uint64, ok bool) {
	for _, line := range strings.Split(stat, "\n") {
		if !strings.HasPrefix(line, "cpu ") {
			continue
		}
		fields := strings.Fields(line)[1:]
		var vals []uint64
		for _, f := range fields {
			n, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				break
			}
			vals = append(vals, n)
		}
		if len(vals) < 5 {
			return 0, 0, false
		}
		for _, v := range vals {
			total += v
		}
		idle := vals[3] + vals[4] // idle + iowait
		return total - idle, total, true
	}
	return 0, 0, false
}

// MemoryPercent returns used physical memory in [0,100].
// Used = MemTotal - MemAvailable, matching free(1).
func (s *Sampler) MemoryPercent() float64 {
	data, err := os.ReadFile(s.memPath)
	if err != nil {
		return 0
	}
	var memTotal, memAvail uint64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			memTotal, _ = strconv.ParseUint(fields[1], 10, 64)
		case "MemAvailable:":
			memAvail, _ = strconv.ParseUint(fields[1], 10, 64)
		}
	}
	if memTotal == 0 {
		return 0
	}
	return 100 * float64(memTotal-memAvail) / float64(memTotal)
}

// DiskPercent returns used space on the root filesystem in [0,100].
func (s *Sampler) DiskPercent() float64 {
	var st syscall.Statfs_t
	if err := syscall.Statfs("/", &st); err != nil || st.Blocks == 0 {
		return 0
	}
	used := st.Blocks - st.Bfree
	return 100 * float64(used) / float64(st.Blocks)
}

// Load returns the combined load signal used by the adaptive debounce:
// (cpu% + mem%) / 2, normalized to [0,1].
func (s *Sampler) Load() float64 {
	return (s.CPUPercent() + s.MemoryPercent()) / 200
}
