// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package health

import (
	"context"
	"fmt"
	"runtime"
	"syscall"
)

const (
	memoryThresholdDegraded = 85.0 // percent
	diskThresholdDegraded   = 85.0 // percent
)

// SystemResourceCheck reports process memory usage and disk usage of the
// working directory as a single health check. Crossing either 85% threshold
// returns an error, which the checker records as unhealthy; the check has no
// separate degraded result.
func SystemResourceCheck() HealthCheck {
	return func(ctx context.Context) error {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		if m.Sys > 0 {
			memPercent := float64(m.Alloc) / float64(m.Sys) * 100
			if memPercent >= memoryThresholdDegraded {
				return fmt.Errorf("heap usage at %.1f%% of reserved memory", memPercent)
			}
		}

		var stat syscall.Statfs_t
		if err := syscall.Statfs(".", &stat); err != nil {
			return fmt.Errorf("disk stat failed: %w", err)
		}

		totalBytes := stat.Blocks * uint64(stat.Bsize)
		freeBytes := stat.Bfree * uint64(stat.Bsize)
		if totalBytes == 0 {
			return nil
		}

		diskPercent := float64(totalBytes-freeBytes) / float64(totalBytes) * 100
		if diskPercent >= diskThresholdDegraded {
			return fmt.Errorf("disk usage at %.1f%%", diskPercent)
		}
		return nil
	}
}
