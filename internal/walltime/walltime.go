// Package walltime parses a wall-time budget expressed as either a Go
// duration string ("45m", "1h30m") or the HH:MM:SS form common in
// cluster batch systems (e.g. PBS/Torque/SGE -l walltime=).
package walltime

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ToMs parses s as a wall-time budget and returns the equivalent number
// of milliseconds. An empty string returns (0, nil): a zero/absent
// walltime means "no budget", not an error.
func ToMs(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if strings.Contains(s, ":") {
		return hmsToMs(s)
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing walltime %q: %w", s, err)
	}
	return d.Milliseconds(), nil
}

// hmsToMs parses "HH:MM:SS" or "MM:SS".
func hmsToMs(s string) (int64, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("parsing walltime %q: expected HH:MM:SS or MM:SS", s)
	}

	nums := make([]int64, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing walltime %q: %w", s, err)
		}
		nums[i] = n
	}

	var hours, minutes, seconds int64
	if len(nums) == 3 {
		hours, minutes, seconds = nums[0], nums[1], nums[2]
	} else {
		minutes, seconds = nums[0], nums[1]
	}

	total := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second
	return total.Milliseconds(), nil
}
