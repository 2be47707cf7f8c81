package dut

import (
	"fmt"
	"strconv"
	"strings"
)

// MibResult holds the counters extracted from fastconfig -R debug output.
// Either field may be nil when the corresponding label is absent or not
// parseable; that is a valid outcome, not an error.
type MibResult struct {
	// Total received packet count (user->rec_rx_count).
	RecRxCount *uint32
	// Decoded-OK count for the requested bandwidth (receive <BW>M OK).
	RxOKCount *uint32
}

// ParseMibResponse extracts the packet counters for bwMHz from the free-form
// MIB debug text. Pure function, no I/O.
func ParseMibResponse(output string, bwMHz uint32) MibResult {
	var result MibResult

	for _, line := range strings.Split(output, "\n") {
		idx := strings.Index(line, "user->rec_rx_count")
		if idx < 0 {
			continue
		}
		parts := strings.SplitN(line[idx:], "=", 2)
		if len(parts) < 2 {
			continue
		}
		if v, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 32); err == nil {
			n := uint32(v)
			result.RecRxCount = &n
			break
		}
	}

	key := fmt.Sprintf("receive %dM OK", bwMHz)
	for _, line := range strings.Split(output, "\n") {
		idx := strings.Index(line, key)
		if idx < 0 {
			continue
		}
		after := line[idx+len(key):]
		parts := strings.SplitN(after, "=", 2)
		if len(parts) < 2 {
			continue
		}
		// The value runs up to the next comma or end of line.
		numStr := strings.TrimSpace(strings.SplitN(strings.TrimSpace(parts[1]), ",", 2)[0])
		if v, err := strconv.ParseUint(numStr, 10, 32); err == nil {
			n := uint32(v)
			result.RxOKCount = &n
			break
		}
	}

	return result
}
