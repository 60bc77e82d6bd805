//go:build darwin

package main

import (
	"os/exec"
	"strconv"
	"strings"
)

func physicalMemoryBytes() uint64 {
	out, err := exec.Command("sysctl", "-n", "hw.memsize").Output()
	if err != nil {
		return 0
	}
	v, _ := strconv.ParseUint(strings.TrimSpace(string(out)), 10, 64)
	return v
}
