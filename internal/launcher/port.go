// Package launcher is the per-branch front end: it derives a deterministic
// dashboard port from the git branch, manages PID files, spawns the
// orchestrator detached, and coordinates cooperative stop.
package launcher

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

// Port range for dashboard instances. Each branch hashes to a starting
// point inside [PortBase, PortBase+PortSpan); collisions probe linearly
// with wrap-around so every port in the range is eventually tried.
const (
	PortBase = 3847
	PortSpan = 1000
)

// ErrPortsBusy is returned when every port in the range is occupied.
var ErrPortsBusy = errors.New("no free dashboard port in range")

// DerivePort hashes the branch name to its deterministic starting port:
// the first four bytes of SHA-256(branch) interpreted big-endian, reduced
// into the range.
func DerivePort(branch string) int {
	sum := sha256.Sum256([]byte(branch))
	n := binary.BigEndian.Uint32(sum[:4])
	return PortBase + int(n%PortSpan)
}

// PortFree reports whether the port is currently bindable on loopback.
func PortFree(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	ln.Close() //nolint:errcheck
	return true
}

// AssignPort picks the dashboard port for a branch. A persisted previous
// assignment (non-zero) is reused while it is still bindable; otherwise
// the probe starts at the branch's derived port and walks the range with
// wrap-around. probe is injectable for tests and defaults to PortFree.
func AssignPort(branch string, persisted int, probe func(int) bool) (int, error) {
	if probe == nil {
		probe = PortFree
	}

	if persisted >= PortBase && persisted < PortBase+PortSpan && probe(persisted) {
		return persisted, nil
	}

	start := DerivePort(branch)
	for i := 0; i < PortSpan; i++ {
		p := PortBase + ((start-PortBase)+i)%PortSpan
		if probe(p) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: tried all %d ports from %d", ErrPortsBusy, PortSpan, PortBase)
}
