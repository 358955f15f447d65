package discovery

import (
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// debugPortFlag matches --remote-debugging-port=N (or a space separator) on a
// process command line.
var debugPortFlag = regexp.MustCompile(`--remote-debugging-port[=\s](\d+)`)

// ProcessScanner finds remote-debugging ports announced on the command lines
// of running processes. A process started with port 0 picks a random port,
// which is then read from the socket table.
type ProcessScanner struct {
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewProcessScanner creates a scanner that shells out to ps, ss and lsof.
func NewProcessScanner() *ProcessScanner {
	return &ProcessScanner{run: runCommand}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Scan returns the debugging ports of running processes, in process-table
// order. Tool failures yield no ports.
func (s *ProcessScanner) Scan(ctx context.Context) []int {
	out, err := s.run(ctx, "ps", "-eo", "pid=,args=")
	if err != nil {
		return nil
	}

	var ports []int
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		m := debugPortFlag.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		port, err := strconv.Atoi(m[1])
		if err != nil || port < 0 || port > 65535 {
			continue
		}
		if port == 0 {
			if pid, err := strconv.Atoi(fields[0]); err == nil {
				ports = appendUnique(ports, s.listening(ctx, pid)...)
			}
			continue
		}
		ports = appendUnique(ports, port)
	}
	return ports
}

// listening finds the TCP ports a process listens on, trying ss first and
// falling back to lsof.
func (s *ProcessScanner) listening(ctx context.Context, pid int) []int {
	if ports := s.listeningSs(ctx, pid); len(ports) > 0 {
		return ports
	}
	return s.listeningLsof(ctx, pid)
}

func (s *ProcessScanner) listeningSs(ctx context.Context, pid int) []int {
	out, err := s.run(ctx, "ss", "-tlnp")
	if err != nil {
		return nil
	}

	var ports []int
	marker := "pid=" + strconv.Itoa(pid) + ","
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, marker) {
			continue
		}
		// LISTEN 0 128 127.0.0.1:9222 0.0.0.0:* users:(...)
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		local := fields[3]
		if idx := strings.LastIndex(local, ":"); idx != -1 {
			if port, err := strconv.Atoi(local[idx+1:]); err == nil && port > 0 && port < 65536 {
				ports = appendUnique(ports, port)
			}
		}
	}
	return ports
}

var lsofListen = regexp.MustCompile(`:(\d+)\s+\(LISTEN\)`)

func (s *ProcessScanner) listeningLsof(ctx context.Context, pid int) []int {
	// -a ANDs the selectors; without it lsof lists every listener on the host.
	out, err := s.run(ctx, "lsof", "-a", "-iTCP", "-sTCP:LISTEN", "-p", strconv.Itoa(pid), "-n", "-P")
	if err != nil {
		return nil
	}

	var ports []int
	for _, line := range strings.Split(string(out), "\n") {
		if m := lsofListen.FindStringSubmatch(line); m != nil {
			if port, err := strconv.Atoi(m[1]); err == nil && port > 0 && port < 65536 {
				ports = appendUnique(ports, port)
			}
		}
	}
	return ports
}

func appendUnique(ports []int, add ...int) []int {
outer:
	for _, p := range add {
		for _, q := range ports {
			if p == q {
				continue outer
			}
		}
		ports = append(ports, p)
	}
	return ports
}
