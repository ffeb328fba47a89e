package main

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"
)

// processTable maps a task id to the external child process currently
// attributed to it. At most one process per task; presence means the
// process has not been confirmed exited.
type processTable struct {
	mu    sync.Mutex
	procs map[string]*exec.Cmd
}

func newProcessTable() *processTable {
	return &processTable{procs: make(map[string]*exec.Cmd)}
}

func (t *processTable) Track(taskID string, cmd *exec.Cmd) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.procs[taskID] = cmd
}

func (t *processTable) Clear(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.procs, taskID)
}

// Kill terminates the process attributed to the task, if any, and clears
// the handle. Safe to call when nothing is tracked or the process has
// already exited.
func (t *processTable) Kill(taskID string, killer processKiller) bool {
	t.mu.Lock()
	cmd, ok := t.procs[taskID]
	delete(t.procs, taskID)
	t.mu.Unlock()
	if !ok || cmd == nil || cmd.Process == nil {
		return false
	}
	killer.KillTree(cmd.Process.Pid)
	return true
}

// KillAll terminates every tracked process. Used by the admin kill-all
// endpoint.
func (t *processTable) KillAll(killer processKiller) int {
	t.mu.Lock()
	cmds := make([]*exec.Cmd, 0, len(t.procs))
	for id, cmd := range t.procs {
		cmds = append(cmds, cmd)
		delete(t.procs, id)
	}
	t.mu.Unlock()

	killed := 0
	for _, cmd := range cmds {
		if cmd != nil && cmd.Process != nil {
			killer.KillTree(cmd.Process.Pid)
			killed++
		}
	}
	return killed
}

func (t *processTable) ActiveIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.procs))
	for id := range t.procs {
		ids = append(ids, id)
	}
	return ids
}

func (t *processTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.procs)
}

// processKiller terminates a process by pid. Two implementations exist:
// a tree-aware kill via gopsutil and a plain single-pid kill fallback.
// The rest of the system never branches on which one is active.
type processKiller interface {
	KillTree(pid int)
}

type treeKiller struct {
	log zerolog.Logger
}

// KillTree kills descendants first, then the parent, tolerating
// already-gone races. Never raises when the target has exited.
func (k treeKiller) KillTree(pid int) {
	parent, err := process.NewProcess(int32(pid))
	if err != nil {
		killPid(pid)
		return
	}
	children, err := parent.Children()
	if err == nil {
		for _, child := range children {
			k.KillTree(int(child.Pid))
		}
	}
	if err := parent.Kill(); err != nil {
		k.log.Debug().Int("pid", pid).Err(err).Msg("parent kill failed")
	}
}

type plainKiller struct{}

func (plainKiller) KillTree(pid int) {
	killPid(pid)
}

func killPid(pid int) {
	p, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	_ = p.Kill()
}

// selectProcessKiller probes for process enumeration support once at
// startup and picks the tree-aware kill when available.
func selectProcessKiller(log zerolog.Logger) processKiller {
	if _, err := process.Pids(); err != nil {
		log.Warn().Err(err).Msg("process enumeration unavailable, using single-pid kill")
		return plainKiller{}
	}
	return treeKiller{log: log}
}

// Supervisor runs one external child process under a timeout, keeping the
// task's liveness fresh while the process works so the stall monitor does
// not kill legitimately slow encodes.
type Supervisor struct {
	registry *TaskRegistry
	procs    *processTable
	killer   processKiller
	poll     time.Duration
	ping     time.Duration
	log      zerolog.Logger
}

func newSupervisor(registry *TaskRegistry, procs *processTable, killer processKiller, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		registry: registry,
		procs:    procs,
		killer:   killer,
		poll:     SupervisorPollInterval,
		ping:     LivenessPingInterval,
		log:      log,
	}
}

// Run starts the command, registers its handle under taskID, and waits
// for exit or timeout. While running, every ping interval it refreshes
// the task's activity timestamp and annotates the current message with
// elapsed time. Returns (exit ok, captured stderr).
func (s *Supervisor) Run(taskID string, timeout time.Duration, stage TaskStatus, name string, args ...string) (bool, string) {
	cmd := exec.Command(name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return false, err.Error()
	}
	s.procs.Track(taskID, cmd)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	start := time.Now()
	lastPing := start
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			s.procs.Clear(taskID)
			if err != nil {
				out := strings.TrimSpace(stderr.String())
				if out == "" {
					out = err.Error()
				}
				return false, out
			}
			return true, ""

		case <-ticker.C:
			elapsed := time.Since(start)
			if elapsed > timeout {
				s.log.Error().Str("task", shortID(taskID)).Dur("timeout", timeout).Msg("child process timeout, killing tree")
				if cmd.Process != nil {
					s.killer.KillTree(cmd.Process.Pid)
				}
				s.procs.Clear(taskID)
				<-done
				return false, fmt.Sprintf("process timeout after %s", timeout)
			}
			if time.Since(lastPing) > s.ping {
				secs := int(elapsed.Seconds())
				s.registry.Update(taskID, func(st *TaskState) {
					if st.Status == stage {
						base := strings.TrimSpace(strings.SplitN(st.Message, " (", 2)[0])
						st.Message = fmt.Sprintf("%s (%ds)...", base, secs)
					}
				})
				lastPing = time.Now()
			}
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
