package procutil

import (
	"net"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"testing"
	"time"
)

func startSleep(t *testing.T) *exec.Cmd {
	t.Helper()
	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start sleep: %v", err)
	}
	return cmd
}

func TestIsProcessAlive(t *testing.T) {
	tests := []struct {
		name string
		pid  int
		want bool
	}{
		{"zero PID", 0, false},
		{"negative PID", -1, false},
		{"own process", os.Getpid(), true},
		{"nonexistent PID", 99999999, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsProcessAlive(tt.pid); got != tt.want {
				t.Errorf("IsProcessAlive(%d) = %v, want %v", tt.pid, got, tt.want)
			}
		})
	}
}

func TestGetDescendantPIDs_InvalidPID(t *testing.T) {
	for _, pid := range []int{0, -1} {
		if got := GetDescendantPIDs(pid); got != nil {
			t.Errorf("GetDescendantPIDs(%d) = %v, want nil", pid, got)
		}
	}
}

func TestGetDescendantPIDs_FindsChild(t *testing.T) {
	cmd := startSleep(t)
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	for _, pid := range GetDescendantPIDs(os.Getpid()) {
		if pid == cmd.Process.Pid {
			return
		}
	}
	t.Errorf("descendants of the test process should include %d", cmd.Process.Pid)
}

func TestTerminate(t *testing.T) {
	cmd := startSleep(t)
	pid := cmd.Process.Pid
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	if err := Terminate(pid); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		_ = cmd.Process.Kill()
		t.Fatal("process did not exit after SIGTERM")
	}

	// Terminating a reaped process is a no-op.
	if err := Terminate(pid); err != nil {
		t.Errorf("Terminate() on exited process = %v, want nil", err)
	}
	if err := Terminate(0); err != nil {
		t.Errorf("Terminate(0) = %v, want nil", err)
	}
}

func TestKillProcessTree_InvalidPID(t *testing.T) {
	KillProcessTree(0)
	KillProcessTree(-1)
}

func TestKillProcessTree_KillsDescendants(t *testing.T) {
	// Mimics the node wrapper: a shell whose child does the real work.
	cmd := exec.Command("sh", "-c", "sleep 60 & wait")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start shell: %v", err)
	}
	shellPID := cmd.Process.Pid
	time.Sleep(200 * time.Millisecond)

	descendants := GetDescendantPIDs(shellPID)
	KillProcessTree(shellPID)
	_ = cmd.Wait()

	time.Sleep(100 * time.Millisecond)
	if IsProcessAlive(shellPID) {
		t.Errorf("root %d should be dead", shellPID)
	}
	for _, pid := range descendants {
		if IsProcessAlive(pid) {
			_ = syscall.Kill(pid, syscall.SIGKILL)
			t.Errorf("descendant %d should be dead after KillProcessTree", pid)
		}
	}
}

func TestWaitForProcessExit(t *testing.T) {
	t.Run("invalid or dead PID", func(t *testing.T) {
		for _, pid := range []int{0, -1, 99999999} {
			if !WaitForProcessExit(pid, 100*time.Millisecond) {
				t.Errorf("WaitForProcessExit(%d) = false, want true", pid)
			}
		}
	})

	t.Run("process exits", func(t *testing.T) {
		cmd := exec.Command("sleep", "0.1")
		if err := cmd.Start(); err != nil {
			t.Fatalf("failed to start: %v", err)
		}
		// Reap it; zombies still answer kill(pid, 0).
		go func() { _ = cmd.Wait() }()

		if !WaitForProcessExit(cmd.Process.Pid, 2*time.Second) {
			t.Error("expected exit within timeout")
		}
	})

	t.Run("timeout", func(t *testing.T) {
		cmd := startSleep(t)
		defer func() {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
		}()

		if WaitForProcessExit(cmd.Process.Pid, 150*time.Millisecond) {
			t.Error("expected false for a process that keeps running")
		}
	})
}

func TestFreePort(t *testing.T) {
	port, err := FreePort()
	if err != nil {
		t.Fatalf("FreePort() error = %v", err)
	}
	if port <= 0 || port > 65535 {
		t.Fatalf("FreePort() = %d, out of range", port)
	}
	if IsPortOccupied(port) {
		t.Errorf("port %d should have been released", port)
	}
}

func TestIsPortOccupied(t *testing.T) {
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port

	if !IsPortOccupied(port) {
		t.Errorf("IsPortOccupied(%d) = false while listening", port)
	}

	_ = l.Close()
	if IsPortOccupied(port) {
		t.Errorf("IsPortOccupied(%d) = true after close", port)
	}

	// The check must not leave its own listener behind.
	l2, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		t.Fatalf("port %d still held by the check: %v", port, err)
	}
	_ = l2.Close()
}
