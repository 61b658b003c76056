// Package sandbox implements the Sandbox Runner and Container Pool Manager: launching
// one strictly-confined, single-use container per job via the docker CLI and bounding
// how many run concurrently. Grounded on alexdev-tb-CodePortal's internal/executor
// package (os/exec-driven docker invocation, context-based watchdog, ExitError
// inspection) but reworked from "exec into a long-lived container" to "docker run --rm
// one ephemeral container per job", since §4.1 requires read-only rootfs, no network,
// dropped capabilities, and unconditional per-run teardown that a shared container
// cannot provide.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"collabrun/internal/domain"
)

// RunnerConfig configures the docker-backed runner.
type RunnerConfig struct {
	DockerBinary string
	Image        string
	WorkDir      string
	ExecUser     string // "uid:gid", defaults to a fixed non-root pair
}

// Runner compiles and runs submitted source inside a throwaway docker container.
type Runner struct {
	dockerBin string
	image     string
	workDir   string
	execUser  string
}

func NewRunner(cfg RunnerConfig) *Runner {
	dockerBin := strings.TrimSpace(cfg.DockerBinary)
	if dockerBin == "" {
		dockerBin = "docker"
	}
	image := strings.TrimSpace(cfg.Image)
	if image == "" {
		image = "collabrun-sandbox:latest"
	}
	workDir := strings.TrimSpace(cfg.WorkDir)
	if workDir == "" {
		workDir = "/tmp/collabrun-jobs"
	}
	execUser := strings.TrimSpace(cfg.ExecUser)
	if execUser == "" {
		execUser = "65534:65534" // nobody:nogroup
	}
	return &Runner{dockerBin: dockerBin, image: image, workDir: workDir, execUser: execUser}
}

// Run materializes source into a unique workspace, launches a single `docker run --rm`
// invocation bounded by opts.WallTimeoutMs, and unconditionally tears down both the
// container and the workspace on every exit path. containerName is chosen by the caller
// (the Pool) so it can track the name against the live run for the reaper's orphan check.
func (r *Runner) Run(ctx context.Context, jobID string, containerName string, code string, opts domain.ExecutionOptions) domain.ExecutionResult {
	workspace := filepath.Join(r.workDir, jobID)
	if err := os.MkdirAll(workspace, 0o700); err != nil {
		return domain.ExecutionResult{Success: false, Error: fmt.Sprintf("prepare workspace: %v", err)}
	}
	defer os.RemoveAll(workspace)

	sourcePath := filepath.Join(workspace, "main.cpp")
	if err := os.WriteFile(sourcePath, []byte(code), 0o400); err != nil {
		return domain.ExecutionResult{Success: false, Error: fmt.Sprintf("write source: %v", err)}
	}

	wallTimeout := time.Duration(opts.WallTimeoutMs) * time.Millisecond
	execCtx, cancel := context.WithTimeout(ctx, wallTimeout)
	defer cancel()

	defer r.forceRemove(containerName)

	args := r.buildArgs(containerName, sourcePath, opts)
	cmd := exec.CommandContext(execCtx, r.dockerBin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(started)
	timedOut := errors.Is(execCtx.Err(), context.DeadlineExceeded)

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else if !timedOut {
			return domain.ExecutionResult{
				Success: false,
				Error:   fmt.Sprintf("sandbox launch failed: %v", runErr),
			}
		} else {
			exitCode = -1
		}
	}

	return domain.ExecutionResult{
		Success:         !timedOut && exitCode == 0,
		Stdout:          strings.TrimRight(stdout.String(), " \t\r\n"),
		Stderr:          strings.TrimRight(stderr.String(), " \t\r\n"),
		ExitCode:        exitCode,
		ExecutionTimeMs: elapsed.Milliseconds(),
		TimedOut:        timedOut,
	}
}

// NewContainerName mints a container name under the collabrun- prefix the reaper scans
// for, unique per run.
func NewContainerName() string {
	return "collabrun-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// buildArgs assembles the `docker run` invocation enforcing every required constraint
// simultaneously: no network, read-only rootfs with a small writable scratch tmpfs, all
// capabilities dropped, no privilege escalation, a non-privileged user, and hard
// memory/CPU/pids caps. The source is bind-mounted read-only.
func (r *Runner) buildArgs(containerName, sourcePath string, opts domain.ExecutionOptions) []string {
	args := []string{
		"run", "--rm", "-i",
		"--name", containerName,
		"--network", "none",
		"--read-only",
		"--tmpfs", "/tmp:rw,noexec,nosuid,size=10m",
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--user", r.execUser,
		"--memory", opts.MemoryLimit,
		"--cpus", strconv.FormatFloat(opts.CPULimit, 'f', -1, 64),
		"--pids-limit", strconv.Itoa(opts.ProcessCountLimit),
		"-v", sourcePath + ":/workspace/main.cpp:ro",
		"--workdir", "/workspace",
		r.image,
		"/bin/sh", "-c", compileAndRunScript(opts.CompilerFlags),
	}
	return args
}

// compileAndRunScript compiles then runs as a single shell command so a compiler
// failure short-circuits with the compiler's own exit code and stderr.
func compileAndRunScript(flags []string) string {
	return fmt.Sprintf("g++ %s -o /tmp/a.out /workspace/main.cpp && /tmp/a.out", strings.Join(flags, " "))
}

// forceRemove is the unconditional-teardown backstop: --rm handles the common case, but
// a killed watchdog context can leave the container behind, so this always attempts a
// best-effort removal too. Orphans that survive even this are caught by the pool's reaper.
func (r *Runner) forceRemove(containerName string) {
	cmd := exec.Command(r.dockerBin, "rm", "-f", containerName)
	if err := cmd.Run(); err != nil {
		logrus.WithField("container", containerName).WithError(err).Debug("sandbox container removal no-op or failed")
	}
}
