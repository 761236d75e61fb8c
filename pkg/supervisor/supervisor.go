// Zaparoo Core
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Core.
//
// Zaparoo Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Core.  If not, see <http://www.gnu.org/licenses/>.

// Package supervisor implements process supervision of the launched
// game: pipe multiplexing into the log processor, a per-run log file, a
// playtime ticker, and a select-over-{exit,kill,tick,cancel} termination
// loop followed by a wait for both pipes to drain. The supervisor owns the child process directly via os/exec and
// waits on it itself, rather than tracking an external pid.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/zaparoo-labs/instance-core/pkg/gamelog"
	"github.com/zaparoo-labs/instance-core/pkg/logfrag"
)

// PlaytimeTickInterval is the cadence at which accumulated seconds_played
// is persisted.
const PlaytimeTickInterval = 60 * time.Second

// Hooks are the optional pre-resolved shell commands run around the
// child's lifecycle.
type Hooks struct {
	// PostExit, if non-empty, is run (program then arguments) after the
	// child exits. The pre-launch hook is run by the launch pipeline
	// before the child is started, so Hooks carries no field for it.
	PostExit []string
}

// Callbacks lets the caller observe supervisor lifecycle events without
// this package depending on the instance/launch packages (avoids an
// import cycle: launch depends on supervisor, not the reverse).
type Callbacks struct {
	// OnPlaytimeTick is called every PlaytimeTickInterval with the
	// cumulative seconds played so far this run.
	OnPlaytimeTick func(totalSeconds int64)
	// OnExit is called exactly once when the child has exited, before
	// PostExit hooks run.
	OnExit func(exitCode int)
}

// Supervisor runs one game process to completion.
type Supervisor struct {
	fs     afero.Fs
	clock  clockwork.Clock
	logger zerolog.Logger
}

// New constructs a Supervisor.
func New(fsys afero.Fs, clock clockwork.Clock, logger zerolog.Logger) *Supervisor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Supervisor{fs: fsys, clock: clock, logger: logger}
}

// Handle is returned once the child is spawned; KillSignal triggers
// termination.
type Handle struct {
	PID        int
	LogID      gamelog.ID
	Log        *gamelog.GameLog
	KillSignal chan struct{}
	Done       <-chan struct{} // closed once supervision has fully finished
}

// Run spawns cmd and returns its Handle as soon as the child has
// started. A background goroutine then multiplexes stdout/stderr into a
// fresh GameLog (the raw bytes are also tee'd to logFilePath, followed by
// a log4j-event XML fragment recording the exit code), ticks playtime,
// and kills the child when KillSignal fires or ctx is cancelled. Once the
// child has exited, OnExit and the PostExit hook run and Handle.Done is
// closed.
func (s *Supervisor) Run(
	ctx context.Context,
	cmd *exec.Cmd,
	instanceShortpath, logFilePath string,
	registry *gamelog.Registry,
	hooks Hooks,
	cb Callbacks,
) (Handle, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Handle{}, fmt.Errorf("supervisor: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Handle{}, fmt.Errorf("supervisor: stderr pipe: %w", err)
	}

	logID, log := registry.StartRun(instanceShortpath)

	if err := s.fs.MkdirAll(dirOf(logFilePath), 0o755); err != nil {
		return Handle{}, fmt.Errorf("supervisor: creating log dir: %w", err)
	}
	logFile, err := s.fs.Create(logFilePath)
	if err != nil {
		return Handle{}, fmt.Errorf("supervisor: creating log file: %w", err)
	}

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return Handle{}, fmt.Errorf("supervisor: starting child: %w", err)
	}

	kill := make(chan struct{})
	done := make(chan struct{})
	handle := Handle{PID: cmd.Process.Pid, LogID: logID, Log: log, KillSignal: kill, Done: done}

	start := s.clock.Now()
	drained := make(chan struct{})
	stdoutDone, stderrDone := make(chan struct{}), make(chan struct{})
	go s.pump(stdout, log, gamelog.StdOut, logFile, stdoutDone)
	go s.pump(stderr, log, gamelog.StdErr, logFile, stderrDone)
	go func() {
		<-stdoutDone
		<-stderrDone
		close(drained)
	}()

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	go func() {
		defer close(done)
		defer func() { _ = logFile.Close() }()

		ticker := s.clock.NewTicker(PlaytimeTickInterval)
		defer ticker.Stop()

		var waitErr error

	loop:
		for {
			select {
			case waitErr = <-exited:
				break loop
			case <-kill:
				if cmd.Process != nil {
					_ = cmd.Process.Kill()
				}
			case <-ticker.Chan():
				if cb.OnPlaytimeTick != nil {
					cb.OnPlaytimeTick(int64(s.clock.Since(start).Seconds()))
				}
			case <-ctx.Done():
				if cmd.Process != nil {
					_ = cmd.Process.Kill()
				}
			}
		}

		<-drained

		exitCode := exitCodeOf(waitErr)
		log.Append(gamelog.LogEntry{
			Source:  gamelog.System,
			Logger:  "SUPERVISOR",
			Level:   logfrag.Info,
			Message: fmt.Sprintf("process exited with code %d", exitCode),
		})
		if _, werr := logFile.Write([]byte(logfrag.FormatSystemEntry(0, fmt.Sprintf("process exited with code %d", exitCode)))); werr != nil {
			s.logger.Warn().Err(werr).Msg("writing exit entry to log file")
		}

		if cb.OnExit != nil {
			cb.OnExit(exitCode)
		}

		if len(hooks.PostExit) > 0 {
			hookCmd := exec.CommandContext(context.Background(), hooks.PostExit[0], hooks.PostExit[1:]...) //nolint:gosec // operator-configured hook command
			if runErr := hookCmd.Run(); runErr != nil {
				// Hook failures are logged only; they never fail the run.
				s.logger.Warn().Err(runErr).Msg("post-exit hook failed")
			}
		}
	}()

	return handle, nil
}

func (s *Supervisor) pump(r io.Reader, log *gamelog.GameLog, src gamelog.Source, tee afero.File, done chan<- struct{}) {
	defer close(done)
	proc := logfrag.NewProcessor()
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, werr := tee.Write(chunk); werr != nil {
				s.logger.Warn().Err(werr).Msg("writing to per-run log file")
			}
			for _, e := range proc.Feed(chunk) {
				log.Append(toEntry(src, e))
			}
		}
		if err != nil {
			for _, e := range proc.Flush() {
				log.Append(toEntry(src, e))
			}
			return
		}
	}
}

func toEntry(src gamelog.Source, e logfrag.Entry) gamelog.LogEntry {
	return gamelog.LogEntry{
		Source:      src,
		Logger:      e.Logger,
		Message:     e.Message,
		Thread:      e.Thread,
		Level:       e.Level,
		TimestampMs: e.TimestampMs,
	}
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func dirOf(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' || p[i] == '\\' {
			return p[:i]
		}
	}
	return "."
}
