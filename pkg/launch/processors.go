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

package launch

import (
	"context"
	"crypto/sha1" //nolint:gosec // loader install-processor output verification, not security-sensitive
	"encoding/hex"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/afero"

	"github.com/zaparoo-labs/instance-core/pkg/paths"
	"github.com/zaparoo-labs/instance-core/pkg/versionmanifest"
)

// runProcessors runs a Forge/NeoForge install's processor chain in order,
// each to completion before the next starts, serialized system-wide via
// processorSem. A processor whose declared Sides
// excludes "client" is skipped, and one whose Outputs already match their
// expected sha1 is skipped as already applied. Each processor jar is
// invoked with `java -jar`, matching how Forge/NeoForge distribute their
// install processors as self-executing jars with their own manifest
// Main-Class.
func runProcessors(ctx context.Context, fs afero.Fs, javaPath string, pth paths.Instance, procs []versionmanifest.Processor) error {
	if err := processorSem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("launch: acquiring processor semaphore: %w", err)
	}
	defer processorSem.Release(1)

	for _, proc := range procs {
		if !runsOnClient(proc) {
			continue
		}
		done, err := processorAlreadyApplied(fs, pth, proc)
		if err != nil {
			return err
		}
		if done {
			continue
		}

		jarPath := filepath.Join(pth.Libraries(), filepath.FromSlash(proc.JAR))
		args := append([]string{"-cp", classpathOf(proc, pth), "-jar", jarPath}, proc.Args...)
		cmd := exec.CommandContext(ctx, javaPath, args...) //nolint:gosec // arguments derived from resolved loader manifest
		cmd.Dir = pth.Root()
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("launch: processor %s failed: %w\n%s", proc.JAR, err, out)
		}
	}
	return nil
}

func runsOnClient(p versionmanifest.Processor) bool {
	if len(p.Sides) == 0 {
		return true
	}
	for _, s := range p.Sides {
		if s == "client" {
			return true
		}
	}
	return false
}

// processorAlreadyApplied hashes every declared output and reports true
// only if all of them already match their expected sha1, meaning a prior
// (possibly interrupted) prepare already ran this processor.
func processorAlreadyApplied(fs afero.Fs, pth paths.Instance, p versionmanifest.Processor) (bool, error) {
	if len(p.Outputs) == 0 {
		return false, nil
	}
	for outPath, expectedSHA1 := range p.Outputs {
		sum, err := sha1File(fs, filepath.Join(pth.Root(), filepath.FromSlash(outPath)))
		if err != nil || sum != expectedSHA1 {
			// Missing, unreadable, or mismatched output means the
			// processor still needs to run.
			return false, nil
		}
	}
	return true, nil
}

func sha1File(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := sha1.New() //nolint:gosec
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func classpathOf(p versionmanifest.Processor, pth paths.Instance) string {
	sep := ":"
	if runtime.GOOS == "windows" {
		sep = ";"
	}
	cp := filepath.Join(pth.Libraries(), filepath.FromSlash(p.JAR))
	for _, entry := range p.Classpath {
		cp += sep + filepath.Join(pth.Libraries(), filepath.FromSlash(entry))
	}
	return cp
}
