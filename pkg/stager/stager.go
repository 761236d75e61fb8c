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

// Package stager builds the staging tree for a pending modpack change:
// it fetches a CurseForge/Modrinth archive if needed, extracts
// overrides, resolves each manifest entry to a concrete download,
// fetches the lot with the downloader's scheduler, and snapshots the
// result into a staging packinfo for reconciliation against the live
// instance tree. Staging is marker-file driven and afero-injected, so a
// crash mid-stage re-enters cleanly on the next run.
package stager

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/zaparoo-labs/instance-core/pkg/apperr"
	"github.com/zaparoo-labs/instance-core/pkg/downloader"
	"github.com/zaparoo-labs/instance-core/pkg/instance"
	"github.com/zaparoo-labs/instance-core/pkg/manifest"
	"github.com/zaparoo-labs/instance-core/pkg/packinfo"
	"github.com/zaparoo-labs/instance-core/pkg/paths"
	"github.com/zaparoo-labs/instance-core/pkg/tasks"
)

// Platform names a modpack source, matching metacache's platform
// constants so a single string travels end to end.
type Platform string

const (
	Curseforge Platform = "curseforge"
	Modrinth   Platform = "modrinth"
)

// RemoteRef names the platform and already-resolved download URL for a
// modpack archive, used when ChangeSpec.ArchivePath is not already
// populated with a local file. Resolving a platform's project/file id
// into a URL is the caller's concern (the curseforge/modrinth metacache
// clients), mirroring how FileResolver resolves individual mod files.
type RemoteRef struct {
	Platform Platform
	URL      string
}

// FileResolver resolves a CurseForge manifest file entry (project+file id)
// to a concrete download URL. CurseForge requires this extra round trip;
// Modrinth's index already embeds URLs.
type FileResolver interface {
	ResolveFileURL(ctx context.Context, projectID, fileID int) (url string, err error)
}

// ChangeSpec is the stager's input: either a local archive already staged
// at ArchivePath, or a Remote reference to fetch first.
type ChangeSpec struct {
	ArchivePath string
	Remote      *RemoteRef
}

// Stager runs C7 for one instance.
type Stager struct {
	fs         afero.Fs
	httpClient *http.Client
	scheduler  *downloader.Scheduler
	cfResolver FileResolver
}

// New constructs a Stager. cfResolver may be nil if only Modrinth archives
// will be staged.
func New(fs afero.Fs, httpClient *http.Client, cfResolver FileResolver) *Stager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Stager{
		fs:         fs,
		httpClient: httpClient,
		scheduler:  downloader.New(fs, httpClient, false),
		cfResolver: cfResolver,
	}
}

// Result carries what the stager produced, for C8 to consume.
type Result struct {
	StagingRoot     string
	StagingPackinfo packinfo.Packinfo
	GameVersion     instance.GameVersion
}

// Run executes C7's nine steps for instance p given spec, reporting
// progress on task. concurrency bounds the C4 download batch.
func (s *Stager) Run(ctx context.Context, p paths.Instance, spec ChangeSpec, concurrency int, task *tasks.Task) (Result, error) {
	fetchSub := task.Subtask("fetch archive")
	extractSub := task.Subtask("extract overrides")
	downloadSub := task.Subtask("download mods")
	snapshotSub := task.Subtask("snapshot staging tree")

	archivePath := spec.ArchivePath
	platform := Modrinth

	if archivePath == "" {
		if spec.Remote == nil {
			err := &apperr.ErrConfiguration{Reason: "change spec has neither a local archive nor a remote reference"}
			fetchSub.Fail(err)
			return Result{}, err
		}
		platform = spec.Remote.Platform
		dest := filepath.Join(p.ModpackBundleDir(string(platform)), "archive.zip")
		fetchSub.StartOpaque()
		if err := s.fetchArchive(ctx, spec.Remote.URL, dest); err != nil {
			fetchSub.Fail(err)
			return Result{}, err
		}
		fetchSub.CompleteOpaque()
		archivePath = dest
	} else {
		fetchSub.CompleteOpaque()
		if strings.Contains(archivePath, string(Curseforge)) {
			platform = Curseforge
		}
	}

	if err := s.fs.MkdirAll(p.StagingRoot(), 0o755); err != nil {
		err = fmt.Errorf("stager: creating staging root: %w", err)
		extractSub.Fail(err)
		return Result{}, err
	}

	zr, err := s.openZip(archivePath)
	if err != nil {
		extractSub.Fail(err)
		return Result{}, err
	}

	var downloadables []downloader.Downloadable
	var gameVersion instance.GameVersion

	alreadyExtracted, _ := afero.Exists(s.fs, p.ModpackSkipOverridesMarker())

	switch {
	case hasEntry(zr, "manifest.json"):
		raw, readErr := readZipEntry(zr, "manifest.json")
		if readErr != nil {
			extractSub.Fail(readErr)
			return Result{}, readErr
		}
		cfManifest, parseErr := manifest.ParseCurseForgeManifest(raw)
		if parseErr != nil {
			extractSub.Fail(parseErr)
			return Result{}, parseErr
		}
		gameVersion = cfManifest.GameVersion()

		if !alreadyExtracted {
			if extractErr := extractOverrides(s.fs, zr, cfManifest.Overrides, p.StagingRoot()); extractErr != nil {
				extractSub.Fail(extractErr)
				return Result{}, extractErr
			}
		}

		if s.cfResolver == nil {
			err = &apperr.ErrConfiguration{Reason: "curseforge archive requires a file resolver"}
			extractSub.Fail(err)
			return Result{}, err
		}
		for i, f := range cfManifest.Files {
			if !f.Required {
				continue
			}
			url, resolveErr := s.cfResolver.ResolveFileURL(ctx, f.ProjectID, f.FileID)
			if resolveErr != nil {
				err = fmt.Errorf("stager: resolving file %d/%d: %w", f.ProjectID, f.FileID, resolveErr)
				extractSub.Fail(err)
				return Result{}, err
			}
			downloadables = append(downloadables, downloader.Downloadable{
				URL:      url,
				DestPath: filepath.Join(p.StagingRoot(), "mods", fmt.Sprintf("cf-%d-%d.jar", f.ProjectID, i)),
			})
		}

	case hasEntry(zr, "modrinth.index.json"):
		raw, readErr := readZipEntry(zr, "modrinth.index.json")
		if readErr != nil {
			extractSub.Fail(readErr)
			return Result{}, readErr
		}
		idx, parseErr := manifest.ParseModrinthIndex(raw)
		if parseErr != nil {
			extractSub.Fail(parseErr)
			return Result{}, parseErr
		}
		gameVersion = idx.GameVersion()

		if !alreadyExtracted {
			if extractErr := extractOverrides(s.fs, zr, "overrides", p.StagingRoot()); extractErr != nil {
				extractSub.Fail(extractErr)
				return Result{}, extractErr
			}
		}

		for _, f := range idx.Files {
			if f.Excluded() || len(f.Downloads) == 0 {
				continue
			}
			downloadables = append(downloadables, downloader.Downloadable{
				URL:          f.Downloads[0],
				DestPath:     filepath.Join(p.StagingRoot(), filepath.FromSlash(f.Path)),
				ExpectedHash: f.Hashes["sha1"],
				HashAlgo:     downloader.HashSHA1,
				ExpectedSize: f.FileSize,
			})
		}

	default:
		extractSub.Fail(manifest.ErrUnknownFormat)
		return Result{}, manifest.ErrUnknownFormat
	}

	if err := afero.WriteFile(s.fs, p.ModpackSkipOverridesMarker(), []byte{}, 0o644); err != nil {
		err = fmt.Errorf("stager: writing skip-overrides marker: %w", err)
		extractSub.Fail(err)
		return Result{}, err
	}
	extractSub.Complete()

	// Whether a file is already present in the live tree with a matching
	// hash (skip_reason) is determined during C8's reconciliation, not
	// here; every resolved downloadable is fetched into the fresh staging
	// root unconditionally.

	progressCh := make(chan downloader.Progress, 1)
	go func() {
		for prog := range progressCh {
			downloadSub.UpdateDownload(prog.CurrentBytes, prog.TotalBytes, false)
		}
	}()
	_, dlErr := s.scheduler.Run(ctx, downloadables, concurrency, downloader.Download, progressCh)
	close(progressCh)
	if dlErr != nil {
		downloadSub.Fail(dlErr)
		return Result{}, fmt.Errorf("stager: downloading modpack files: %w", dlErr)
	}
	downloadSub.Complete()

	snapshotSub.StartOpaque()
	stagingInfo, scanErr := packinfo.ScanDir(s.fs, p.StagingRoot(), nil)
	if scanErr != nil {
		scanErr = fmt.Errorf("stager: scanning staging tree: %w", scanErr)
		snapshotSub.Fail(scanErr)
		return Result{}, scanErr
	}

	raw, serErr := packinfo.Serialize(stagingInfo)
	if serErr != nil {
		snapshotSub.Fail(serErr)
		return Result{}, serErr
	}
	if err := afero.WriteFile(s.fs, p.StagingPackinfo(), raw, 0o644); err != nil {
		err = fmt.Errorf("stager: writing staging packinfo: %w", err)
		snapshotSub.Fail(err)
		return Result{}, err
	}

	if err := afero.WriteFile(s.fs, p.TmpPackinfo(), raw, 0o644); err != nil {
		err = fmt.Errorf("stager: writing tmp packinfo: %w", err)
		snapshotSub.Fail(err)
		return Result{}, err
	}
	snapshotSub.Complete()

	return Result{StagingRoot: p.StagingRoot(), StagingPackinfo: stagingInfo, GameVersion: gameVersion}, nil
}

// fetchArchive downloads a remote modpack archive to dest.
func (s *Stager) fetchArchive(ctx context.Context, url, dest string) error {
	_, err := s.scheduler.Run(ctx, []downloader.Downloadable{{URL: url, DestPath: dest}}, 1, downloader.Download, nil)
	if err != nil {
		return fmt.Errorf("stager: fetching archive: %w", err)
	}
	return nil
}

// openZip reads an archive fully into memory and wraps it as a
// *zip.Reader. Modpack archives are typically tens of megabytes, well
// within the range this is reasonable for; archive/zip is stdlib since no
// library in the corpus offers a zip codec (see DESIGN.md).
func (s *Stager) openZip(archivePath string) (*zip.Reader, error) {
	f, err := s.fs.Open(archivePath)
	if err != nil {
		return nil, &apperr.ErrArchive{Path: archivePath, Err: err}
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, &apperr.ErrArchive{Path: archivePath, Err: err}
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &apperr.ErrArchive{Path: archivePath, Err: err}
	}
	return zr, nil
}

func hasEntry(zr *zip.Reader, name string) bool {
	for _, f := range zr.File {
		if f.Name == name {
			return true
		}
	}
	return false
}

func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, &apperr.ErrArchive{Path: name, Err: err}
		}
		defer func() { _ = rc.Close() }()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, &apperr.ErrArchive{Path: name, Err: err}
		}
		return data, nil
	}
	return nil, &apperr.ErrArchive{Path: name, Err: fmt.Errorf("entry not found")}
}

// extractOverrides copies every file under prefix/ in the archive into
// destRoot, stripping the prefix.
func extractOverrides(fsys afero.Fs, zr *zip.Reader, prefix, destRoot string) error {
	if prefix == "" {
		prefix = "overrides"
	}
	prefixSlash := strings.TrimSuffix(prefix, "/") + "/"

	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, prefixSlash) || f.FileInfo().IsDir() {
			continue
		}
		rel := strings.TrimPrefix(f.Name, prefixSlash)
		if rel == "" {
			continue
		}
		destPath := filepath.Join(destRoot, filepath.FromSlash(rel))

		if err := fsys.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return &apperr.ErrArchive{Path: f.Name, Err: err}
		}

		rc, err := f.Open()
		if err != nil {
			return &apperr.ErrArchive{Path: f.Name, Err: err}
		}
		out, createErr := fsys.Create(destPath)
		if createErr != nil {
			_ = rc.Close()
			return &apperr.ErrArchive{Path: f.Name, Err: createErr}
		}
		_, copyErr := io.Copy(out, rc)
		_ = rc.Close()
		_ = out.Close()
		if copyErr != nil {
			return &apperr.ErrArchive{Path: f.Name, Err: copyErr}
		}
	}
	return nil
}

