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

// Package modrinth implements metacache.RemoteLookup against the Modrinth
// API: a single version_files lookup by sha512 followed by a batched
// projects fetch, built on pkg/httpclient the same way this module's
// other API clients are.
package modrinth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/zaparoo-labs/instance-core/pkg/apperr"
	"github.com/zaparoo-labs/instance-core/pkg/httpclient"
	"github.com/zaparoo-labs/instance-core/pkg/instance"
	"github.com/zaparoo-labs/instance-core/pkg/metacache"
)

const defaultBaseURL = "https://api.modrinth.com/v2"

// Client queries the Modrinth API for version/project metadata.
type Client struct {
	http    *httpclient.Client
	baseURL string
}

// New constructs a Client. Modrinth's public API does not require a key for
// the endpoints this package uses, but a user agent is set per Modrinth's
// API guidelines.
func New(userAgent string) *Client {
	return &Client{
		http: httpclient.NewClientWithHeaders(map[string]string{
			"User-Agent": userAgent,
			"Accept":     "application/json",
		}),
		baseURL: defaultBaseURL,
	}
}

// NewWithBaseURL is New, pointed at an arbitrary base URL (for tests
// against an httptest server).
func NewWithBaseURL(userAgent, baseURL string) *Client {
	c := New(userAgent)
	c.baseURL = baseURL
	return c
}

// Name implements metacache.RemoteLookup.
func (c *Client) Name() string { return metacache.Modrinth }

type versionFilesRequest struct {
	Hashes    []string `json:"hashes"`
	Algorithm string   `json:"algorithm"`
}

type versionFile struct {
	Hashes struct {
		SHA512 string `json:"sha512"`
		SHA1   string `json:"sha1"`
	} `json:"hashes"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Primary  bool   `json:"primary"`
}

type mrVersion struct {
	ID            string        `json:"id"`
	ProjectID     string        `json:"project_id"`
	Name          string        `json:"name"`
	VersionNumber string        `json:"version_number"`
	VersionType   string        `json:"version_type"`
	GameVersions  []string      `json:"game_versions"`
	Loaders       []string      `json:"loaders"`
	Files         []versionFile `json:"files"`
}

type mrProject struct {
	ID      string `json:"id"`
	Slug    string `json:"slug"`
	Title   string `json:"title"`
	IconURL string `json:"icon_url"`
	Team    string `json:"team"`
}

// releaseChannel maps Modrinth's version_type ("release", "beta", "alpha")
// to instance.ReleaseChannel.
func releaseChannel(versionType string) instance.ReleaseChannel {
	switch versionType {
	case "release":
		return instance.Stable
	case "beta":
		return instance.Beta
	default:
		return instance.Alpha
	}
}

// primaryFile returns the file flagged primary, or the first file if none
// is, matching Modrinth's own fallback behavior for multi-file versions.
func primaryFile(files []versionFile) (versionFile, bool) {
	if len(files) == 0 {
		return versionFile{}, false
	}
	for _, f := range files {
		if f.Primary {
			return f, true
		}
	}
	return files[0], true
}

// LookupByHash looks up sha512 hashes via Modrinth's version_files
// endpoint, then enriches each matched version with its parent project.
func (c *Client) LookupByHash(ctx context.Context, hashes []string) (map[string]metacache.ModMetadata, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(versionFilesRequest{Hashes: hashes, Algorithm: "sha512"})
	if err != nil {
		return nil, fmt.Errorf("modrinth: encoding version_files request: %w", err)
	}

	resp, err := c.http.Post(ctx, c.baseURL+"/version_files", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("modrinth: version_files request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return nil, &apperr.ErrRemote{Status: resp.StatusCode, Message: "modrinth version_files"}
	}

	var versionsByHash map[string]mrVersion
	if err := json.NewDecoder(resp.Body).Decode(&versionsByHash); err != nil {
		return nil, fmt.Errorf("modrinth: decoding version_files response: %w", err)
	}
	if len(versionsByHash) == 0 {
		return nil, nil
	}

	projectIDs := make([]string, 0, len(versionsByHash))
	seen := make(map[string]bool)
	for _, v := range versionsByHash {
		if !seen[v.ProjectID] {
			seen[v.ProjectID] = true
			projectIDs = append(projectIDs, v.ProjectID)
		}
	}

	projects, err := c.getProjects(ctx, projectIDs)
	if err != nil {
		return nil, err
	}

	result := make(map[string]metacache.ModMetadata, len(versionsByHash))
	for hash, v := range versionsByHash {
		project, ok := projects[v.ProjectID]
		if !ok {
			continue
		}
		file, ok := primaryFile(v.Files)
		if !ok {
			continue
		}

		paths := make([]metacache.UpdatePath, 0, len(v.GameVersions)*len(v.Loaders))
		loaders := v.Loaders
		if len(loaders) == 0 {
			loaders = []string{""}
		}
		for _, gv := range v.GameVersions {
			for _, loader := range loaders {
				paths = append(paths, metacache.UpdatePath{
					GameVersion: gv,
					Loader:      loader,
					Channel:     releaseChannel(v.VersionType),
				})
			}
		}

		result[hash] = metacache.ModMetadata{
			ProjectID:   project.ID,
			FileID:      v.ID,
			Name:        project.Title,
			Version:     v.VersionNumber,
			Slug:        project.Slug,
			Channel:     releaseChannel(v.VersionType),
			Filename:    file.Filename,
			FileURL:     file.URL,
			IconURL:     project.IconURL,
			UpdatePaths: paths,
		}
	}

	return result, nil
}

func (c *Client) getProjects(ctx context.Context, projectIDs []string) (map[string]mrProject, error) {
	idsJSON, err := json.Marshal(projectIDs)
	if err != nil {
		return nil, fmt.Errorf("modrinth: encoding project ids: %w", err)
	}

	reqURL := c.baseURL + "/projects?ids=" + url.QueryEscape(string(idsJSON))
	resp, err := c.http.Get(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("modrinth: projects request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return nil, &apperr.ErrRemote{Status: resp.StatusCode, Message: "modrinth projects"}
	}

	var projects []mrProject
	if err := json.NewDecoder(resp.Body).Decode(&projects); err != nil {
		return nil, fmt.Errorf("modrinth: decoding projects response: %w", err)
	}

	out := make(map[string]mrProject, len(projects))
	for _, p := range projects {
		out[p.ID] = p
	}
	return out, nil
}

// FetchIcon downloads the raw icon bytes referenced by meta.IconURL.
func (c *Client) FetchIcon(ctx context.Context, meta metacache.ModMetadata) ([]byte, error) {
	if meta.IconURL == "" {
		return nil, fmt.Errorf("modrinth: project %s has no icon url", meta.ProjectID)
	}
	resp, err := c.http.Get(ctx, meta.IconURL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return nil, &apperr.ErrRemote{Status: resp.StatusCode, Message: meta.IconURL}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("modrinth: reading icon body: %w", err)
	}
	return data, nil
}
