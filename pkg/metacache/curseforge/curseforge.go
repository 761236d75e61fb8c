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

// Package curseforge implements metacache.RemoteLookup against the
// CurseForge API: fingerprint (murmur2) matching followed by a batched
// mod-details fetch that enriches each match with mod/file metadata,
// built on pkg/httpclient the same way this module's other API clients
// are.
package curseforge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/zaparoo-labs/instance-core/pkg/apperr"
	"github.com/zaparoo-labs/instance-core/pkg/httpclient"
	"github.com/zaparoo-labs/instance-core/pkg/instance"
	"github.com/zaparoo-labs/instance-core/pkg/metacache"
)

const defaultBaseURL = "https://api.curseforge.com/v1"

// Client queries the CurseForge API for fingerprint matches.
type Client struct {
	http    *httpclient.Client
	baseURL string
}

// New constructs a Client authenticated with the given CurseForge API key.
func New(apiKey string) *Client {
	return &Client{
		http: httpclient.NewClientWithHeaders(map[string]string{
			"x-api-key": apiKey,
			"Accept":    "application/json",
		}),
		baseURL: defaultBaseURL,
	}
}

// NewWithBaseURL is New, pointed at an arbitrary base URL (for tests
// against an httptest server).
func NewWithBaseURL(apiKey, baseURL string) *Client {
	c := New(apiKey)
	c.baseURL = baseURL
	return c
}

// Name implements metacache.RemoteLookup.
func (c *Client) Name() string { return metacache.Curseforge }

type fingerprintRequest struct {
	Fingerprints []uint32 `json:"fingerprints"`
}

type fingerprintMatch struct {
	ID           uint32   `json:"id"`
	File         cfFile   `json:"file"`
	LatestFiles  []cfFile `json:"latestFiles"`
}

type cfFile struct {
	ID           uint32 `json:"id"`
	ModID        uint32 `json:"modId"`
	FileName     string `json:"fileName"`
	DownloadURL  string `json:"downloadUrl"`
	ReleaseType  int    `json:"releaseType"`
	GameVersions []string `json:"gameVersions"`
}

type fingerprintResponse struct {
	Data struct {
		ExactMatches []fingerprintMatch `json:"exactMatches"`
	} `json:"data"`
}

type cfMod struct {
	ID      uint32 `json:"id"`
	Name    string `json:"name"`
	Slug    string `json:"slug"`
	Summary string `json:"summary"`
	Logo    *struct {
		URL string `json:"url"`
	} `json:"logo"`
	Authors []struct {
		Name string `json:"name"`
	} `json:"authors"`
}

type modsResponse struct {
	Data []cfMod `json:"data"`
}

// releaseChannel maps CurseForge's releaseType (1=release, 2=beta,
// 3=alpha) to instance.ReleaseChannel.
func releaseChannel(releaseType int) instance.ReleaseChannel {
	switch releaseType {
	case 1:
		return instance.Stable
	case 2:
		return instance.Beta
	default:
		return instance.Alpha
	}
}

// LookupByHash takes murmur2 fingerprints encoded as decimal strings and
// returns matched mod metadata, keyed by the same string.
func (c *Client) LookupByHash(ctx context.Context, hashes []string) (map[string]metacache.ModMetadata, error) {
	fingerprints := make([]uint32, 0, len(hashes))
	byFingerprint := make(map[uint32]string, len(hashes))
	for _, h := range hashes {
		n, err := strconv.ParseUint(h, 10, 32)
		if err != nil {
			continue
		}
		fp := uint32(n)
		fingerprints = append(fingerprints, fp)
		byFingerprint[fp] = h
	}
	if len(fingerprints) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(fingerprintRequest{Fingerprints: fingerprints})
	if err != nil {
		return nil, fmt.Errorf("curseforge: encoding fingerprint request: %w", err)
	}

	resp, err := c.http.Post(ctx, c.baseURL+"/fingerprints", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("curseforge: fingerprint request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return nil, &apperr.ErrRemote{Status: resp.StatusCode, Message: "curseforge fingerprints"}
	}

	var fpResp fingerprintResponse
	if err := json.NewDecoder(resp.Body).Decode(&fpResp); err != nil {
		return nil, fmt.Errorf("curseforge: decoding fingerprint response: %w", err)
	}

	if len(fpResp.Data.ExactMatches) == 0 {
		return nil, nil
	}

	modIDs := make([]uint32, 0, len(fpResp.Data.ExactMatches))
	seen := make(map[uint32]bool)
	for _, m := range fpResp.Data.ExactMatches {
		if !seen[m.File.ModID] {
			seen[m.File.ModID] = true
			modIDs = append(modIDs, m.File.ModID)
		}
	}

	mods, err := c.getMods(ctx, modIDs)
	if err != nil {
		return nil, err
	}

	result := make(map[string]metacache.ModMetadata, len(fpResp.Data.ExactMatches))
	for _, m := range fpResp.Data.ExactMatches {
		hash, ok := byFingerprint[m.ID]
		if !ok {
			continue
		}
		mod, ok := mods[m.File.ModID]
		if !ok {
			continue
		}

		var authors string
		for i, a := range mod.Authors {
			if i > 0 {
				authors += ", "
			}
			authors += a.Name
		}

		iconURL := ""
		if mod.Logo != nil {
			iconURL = mod.Logo.URL
		}

		paths := make([]metacache.UpdatePath, 0, len(m.File.GameVersions))
		for _, gv := range m.File.GameVersions {
			paths = append(paths, metacache.UpdatePath{GameVersion: gv, Channel: releaseChannel(m.File.ReleaseType)})
		}

		result[hash] = metacache.ModMetadata{
			ProjectID:   strconv.FormatUint(uint64(mod.ID), 10),
			FileID:      strconv.FormatUint(uint64(m.File.ID), 10),
			Name:        mod.Name,
			Slug:        mod.Slug,
			Summary:     mod.Summary,
			Authors:     authors,
			Channel:     releaseChannel(m.File.ReleaseType),
			Filename:    m.File.FileName,
			FileURL:     m.File.DownloadURL,
			IconURL:     iconURL,
			UpdatePaths: paths,
		}
	}

	return result, nil
}

type modsRequest struct {
	ModIDs []uint32 `json:"modIds"`
}

func (c *Client) getMods(ctx context.Context, modIDs []uint32) (map[uint32]cfMod, error) {
	body, err := json.Marshal(modsRequest{ModIDs: modIDs})
	if err != nil {
		return nil, fmt.Errorf("curseforge: encoding mods request: %w", err)
	}

	resp, err := c.http.Post(ctx, c.baseURL+"/mods", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("curseforge: mods request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return nil, &apperr.ErrRemote{Status: resp.StatusCode, Message: "curseforge mods"}
	}

	var mr modsResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, fmt.Errorf("curseforge: decoding mods response: %w", err)
	}

	out := make(map[uint32]cfMod, len(mr.Data))
	for _, m := range mr.Data {
		out[m.ID] = m
	}
	return out, nil
}

// FetchIcon downloads the raw icon bytes referenced by meta.IconURL.
func (c *Client) FetchIcon(ctx context.Context, meta metacache.ModMetadata) ([]byte, error) {
	if meta.IconURL == "" {
		return nil, fmt.Errorf("curseforge: mod %s has no icon url", meta.ProjectID)
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
		return nil, fmt.Errorf("curseforge: reading icon body: %w", err)
	}
	return data, nil
}
