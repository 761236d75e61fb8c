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

// Command instanceengine is the standalone process entrypoint: a single
// binary that wires this engine's own components and emits the thin
// stdout readiness contract a frontend watches (see pkg/readysignal).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/zaparoo-labs/instance-core/pkg/app"
	"github.com/zaparoo-labs/instance-core/pkg/config"
	"github.com/zaparoo-labs/instance-core/pkg/instance"
	"github.com/zaparoo-labs/instance-core/pkg/logging"
	"github.com/zaparoo-labs/instance-core/pkg/metacache"
	"github.com/zaparoo-labs/instance-core/pkg/readysignal"
	"github.com/zaparoo-labs/instance-core/pkg/tasks"
)

func main() {
	baseAPI := flag.String("base_api", "", "override the default API host")
	genBindings := flag.Bool("generate-ts-bindings", false, "emit the client schema and exit")
	rootDir := flag.String("root", ".", "instance data root directory")
	daemon := flag.Bool("daemon", false, "disable pretty console logging")
	flag.Parse()

	if *genBindings {
		if err := emitSchema(os.Stdout); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	logging.Setup(!*daemon, zerolog.InfoLevel)
	log := logging.For("main")
	// The --base_api value is only logged; no API client is pointed at it.
	if *baseAPI != "" {
		log.Info().Str("base_api", *baseAPI).Msg("using overridden API host")
	}

	fs := afero.NewOsFs()
	if err := fs.MkdirAll(*rootDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("creating root directory")
	}

	global, err := config.Load(fs, filepath.Join(*rootDir, "config.toml"))
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}

	inner, err := app.New(app.Config{
		RootDir:         *rootDir,
		FS:              fs,
		Logger:          log,
		Global:          global,
		MetaStorePath:   filepath.Join(*rootDir, "metacache.db"),
		VersionResolver: newLocalVersionResolver(fs, filepath.Join(*rootDir, "versions")),
		JavaDiscoverer:  pathJavaDiscoverer{},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("starting instance engine")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Fatal().Err(err).Msg("binding health listener")
	}
	srv := &http.Server{Handler: healthHandler(inner)}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server stopped")
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	readysignal.WriteReady(os.Stdout, port)
	log.Info().Int("port", port).Msg("instance engine ready")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func healthHandler(inner *app.Inner) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		if inner.Instances == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	hub := tasks.NewHub(inner.Tasks, inner.Logger)
	mux.HandleFunc("/tasks/ws", hub.ServeWS)
	return mux
}

// schema is the minimal shape of the client-facing types a frontend
// binds against, standing in for the full rspc-generated schema the
// excluded RPC router would otherwise emit.
type schema struct {
	Instance     instance.Instance     `json:"instance"`
	LaunchState  instance.LaunchState  `json:"launchState"`
	TaskProgress tasks.Progress        `json:"taskProgress"`
	ModMetadata  metacache.ModMetadata `json:"modMetadata"`
}

func emitSchema(w *os.File) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(schema{})
}
