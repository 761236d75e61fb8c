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

// Package logging configures the process-wide zerolog logger: a console
// writer in interactive mode, plain JSON in daemon mode, plus
// component-scoped sub-loggers.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup installs the global zerolog logger. When pretty is true, output is
// written through zerolog.ConsoleWriter (interactive terminal use);
// otherwise raw JSON lines are written, suited to daemon/service mode.
func Setup(pretty bool, level zerolog.Level) {
	zerolog.SetGlobalLevel(level)

	var w io.Writer = os.Stderr
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}

	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

// For returns a logger scoped to a named component, e.g. logging.For("stager").
func For(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
