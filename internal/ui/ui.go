// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui holds the terminal output helpers cmd/dulge builds its
// progress and summary reporting on: color palette, header/label
// formatting and a progress bar factory that degrades gracefully when
// stdout isn't a terminal.
package ui

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

var (
	Green  = color.New(color.FgGreen)
	Yellow = color.New(color.FgYellow)
	Red    = color.New(color.FgRed)
	Dim    = color.New(color.Faint)
	Bold   = color.New(color.Bold)
)

// InitColors disables ANSI color codes when stdout isn't a terminal or
// NO_COLOR is set.
func InitColors() {
	if os.Getenv("NO_COLOR") != "" || !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

// Header prints a bold section title on its own line.
func Header(title string) {
	_, _ = Bold.Println(title)
}

// SubHeader prints a dim section title, used for secondary groupings
// under a Header.
func SubHeader(title string) {
	_, _ = Dim.Println(title)
}

// Label renders a bold field label for "Label: value" lines.
func Label(s string) string {
	return Bold.Sprint(s)
}

// CountText renders an integer as a bold count, e.g. for summary lines.
func CountText(n int) string {
	return Bold.Sprintf("%d", n)
}

// DimText renders s in the faint style, for secondary/detail text.
func DimText(s string) string {
	return Dim.Sprint(s)
}

// Quiet suppresses all progress bar output; set from the --quiet flag.
var Quiet bool

// NewProgressBar builds a progress bar over total units, labeled
// description. When Quiet is set or stdout isn't a terminal it
// returns a bar writing to io.Discard so callers don't need to branch.
func NewProgressBar(total int64, description string) *progressbar.ProgressBar {
	if Quiet || !isatty.IsTerminal(os.Stdout.Fd()) {
		return progressbar.DefaultSilent(total, description)
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowBytes(total > 0),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)
}

// Fatal prints err in red and exits with status 1.
func Fatal(err error) {
	_, _ = Red.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}

// Warn prints a non-fatal diagnostic in yellow.
func Warn(format string, args ...any) {
	_, _ = Yellow.Fprintf(os.Stderr, format+"\n", args...)
}
