// Package tui holds the terminal presentation of 'tendril run'.
package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/tendril"
	"github.com/muesli/termenv"
)

var bannerLines = []string{
	" _                 _      _ _ ",
	"| |_ ___ _ __   __| |_ __(_) |",
	"| __/ _ \\ '_ \\ / _` | '__| | |",
	"| ||  __/ | | | (_| | |  | | |",
	" \\__\\___|_| |_|\\__,_|_|  |_|_|",
}

var bannerColors = []string{"#818cf8", "#a78bfa", "#c084fc", "#e879f9", "#f472b6"}

// PrintBanner writes the tendril banner and version to w, colored for the
// terminal behind w.
func PrintBanner(w io.Writer) {
	out := termenv.NewOutput(w)
	fmt.Fprintln(out)
	for i, line := range bannerLines {
		fmt.Fprintln(out, out.String(line).Foreground(out.Color(bannerColors[i])))
	}
	fmt.Fprintf(out, "%s\n\n", out.String("v"+strings.TrimSpace(tendril.Version)).Faint())
}
