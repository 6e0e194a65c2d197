package logger

import (
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func useColor() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}

func paint(color, s string) string {
	if !useColor() {
		return s
	}
	return color + s + colorReset
}

func line(color, tag, msg string) {
	ts := time.Now().Format("15:04:05")
	fmt.Fprintf(os.Stdout, "%s %s %s\n", paint(colorGray, ts), paint(color, fmt.Sprintf("[%s]", tag)), msg)
}

// Info logs a neutral message under a category tag.
func Info(tag, msg string) {
	line(colorBlue, tag, msg)
}

// Success logs a completed operation.
func Success(tag, msg string) {
	line(colorGreen, tag, msg)
}

// Warn logs a recoverable problem.
func Warn(tag, msg string) {
	line(colorYellow, tag, msg)
}

// Error logs a failure.
func Error(tag, msg string) {
	line(colorRed, tag, msg)
}

// Banner prints the startup banner.
func Banner(version string) {
	if version == "" {
		version = "dev"
	}
	fmt.Fprintln(os.Stdout, paint(colorCyan+colorBold, "  ┌─────────────────────────────┐"))
	fmt.Fprintln(os.Stdout, paint(colorCyan+colorBold, fmt.Sprintf("  │  tradebot %-17s │", version)))
	fmt.Fprintln(os.Stdout, paint(colorCyan+colorBold, "  └─────────────────────────────┘"))
}

// Server logs the listen address once the HTTP server is up.
func Server(addr string) {
	fmt.Fprintf(os.Stdout, "%s Listening on %s\n", paint(colorGreen, "[Server]"), paint(colorBold, "http://"+addr))
}

// Section prints a visual divider for a named phase.
func Section(name string) {
	fmt.Fprintf(os.Stdout, "\n%s\n", paint(colorCyan+colorBold, "── "+name+" ──"))
}

// Stats prints an aligned key/value pair, for startup summaries.
func Stats(key string, value interface{}) {
	fmt.Fprintf(os.Stdout, "    %-24s %v\n", paint(colorGray, key+":"), value)
}
