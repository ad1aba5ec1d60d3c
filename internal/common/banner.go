package common

import (
	"fmt"
	"os"
	"strings"

	"github.com/ternarybob/banner"
)

// PrintBanner displays the application startup banner to stderr. Skipped
// in production environments, matching the teacher's dev-mode gating.
func PrintBanner(config *Config, logger *Logger) {
	if config.IsProduction() {
		logger.Info().Str("version", GetVersion()).Msg("robot command middleware started")
		return
	}

	version := GetVersion()
	build := GetBuild()
	commit := GetGitCommit()
	serviceURL := fmt.Sprintf("http://127.0.0.1:%d", config.Server.Port)

	lineColor := banner.ColorCyan
	textColor := banner.ColorBold + banner.ColorWhite
	width := 60
	hr := lineColor + strings.Repeat("═", width) + banner.ColorReset

	art := []string{
		` 8888888b.   .d88888b.  888888b.   .d88888b. 88888888888`,
		` 888   Y88b d88P" "Y88b 888  "88b d88P" "Y88b    888`,
		` 888    888 888     888 888  .88P 888     888    888`,
		` 888   d88P 888     888 8888888K. 888     888    888`,
		` 8888888P"  888     888 888  "Y88b 888     888    888`,
		` 888 T88b   888     888 888    888 888     888    888`,
		` 888  T88b  Y88b. .d88P 888   d88P Y88b. .d88P    888`,
		` 888   T88b  "Y88888P"  8888888P"   "Y88888P"     888`,
	}

	fmt.Fprintf(os.Stderr, "\n%s\n\n", hr)
	for _, line := range art {
		fmt.Fprintf(os.Stderr, "%s%s%s\n", textColor, line, banner.ColorReset)
	}
	fmt.Fprintf(os.Stderr, "\n%s  robot command middleware%s\n\n%s\n\n", textColor, banner.ColorReset, hr)

	kvPad := 14
	kvLines := [][2]string{
		{"Version", version},
		{"Build", build},
		{"Commit", commit},
		{"Environment", config.Environment},
		{"Listen", serviceURL},
		{"Workers", fmt.Sprintf("%d", config.Worker.MaxWorkers)},
		{"QueueMax", fmt.Sprintf("%d", config.Queue.MaxSize)},
	}
	for _, kv := range kvLines {
		fmt.Fprintf(os.Stderr, "%s  %-*s %s%s\n", textColor, kvPad, kv[0], kv[1], banner.ColorReset)
	}
	fmt.Fprintf(os.Stderr, "\n%s\n\n", hr)

	logger.Info().
		Str("version", version).
		Str("build", build).
		Str("commit", commit).
		Str("environment", config.Environment).
		Str("service_url", serviceURL).
		Msg("robot command middleware started")
}

// PrintShutdownBanner displays the shutdown banner to stderr.
func PrintShutdownBanner(logger *Logger) {
	hr := banner.ColorCyan + strings.Repeat("═", 42) + banner.ColorReset
	fmt.Fprintf(os.Stderr, "\n%s\n%s  ROBOTMW — SHUTTING DOWN%s\n%s\n\n",
		hr, banner.ColorBold+banner.ColorWhite, banner.ColorReset, hr)
	logger.Info().Msg("robot command middleware shutting down")
}
