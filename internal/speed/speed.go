// Package speed parses human-readable bandwidth plans into kbps values
// suitable for RADIUS rate-limit attributes.
package speed

import (
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Default bandwidth applied when a plan speed string cannot be parsed.
// Callers must not treat these as a confirmed plan value.
const (
	DefaultDownloadKbps = 10000
	DefaultUploadKbps   = 5000
)

// UploadRatio is the fixed upload/download ratio applied to every plan.
const UploadRatio = 0.5

// Bandwidth holds normalized rate limits in kbps.
type Bandwidth struct {
	DownloadKbps int `json:"downloadKbps"`
	UploadKbps   int `json:"uploadKbps"`
}

var speedRegex = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s*(kbps|mbps|gbps)\s*$`)

// Parse converts a speed string like "10 Mbps" into kbps values.
// Upload is derived as round(download * 0.5).
//
// Unparseable input degrades to the documented default rather than
// failing; the case is logged so a bad plan configuration is visible.
func Parse(s string) Bandwidth {
	m := speedRegex.FindStringSubmatch(strings.ToLower(s))
	if m == nil {
		slog.Warn("unparseable plan speed, using default bandwidth",
			"speed", s,
			"downloadKbps", DefaultDownloadKbps,
			"uploadKbps", DefaultUploadKbps,
		)
		return Bandwidth{DownloadKbps: DefaultDownloadKbps, UploadKbps: DefaultUploadKbps}
	}

	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		slog.Warn("unparseable plan speed, using default bandwidth", "speed", s)
		return Bandwidth{DownloadKbps: DefaultDownloadKbps, UploadKbps: DefaultUploadKbps}
	}

	var download float64
	switch m[2] {
	case "gbps":
		download = value * 1_000_000
	case "mbps":
		download = value * 1_000
	default:
		download = value
	}

	dl := int(math.Round(download))
	return Bandwidth{
		DownloadKbps: dl,
		UploadKbps:   int(math.Round(float64(dl) * UploadRatio)),
	}
}
