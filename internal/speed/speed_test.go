package speed

import (
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input    string
		download int
		upload   int
	}{
		{"10 Mbps", 10000, 5000},
		{"10mbps", 10000, 5000},
		{"  20 MBPS  ", 20000, 10000},
		{"1.5 Mbps", 1500, 750},
		{"500 kbps", 500, 250},
		{"1 Gbps", 1000000, 500000},
		{"0.5 gbps", 500000, 250000},

		// Unparseable inputs degrade to the default.
		{"", DefaultDownloadKbps, DefaultUploadKbps},
		{"fast", DefaultDownloadKbps, DefaultUploadKbps},
		{"10", DefaultDownloadKbps, DefaultUploadKbps},
		{"Mbps 10", DefaultDownloadKbps, DefaultUploadKbps},
		{"10 Tbps", DefaultDownloadKbps, DefaultUploadKbps},
		{"-5 Mbps", DefaultDownloadKbps, DefaultUploadKbps},
	}

	for _, tc := range tests {
		bw := Parse(tc.input)
		if bw.DownloadKbps != tc.download || bw.UploadKbps != tc.upload {
			t.Errorf("Parse(%q) = {%d, %d}, want {%d, %d}",
				tc.input, bw.DownloadKbps, bw.UploadKbps, tc.download, tc.upload)
		}
	}
}

func TestParseUploadRounding(t *testing.T) {
	// 5 Mbps halves cleanly; odd kbps values round to nearest.
	bw := Parse("5 kbps")
	if bw.UploadKbps != 3 {
		t.Errorf("expected upload 3 (round(2.5)), got %d", bw.UploadKbps)
	}
}
