package sel4

import "testing"

func TestMarkersValidate(t *testing.T) {
	tests := []struct {
		desc     string
		markers  Markers
		warnings int
	}{
		{
			desc:    "empty markers are fine",
			markers: Markers{},
		},
		{
			desc:    "well-formed ids",
			markers: Markers{TestCase: "ZEPH-123", Issues: []string{"BUG-1", "BUG-2"}},
		},
		{
			desc:     "blank testcase id",
			markers:  Markers{TestCase: "   "},
			warnings: 1,
		},
		{
			desc:     "issue with embedded whitespace",
			markers:  Markers{Issues: []string{"BUG 1"}},
			warnings: 1,
		},
		{
			desc:     "multiple malformed values",
			markers:  Markers{TestCase: "\t", Issues: []string{"", "ok-1", "no good"}},
			warnings: 3,
		},
	}

	for _, test := range tests {
		if got := len(test.markers.Validate()); got != test.warnings {
			t.Errorf("%s: Validate returned %d warnings, want %d", test.desc, got, test.warnings)
		}
	}
}
