package sel4

import (
	"fmt"
	"strings"
)

// Markers is the metadata record attached to a test at collection time.
// Markers never change how a test executes; they only annotate its reported
// outcome.
type Markers struct {
	// TestCase links the test to an external test-management case id.
	TestCase string
	// Issues links the test to known issue identifiers.
	Issues []string
	// XFail marks the test as expected to fail.
	XFail bool
}

// Validate checks that marker values are well-formed identifiers. It returns
// one warning per malformed value; collection proceeds regardless.
func (m Markers) Validate() []string {
	var warnings []string
	if m.TestCase != "" && !wellFormedID(m.TestCase) {
		warnings = append(warnings, fmt.Sprintf("malformed testcase id %q", m.TestCase))
	}
	for _, issue := range m.Issues {
		if !wellFormedID(issue) {
			warnings = append(warnings, fmt.Sprintf("malformed issue id %q", issue))
		}
	}
	return warnings
}

func wellFormedID(id string) bool {
	if strings.TrimSpace(id) == "" {
		return false
	}
	return !strings.ContainsAny(id, " \t\n")
}
