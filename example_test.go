package sel4_test

import (
	"context"
	"fmt"
	"strings"

	"github.com/sel4go/sel4"
)

// This example shows a complete run: resolve a chromedriver binary, execute
// two test items against the same browser configuration, and print the
// summary counters.
//
// If you want to actually run this example:
//
//  1. Make sure a chromium binary is installed on the host.
//  2. Remove the word "Example" from the comment at the bottom of the
//     function.
//  3. Run:
//     go test -test.run=Example$ github.com/sel4go/sel4
func Example() {
	cfg := sel4.DefaultRunnerConfig()
	cfg.Browser = "chromium"
	cfg.Headless = true

	ctx := context.Background()
	runner, err := sel4.NewRunner(ctx, cfg)
	if err != nil {
		panic(err) // panic is used only as an example and is not otherwise recommended.
	}
	defer runner.Close()

	items := []sel4.Item{
		{
			ID:      "smoke/title",
			Markers: sel4.Markers{TestCase: "QA-T100"},
			Fn: func(tc *sel4.TestContext) error {
				sess := tc.Session()
				if err := sess.Navigate(ctx, "https://play.golang.org/?simple=1"); err != nil {
					return err
				}
				title, err := sess.Title(ctx)
				if err != nil {
					return err
				}
				tc.Observe("title mentions Go", strings.Contains(title, "Go"))
				return nil
			},
		},
		{
			ID: "smoke/current-url",
			Fn: func(tc *sel4.TestContext) error {
				url, err := tc.Session().CurrentURL(ctx)
				if err != nil {
					return err
				}
				tc.Observe("landed on a page", url != "")
				return nil
			},
		},
	}

	summary := runner.Run(ctx, items)
	fmt.Printf("passed=%d failed=%d errors=%d\n", summary.Passed, summary.Failed, summary.Errors)
}
