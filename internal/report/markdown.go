package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/TobiSchelling/recbench/internal/evaluate"
)

// Markdown renders a run for the database copy and the web viewer: the
// configuration, the model ranking and each model's per-user table.
func Markdown(title string, fields []Field, summaries []*evaluate.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)

	if len(summaries) > 0 {
		ranked := make([]*evaluate.Summary, len(summaries))
		copy(ranked, summaries)
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].MeanAPK > ranked[j].MeanAPK })

		b.WriteString("## Models\n\n")
		b.WriteString("| model | mean AP@k | users | skipped | failures |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, s := range ranked {
			fmt.Fprintf(&b, "| %s | %.4f | %d | %d | %d |\n", s.Model, s.MeanAPK, s.Attempted, s.Skipped, s.Failures)
		}
		b.WriteString("\n")
	}

	if len(fields) > 0 {
		b.WriteString("## Configuration\n\n")
		for _, f := range fields {
			fmt.Fprintf(&b, "- **%s**: `%s`\n", f.Key, f.Value)
		}
		b.WriteString("\n")
	}

	for _, s := range summaries {
		fmt.Fprintf(&b, "## %s\n\n", s.Model)
		b.WriteString("| user | ratings | best horizon | AP@k | P@k | R@k |\n")
		b.WriteString("|---|---|---|---|---|---|\n")
		for _, r := range s.Records {
			horizon := fmt.Sprint(r.BestHorizon)
			if r.Skipped {
				horizon = "skipped"
			}
			fmt.Fprintf(&b, "| %d | %d | %s | %.4f | %.4f | %.4f |\n",
				r.User, r.TotalRatings, horizon, r.BestAPK, r.BestPK, r.BestRK)
		}
		b.WriteString("\n")
	}
	return b.String()
}
