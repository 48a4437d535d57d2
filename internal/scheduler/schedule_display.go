package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
)

// scheduleDisplayPatterns maps common cron shapes to a human template.
// Checked in order; the raw expression is returned if nothing matches.
var scheduleDisplayPatterns = []struct {
	re       *regexp.Regexp
	render   func(m []string) string
}{
	{
		re:     regexp.MustCompile(`^\*/(\d+) \* \* \* \*$`),
		render: func(m []string) string { return fmt.Sprintf("Every %s minutes", m[1]) },
	},
	{
		re:     regexp.MustCompile(`^0 \*/(\d+) \* \* \*$`),
		render: func(m []string) string { return fmt.Sprintf("Every %s hours", m[1]) },
	},
	{
		re:     regexp.MustCompile(`^0 0 \* \* \*$`),
		render: func(m []string) string { return "Every day at midnight" },
	},
	{
		re: regexp.MustCompile(`^(\d+) (\d+) \* \* \*$`),
		render: func(m []string) string {
			h, _ := strconv.Atoi(m[2])
			min, _ := strconv.Atoi(m[1])
			return fmt.Sprintf("Every day at %02d:%02d", h, min)
		},
	},
	{
		re:     regexp.MustCompile(`^0 0 1 \* \*$`),
		render: func(m []string) string { return "Every month on the 1st" },
	},
	{
		re:     regexp.MustCompile(`^0 0 \* \* 0$`),
		render: func(m []string) string { return "Every Sunday at midnight" },
	},
	{
		re:     regexp.MustCompile(`^\* \* \* \* \*$`),
		render: func(m []string) string { return "Every minute" },
	},
}

// ScheduleDisplay renders a human-readable summary of a cron expression,
// falling back to the raw expression when no template matches.
func ScheduleDisplay(expr string) string {
	for _, p := range scheduleDisplayPatterns {
		if m := p.re.FindStringSubmatch(expr); m != nil {
			return p.render(m)
		}
	}
	return expr
}
