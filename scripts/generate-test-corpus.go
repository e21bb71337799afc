//go:build ignore

// Package main generates a synthetic document corpus for benchmarking.
// Usage: go run scripts/generate-test-corpus.go -files 1000 -output testdata/bench
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

var (
	numFiles  = flag.Int("files", 1000, "Number of files to generate")
	outputDir = flag.String("output", "testdata/bench", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

// Document templates for realistic corpus generation
var reportTemplate = `# %s %s Report

## Summary

The %s team reviewed %s across all regional offices during the reporting
period. Overall %s improved compared to the previous quarter, driven mainly
by the %s initiative launched in %s.

## Key Findings

- %s volume increased by %d%% quarter over quarter
- The %s office completed its %s migration ahead of schedule
- Outstanding %s items dropped from %d to %d
- Vendor response times for %s requests averaged %d business days

## Budget

| Line Item | Budgeted | Actual | Variance |
|-----------|----------|--------|----------|
| %s | $%d,000 | $%d,000 | $%d,000 |
| %s | $%d,000 | $%d,000 | $%d,000 |
| Contingency | $%d,000 | $%d,000 | $%d,000 |

## Risks

The largest open risk remains the pending %s renewal with %s. If the
contract lapses before %s, the %s team will need an interim plan covering
roughly %d weeks of coverage.

## Next Steps

1. Circulate the draft %s policy to department heads by %s
2. Schedule a follow-up review of %s metrics in %s
3. Close out the remaining %s action items from the prior review
`

var minutesTemplate = `# Meeting Minutes: %s %s Sync

**Date:** %s
**Attendees:** %s, %s, %s, %s
**Facilitator:** %s

## Agenda

1. Review of open %s items
2. %s status update
3. Planning for %s

## Discussion

%s opened with a recap of the %s backlog. The group agreed the %s
workstream is on track, though the %s dependency slipped by one week.

%s raised a concern about %s capacity through %s. After discussion the
team decided to defer the %s rollout until the %s review completes.

%s presented the updated %s figures. The numbers show steady progress,
with %d of %d planned items finished.

## Decisions

- The %s proposal is approved pending legal review
- %s will own the %s handoff going forward
- The next %s audit is scheduled for %s

## Action Items

- [ ] %s: draft the %s summary and share by %s
- [ ] %s: confirm %s availability with the vendor
- [ ] %s: update the %s tracker with current status
`

var htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>%s %s Overview</title>
</head>
<body>
  <header>
    <h1>%s %s Overview</h1>
    <p class="byline">Prepared by the %s team, %s</p>
  </header>
  <main>
    <section>
      <h2>Background</h2>
      <p>This page summarizes the current state of %s across the
      organization. The %s program covers %s, %s, and related
      %s activities managed by the %s office.</p>
    </section>
    <section>
      <h2>Current Status</h2>
      <ul>
        <li>%d active %s engagements</li>
        <li>%d pending %s reviews</li>
        <li>%d completed %s milestones this period</li>
      </ul>
      <p>The %s rollout reached %d%% completion in %s. Remaining work
      centers on the %s integration and the %s handover.</p>
    </section>
    <section>
      <h2>Contacts</h2>
      <table>
        <tr><th>Role</th><th>Owner</th></tr>
        <tr><td>%s lead</td><td>%s</td></tr>
        <tr><td>%s coordinator</td><td>%s</td></tr>
        <tr><td>Escalations</td><td>%s</td></tr>
      </table>
    </section>
  </main>
</body>
</html>
`

var vttTemplate = `WEBVTT

00:00:00.000 --> 00:00:06.500
Welcome everyone to the %s %s review. Today we will walk through
the %s results and the open %s questions.

00:00:06.500 --> 00:00:14.200
First, the headline numbers. We closed %d %s items this period,
against a target of %d. The %s workstream accounts for most of the gap.

00:00:14.200 --> 00:00:22.800
%s, can you speak to the %s timeline? We had flagged the %s
dependency as a risk back in %s.

00:00:22.800 --> 00:00:31.400
Sure. The short version is that %s signed off last week, so the
%s milestone is back on track for %s.

00:00:31.400 --> 00:00:39.000
Great. One more thing before we wrap: the %s audit starts next
month, so please get your %s documentation current by %s.

00:00:39.000 --> 00:00:43.500
Thanks everyone. Notes and action items will go out through the
usual %s channel this afternoon.
`

// Word pools for generating realistic document content
var (
	topics = []string{
		"Procurement", "Onboarding", "Compliance", "Facilities", "Security",
		"Budget", "Hiring", "Vendor", "Infrastructure", "Training",
		"Audit", "Licensing", "Migration", "Maintenance", "Operations",
		"Marketing", "Logistics", "Payroll", "Benefits", "Travel",
	}
	periods = []string{
		"Q1", "Q2", "Q3", "Q4", "Annual", "Mid-Year", "Monthly", "Weekly",
	}
	teams = []string{
		"finance", "legal", "engineering", "people ops", "facilities",
		"procurement", "security", "support", "platform", "data",
	}
	subjects = []string{
		"contract renewals", "access reviews", "equipment requests",
		"invoice processing", "policy updates", "incident reports",
		"capacity planning", "office moves", "license audits",
		"expense approvals", "vendor assessments", "system upgrades",
	}
	names = []string{
		"Priya", "Marcus", "Elena", "Tomas", "Aisha",
		"Jordan", "Wei", "Sofia", "Dmitri", "Fatima",
		"Lukas", "Amara", "Noah", "Ines", "Ravi",
	}
	months = []string{
		"January", "February", "March", "April", "May", "June",
		"July", "August", "September", "October", "November", "December",
	}
	vendors = []string{
		"Northwind Supply", "Contoso Services", "Fabrikam Group",
		"Adventure Works", "Tailspin Partners", "Wingtip Corp",
	}
)

func main() {
	flag.Parse()
	rand.Seed(*seed)

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	// Create subdirectories
	subdirs := []string{"reports", "minutes", "pages", "tables", "transcripts"}
	for _, subdir := range subdirs {
		if err := os.MkdirAll(filepath.Join(*outputDir, subdir), 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating subdirectory %s: %v\n", subdir, err)
			os.Exit(1)
		}
	}

	fmt.Printf("Generating %d files in %s...\n", *numFiles, *outputDir)

	// Distribute files across document types
	reportFiles := *numFiles * 30 / 100 // 30% markdown reports
	minuteFiles := *numFiles * 25 / 100 // 25% meeting minutes
	htmlFiles := *numFiles * 20 / 100   // 20% HTML pages
	csvFiles := *numFiles * 15 / 100    // 15% CSV tables
	vttFiles := *numFiles - reportFiles - minuteFiles - htmlFiles - csvFiles // ~10% transcripts

	generated := 0

	// Generate markdown reports
	for i := 0; i < reportFiles; i++ {
		if err := generateReportFile(i); err != nil {
			fmt.Fprintf(os.Stderr, "Error generating report %d: %v\n", i, err)
		}
		generated++
	}

	// Generate meeting minutes
	for i := 0; i < minuteFiles; i++ {
		if err := generateMinutesFile(i); err != nil {
			fmt.Fprintf(os.Stderr, "Error generating minutes %d: %v\n", i, err)
		}
		generated++
	}

	// Generate HTML pages
	for i := 0; i < htmlFiles; i++ {
		if err := generateHTMLFile(i); err != nil {
			fmt.Fprintf(os.Stderr, "Error generating HTML file %d: %v\n", i, err)
		}
		generated++
	}

	// Generate CSV tables
	for i := 0; i < csvFiles; i++ {
		if err := generateCSVFile(i); err != nil {
			fmt.Fprintf(os.Stderr, "Error generating CSV file %d: %v\n", i, err)
		}
		generated++
	}

	// Generate VTT transcripts
	for i := 0; i < vttFiles; i++ {
		if err := generateVTTFile(i); err != nil {
			fmt.Fprintf(os.Stderr, "Error generating VTT file %d: %v\n", i, err)
		}
		generated++
	}

	fmt.Printf("Generated %d files successfully.\n", generated)
}

func randomWord(pool []string) string {
	return pool[rand.Intn(len(pool))]
}

func randomDate() string {
	return fmt.Sprintf("%s %d, 202%d", randomWord(months), 1+rand.Intn(28), 4+rand.Intn(3))
}

func generateReportFile(index int) error {
	topic := randomWord(topics)
	period := randomWord(periods)
	team := randomWord(teams)
	subject := randomWord(subjects)
	vendor := randomWord(vendors)

	budgeted1 := 50 + rand.Intn(200)
	actual1 := budgeted1 - 10 + rand.Intn(30)
	budgeted2 := 20 + rand.Intn(100)
	actual2 := budgeted2 - 5 + rand.Intn(15)
	contingency := 10 + rand.Intn(40)
	spent := rand.Intn(contingency)

	content := fmt.Sprintf(reportTemplate,
		period, topic,
		team, subject, randomWord(subjects), randomWord(topics), randomWord(months),
		topic, 3+rand.Intn(25),
		randomWord(teams), randomWord(topics),
		subject, 20+rand.Intn(40), 2+rand.Intn(10),
		randomWord(subjects), 1+rand.Intn(9),
		randomWord(topics), budgeted1, actual1, budgeted1-actual1,
		randomWord(topics), budgeted2, actual2, budgeted2-actual2,
		contingency, spent, contingency-spent,
		randomWord(subjects), vendor, randomWord(months), team, 2+rand.Intn(8),
		topic, randomDate(),
		subject, randomWord(months),
		randomWord(topics),
	)

	filename := filepath.Join(*outputDir, "reports", fmt.Sprintf("%s_%s_report_%d.md", strings.ToLower(period), strings.ToLower(topic), index))
	return os.WriteFile(filename, []byte(content), 0644)
}

func generateMinutesFile(index int) error {
	topic := randomWord(topics)
	period := randomWord(periods)
	facilitator := randomWord(names)

	done := 2 + rand.Intn(8)
	planned := done + rand.Intn(5)

	content := fmt.Sprintf(minutesTemplate,
		period, topic,
		randomDate(),
		randomWord(names), randomWord(names), randomWord(names), randomWord(names),
		facilitator,
		randomWord(subjects),
		randomWord(topics),
		randomWord(subjects),
		facilitator, randomWord(subjects), randomWord(topics), randomWord(topics),
		randomWord(names), randomWord(teams), randomWord(months),
		randomWord(topics), randomWord(topics),
		randomWord(names), randomWord(subjects), done, planned,
		randomWord(topics),
		randomWord(names), randomWord(subjects),
		randomWord(topics), randomDate(),
		randomWord(names), randomWord(topics), randomDate(),
		randomWord(names), randomWord(vendors),
		randomWord(names), randomWord(subjects),
	)

	filename := filepath.Join(*outputDir, "minutes", fmt.Sprintf("%s_sync_%d.md", strings.ToLower(topic), index))
	return os.WriteFile(filename, []byte(content), 0644)
}

func generateHTMLFile(index int) error {
	topic := randomWord(topics)
	period := randomWord(periods)
	team := randomWord(teams)

	content := fmt.Sprintf(htmlTemplate,
		period, topic,
		period, topic,
		team, randomDate(),
		randomWord(subjects),
		topic, randomWord(subjects), randomWord(subjects),
		randomWord(topics), randomWord(teams),
		2+rand.Intn(20), randomWord(subjects),
		1+rand.Intn(10), randomWord(topics),
		3+rand.Intn(15), randomWord(topics),
		topic, 40+rand.Intn(55), randomWord(months),
		randomWord(topics), randomWord(topics),
		topic, randomWord(names),
		randomWord(topics), randomWord(names),
		randomWord(names),
	)

	filename := filepath.Join(*outputDir, "pages", fmt.Sprintf("%s_overview_%d.html", strings.ToLower(topic), index))
	return os.WriteFile(filename, []byte(content), 0644)
}

func generateCSVFile(index int) error {
	topic := randomWord(topics)

	var sb strings.Builder
	sb.WriteString("item,owner,team,status,due_date,amount\n")
	rows := 10 + rand.Intn(40)
	statuses := []string{"open", "in_progress", "blocked", "done"}
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&sb, "%s,%s,%s,%s,%s,%d\n",
			randomWord(subjects),
			randomWord(names),
			randomWord(teams),
			randomWord(statuses),
			randomDate(),
			100+rand.Intn(9900),
		)
	}

	filename := filepath.Join(*outputDir, "tables", fmt.Sprintf("%s_tracker_%d.csv", strings.ToLower(topic), index))
	return os.WriteFile(filename, []byte(sb.String()), 0644)
}

func generateVTTFile(index int) error {
	topic := randomWord(topics)
	period := randomWord(periods)

	done := 3 + rand.Intn(10)
	target := done + rand.Intn(6)

	content := fmt.Sprintf(vttTemplate,
		period, topic,
		randomWord(subjects), randomWord(topics),
		done, randomWord(subjects), target, randomWord(topics),
		randomWord(names), randomWord(topics), randomWord(vendors), randomWord(months),
		randomWord(vendors),
		randomWord(topics), randomWord(months),
		randomWord(topics), randomWord(subjects), randomDate(),
		randomWord(teams),
	)

	filename := filepath.Join(*outputDir, "transcripts", fmt.Sprintf("%s_review_%d.vtt", strings.ToLower(topic), index))
	return os.WriteFile(filename, []byte(content), 0644)
}
