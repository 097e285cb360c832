package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"marketflow/internal/pipeline"
	"marketflow/pkg/models"
)

// RenderRunSummary returns the per-step table for a run report
func RenderRunSummary(report *pipeline.Report, useColor bool) string {
	var buf strings.Builder

	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"#", "Step", "Status", "Rows", "Duration"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for i, s := range report.Steps {
		status := string(s.Status)
		if useColor {
			switch s.Status {
			case pipeline.StatusSucceeded:
				status = color.GreenString(status)
			case pipeline.StatusFailed:
				status = color.RedString(status)
			}
		}
		table.Append([]string{
			fmt.Sprintf("%d", i+1),
			s.Name,
			status,
			fmt.Sprintf("%d", s.Rows),
			s.Duration.Round(time.Millisecond).String(),
		})
	}

	table.Render()
	return buf.String()
}

// RenderChecks returns the data quality results table
func RenderChecks(checks []models.CheckResult, useColor bool) string {
	var buf strings.Builder

	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"Table", "Check", "Status", "Value", "Message"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, c := range checks {
		status := string(c.Status)
		if useColor {
			switch c.Status {
			case models.CheckPassed:
				status = color.GreenString(status)
			case models.CheckFailed:
				status = color.YellowString(status)
			case models.CheckError:
				status = color.RedString(status)
			}
		}
		table.Append([]string{c.Table, c.CheckName, status, fmt.Sprintf("%d", c.Value), c.Message})
	}

	table.Render()
	return buf.String()
}

// ShowRunReport prints the step and check tables and a closing status line
func ShowRunReport(report *pipeline.Report) {
	if report == nil {
		return
	}
	ShowHeader(fmt.Sprintf("Run %s", report.RunID))
	fmt.Fprint(out, RenderRunSummary(report, supportsColor))

	if len(report.Checks) > 0 {
		fmt.Fprintln(out)
		fmt.Fprint(out, RenderChecks(report.Checks, supportsColor))
	}

	if failed := report.FailedChecks(); len(failed) > 0 {
		ShowWarning(fmt.Sprintf("%d data quality checks did not pass", len(failed)))
	}
	if !report.Failed() {
		ShowSuccess(fmt.Sprintf("Pipeline run %s completed", report.RunID))
	}
}
