/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package timeline

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ExportResult carries rendered export data plus the HTTP metadata a
// handler needs to serve it as a download.
type ExportResult struct {
	Data        []byte
	Filename    string
	ContentType string
}

// ExportICal renders the timeline as an iCalendar feed, one event per
// scheduled step, so a cook can overlay the plan on their calendar.
func (t *Timeline) ExportICal(planName string) *ExportResult {
	var buf bytes.Buffer
	buf.WriteString("BEGIN:VCALENDAR\r\n")
	buf.WriteString("VERSION:2.0\r\n")
	buf.WriteString("PRODID:-//Andhrimnir Kitchen//Plan Export//EN\r\n")
	buf.WriteString(fmt.Sprintf("X-WR-CALNAME:%s\r\n", escapeICalText(planName)))
	buf.WriteString("CALSCALE:GREGORIAN\r\n")
	buf.WriteString("METHOD:PUBLISH\r\n")

	for _, e := range t.Entries {
		buf.WriteString("BEGIN:VEVENT\r\n")
		buf.WriteString(fmt.Sprintf("UID:%s@andhrimnir\r\n", e.StepGroupID))
		buf.WriteString(fmt.Sprintf("DTSTAMP:%s\r\n", formatICalTime(time.Now())))
		buf.WriteString(fmt.Sprintf("DTSTART:%s\r\n", formatICalTime(e.StartsAt)))
		buf.WriteString(fmt.Sprintf("DTEND:%s\r\n", formatICalTime(e.EndsAt)))
		buf.WriteString(fmt.Sprintf("SUMMARY:%s\r\n", escapeICalText(e.RecipeName+": "+e.StepName)))

		description := e.Action
		if e.RestMinutes > 0 {
			description += fmt.Sprintf("; rest %d minutes after", e.RestMinutes)
		}
		if e.HoldMinutes > 0 {
			description += fmt.Sprintf("; holds %d minutes", e.HoldMinutes)
		}
		buf.WriteString(fmt.Sprintf("DESCRIPTION:%s\r\n", escapeICalText(description)))
		buf.WriteString(fmt.Sprintf("LOCATION:%s\r\n", escapeICalText(e.ResourceName)))
		buf.WriteString("END:VEVENT\r\n")
	}

	buf.WriteString("END:VCALENDAR\r\n")

	filename := fmt.Sprintf("%s-plan-%s.ics", slugify(planName), t.MealTime.Format("2006-01-02"))
	return &ExportResult{
		Data:        buf.Bytes(),
		Filename:    filename,
		ContentType: "text/calendar; charset=utf-8",
	}
}

// ExportCSV renders the timeline as a flat spreadsheet, one row per
// scheduled step.
func (t *Timeline) ExportCSV(planName string) *ExportResult {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	_ = w.Write([]string{
		"recipe", "step", "starts_at", "ends_at", "resource", "row",
		"temperature_f", "burners", "rest_minutes", "hold_minutes", "wait_minutes", "action",
	})
	for _, e := range t.Entries {
		row := ""
		if strings.HasPrefix(e.Resource, "oven:") {
			row = strconv.Itoa(e.Row + 1)
		}
		temp := ""
		if e.TemperatureF > 0 {
			temp = strconv.Itoa(e.TemperatureF)
		}
		burners := ""
		if e.Burners > 0 {
			burners = strconv.Itoa(e.Burners)
		}
		_ = w.Write([]string{
			e.RecipeName,
			e.StepName,
			e.StartsAt.Format(time.RFC3339),
			e.EndsAt.Format(time.RFC3339),
			e.ResourceName,
			row,
			temp,
			burners,
			strconv.Itoa(e.RestMinutes),
			strconv.Itoa(e.HoldMinutes),
			strconv.Itoa(e.WaitMinutes),
			e.Action,
		})
	}
	w.Flush()

	filename := fmt.Sprintf("%s-plan-%s.csv", slugify(planName), t.MealTime.Format("2006-01-02"))
	return &ExportResult{
		Data:        buf.Bytes(),
		Filename:    filename,
		ContentType: "text/csv; charset=utf-8",
	}
}

func formatICalTime(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

func escapeICalText(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, ";", "\\;")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

func slugify(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "-")
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
