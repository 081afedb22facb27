/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package schedule

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
)

// ExportService handles meal calendar import/export.
type ExportService struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewExportService creates a new export service.
func NewExportService(db *gorm.DB, logger zerolog.Logger) *ExportService {
	return &ExportService{
		db:     db,
		logger: logger.With().Str("component", "schedule_export").Logger(),
	}
}

// ExportICalResult contains the iCal export data.
type ExportICalResult struct {
	Data        []byte
	Filename    string
	ContentType string
}

// ExportToICal exports the kitchen's meal calendar to iCal format.
func (s *ExportService) ExportToICal(ctx context.Context, kitchenID string, start, end time.Time) (*ExportICalResult, error) {
	// Get kitchen
	var kitchen models.Kitchen
	if err := s.db.First(&kitchen, "id = ?", kitchenID).Error; err != nil {
		return nil, fmt.Errorf("kitchen not found: %w", err)
	}

	// Get meal instances
	var instances []models.MealInstance
	if err := s.db.Where("kitchen_id = ? AND serves_at >= ? AND serves_at < ?", kitchenID, start, end).
		Where("status IN ?", []models.MealInstanceStatus{models.MealInstanceScheduled, models.MealInstancePlanned}).
		Preload("MealPlan").
		Preload("MealPlan.Owner").
		Order("serves_at ASC").
		Find(&instances).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch instances: %w", err)
	}

	// Build iCal
	var buf bytes.Buffer
	buf.WriteString("BEGIN:VCALENDAR\r\n")
	buf.WriteString("VERSION:2.0\r\n")
	buf.WriteString("PRODID:-//Andhrimnir Kitchen//Meal Calendar Export//EN\r\n")
	buf.WriteString(fmt.Sprintf("X-WR-CALNAME:%s Meals\r\n", escapeICalText(kitchen.Name)))
	buf.WriteString("CALSCALE:GREGORIAN\r\n")
	buf.WriteString("METHOD:PUBLISH\r\n")

	for _, inst := range instances {
		if inst.MealPlan == nil {
			continue
		}

		buf.WriteString("BEGIN:VEVENT\r\n")
		buf.WriteString(fmt.Sprintf("UID:%s@andhrimnir\r\n", inst.ID))
		buf.WriteString(fmt.Sprintf("DTSTAMP:%s\r\n", formatICalTime(time.Now())))
		buf.WriteString(fmt.Sprintf("DTSTART:%s\r\n", formatICalTime(inst.ServesAt)))
		// Meals carry no stored duration; block out an hour around serving.
		buf.WriteString(fmt.Sprintf("DTEND:%s\r\n", formatICalTime(inst.ServesAt.Add(time.Hour))))
		buf.WriteString(fmt.Sprintf("SUMMARY:%s\r\n", escapeICalText(inst.MealPlan.Name)))

		if inst.MealPlan.Description != "" {
			buf.WriteString(fmt.Sprintf("DESCRIPTION:%s\r\n", escapeICalText(inst.MealPlan.Description)))
		}

		if n := len(inst.MealPlan.RecipeIDs); n > 0 {
			buf.WriteString(fmt.Sprintf("COMMENT:%d recipes on the menu\r\n", n))
		}

		if inst.MealPlan.Owner != nil && inst.MealPlan.Owner.Email != "" {
			buf.WriteString(fmt.Sprintf("ORGANIZER:mailto:%s\r\n", inst.MealPlan.Owner.Email))
		}

		buf.WriteString("END:VEVENT\r\n")
	}

	buf.WriteString("END:VCALENDAR\r\n")

	filename := fmt.Sprintf("%s-meals-%s-to-%s.ics",
		slugify(kitchen.Name),
		start.Format("2006-01-02"),
		end.Format("2006-01-02"))

	return &ExportICalResult{
		Data:        buf.Bytes(),
		Filename:    filename,
		ContentType: "text/calendar; charset=utf-8",
	}, nil
}

// ImportICalResult contains the result of an iCal import.
type ImportICalResult struct {
	Imported int
	Skipped  int
	Errors   []string
}

// ImportFromICal imports a meal calendar from iCal data. Events become
// meal instances; unknown event names create meal plans with an empty
// menu so recipes can be attached afterwards.
func (s *ExportService) ImportFromICal(ctx context.Context, kitchenID string, data io.Reader) (*ImportICalResult, error) {
	result := &ImportICalResult{}

	// Read all data
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(data); err != nil {
		return nil, fmt.Errorf("failed to read iCal data: %w", err)
	}

	content := buf.String()

	// Parse events (simple parser)
	events := parseICalEvents(content)

	for _, event := range events {
		// Check for required fields
		if event.Summary == "" || event.Start.IsZero() {
			result.Skipped++
			continue
		}

		// Find or create meal plan
		var plan models.MealPlan
		if err := s.db.Where("kitchen_id = ? AND name = ?", kitchenID, event.Summary).First(&plan).Error; err != nil {
			plan = models.MealPlan{
				ID:          uuid.NewString(),
				KitchenID:   kitchenID,
				Name:        event.Summary,
				Description: event.Description,
				RecipeIDs:   []string{},
				DTStart:     event.Start,
				Timezone:    "UTC",
				Active:      true,
			}
			if err := s.db.Create(&plan).Error; err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("failed to create meal plan %s: %v", event.Summary, err))
				continue
			}
		}

		// Skip duplicates of the same occurrence
		var dupCount int64
		s.db.Model(&models.MealInstance{}).
			Where("meal_plan_id = ? AND serves_at = ?", plan.ID, event.Start).
			Count(&dupCount)

		if dupCount > 0 {
			result.Skipped++
			continue
		}

		// Create instance
		instance := &models.MealInstance{
			ID:            uuid.NewString(),
			MealPlanID:    plan.ID,
			KitchenID:     kitchenID,
			ServesAt:      event.Start,
			Status:        models.MealInstanceScheduled,
			ExceptionNote: "Imported from iCal",
		}

		if err := s.db.Create(instance).Error; err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to create instance for %s: %v", event.Summary, err))
			continue
		}

		result.Imported++
	}

	s.logger.Info().
		Str("kitchen", kitchenID).
		Int("imported", result.Imported).
		Int("skipped", result.Skipped).
		Msg("iCal import completed")

	return result, nil
}

// ICalEvent represents a parsed iCal event.
type ICalEvent struct {
	UID         string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// parseICalEvents parses events from iCal content (simple implementation).
func parseICalEvents(content string) []ICalEvent {
	var events []ICalEvent
	var currentEvent *ICalEvent

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		line = strings.TrimSuffix(line, "\r")

		if line == "BEGIN:VEVENT" {
			currentEvent = &ICalEvent{}
		} else if line == "END:VEVENT" && currentEvent != nil {
			events = append(events, *currentEvent)
			currentEvent = nil
		} else if currentEvent != nil {
			if strings.HasPrefix(line, "UID:") {
				currentEvent.UID = strings.TrimPrefix(line, "UID:")
			} else if strings.HasPrefix(line, "SUMMARY:") {
				currentEvent.Summary = unescapeICalText(strings.TrimPrefix(line, "SUMMARY:"))
			} else if strings.HasPrefix(line, "DESCRIPTION:") {
				currentEvent.Description = unescapeICalText(strings.TrimPrefix(line, "DESCRIPTION:"))
			} else if strings.HasPrefix(line, "DTSTART:") {
				currentEvent.Start = parseICalTime(strings.TrimPrefix(line, "DTSTART:"))
			} else if strings.HasPrefix(line, "DTEND:") {
				currentEvent.End = parseICalTime(strings.TrimPrefix(line, "DTEND:"))
			}
		}
	}

	return events
}

// parseICalTime parses an iCal time string.
func parseICalTime(s string) time.Time {
	// Remove TZID if present
	if idx := strings.Index(s, ":"); idx > 0 {
		s = s[idx+1:]
	}

	// Try various formats
	formats := []string{
		"20060102T150405Z",
		"20060102T150405",
		"20060102",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}

	return time.Time{}
}

// ExportToPDF exports the meal calendar to a printable HTML format (can be converted to PDF).
func (s *ExportService) ExportToPDF(ctx context.Context, kitchenID string, start, end time.Time) ([]byte, error) {
	// Get kitchen
	var kitchen models.Kitchen
	if err := s.db.First(&kitchen, "id = ?", kitchenID).Error; err != nil {
		return nil, fmt.Errorf("kitchen not found: %w", err)
	}

	// Get meal instances grouped by day
	var instances []models.MealInstance
	if err := s.db.Where("kitchen_id = ? AND serves_at >= ? AND serves_at < ?", kitchenID, start, end).
		Where("status IN ?", []models.MealInstanceStatus{models.MealInstanceScheduled, models.MealInstancePlanned}).
		Preload("MealPlan").
		Preload("Plan").
		Order("serves_at ASC").
		Find(&instances).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch instances: %w", err)
	}

	// Group by day
	dayInstances := make(map[string][]models.MealInstance)
	for _, inst := range instances {
		day := inst.ServesAt.Format("2006-01-02")
		dayInstances[day] = append(dayInstances[day], inst)
	}

	// Generate printable HTML
	var buf bytes.Buffer
	buf.WriteString(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>` + kitchen.Name + ` Meal Calendar</title>
    <style>
        @page { margin: 1cm; }
        body { font-family: Arial, sans-serif; font-size: 11pt; line-height: 1.4; }
        h1 { font-size: 18pt; margin-bottom: 5mm; border-bottom: 2px solid #333; padding-bottom: 3mm; }
        h2 { font-size: 14pt; margin-top: 5mm; margin-bottom: 3mm; color: #444; }
        .day { page-break-inside: avoid; margin-bottom: 5mm; }
        table { width: 100%; border-collapse: collapse; }
        th, td { padding: 2mm 3mm; text-align: left; border-bottom: 1px solid #ddd; }
        th { background: #f5f5f5; font-weight: bold; }
        .time { width: 20%; white-space: nowrap; }
        .meal { width: 45%; }
        .menu { width: 35%; color: #666; }
        .status-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-right: 5px; }
        .footer { margin-top: 10mm; font-size: 9pt; color: #666; text-align: center; }
    </style>
</head>
<body>
    <h1>` + kitchen.Name + ` Meal Calendar</h1>
    <p>` + start.Format("January 2, 2006") + ` - ` + end.Format("January 2, 2006") + `</p>
`)

	// Sort days
	days := make([]string, 0, len(dayInstances))
	for day := range dayInstances {
		days = append(days, day)
	}
	sort.Strings(days)

	for _, day := range days {
		insts := dayInstances[day]
		dayTime, _ := time.Parse("2006-01-02", day)

		buf.WriteString(`    <div class="day">
        <h2>` + dayTime.Format("Monday, January 2") + `</h2>
        <table>
            <tr><th class="time">Serves</th><th class="meal">Meal</th><th class="menu">Menu</th></tr>
`)

		for _, inst := range insts {
			mealName := "Unknown"
			menu := ""

			if inst.MealPlan != nil {
				mealName = inst.MealPlan.Name
				switch n := len(inst.MealPlan.RecipeIDs); n {
				case 1:
					menu = "1 recipe"
				default:
					menu = fmt.Sprintf("%d recipes", n)
				}
			}

			buf.WriteString(fmt.Sprintf(`            <tr>
                <td class="time">%s</td>
                <td class="meal"><span class="status-dot" style="background:%s"></span>%s</td>
                <td class="menu">%s</td>
            </tr>
`,
				inst.ServesAt.Format("3:04 PM"),
				statusColor(inst),
				mealName,
				menu))
		}

		buf.WriteString(`        </table>
    </div>
`)
	}

	buf.WriteString(`    <div class="footer">
        Generated by Andhrimnir Kitchen on ` + time.Now().Format("January 2, 2006 at 3:04 PM") + `
    </div>
</body>
</html>`)

	return buf.Bytes(), nil
}

// Helper functions

// statusColor picks the dot color on the printable sheet: green once a
// timeline is computed, gray while the meal is only scheduled.
func statusColor(inst models.MealInstance) string {
	if inst.Status == models.MealInstancePlanned && inst.PlanRecordID != nil {
		return "#5a5"
	}
	return "#ccc"
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

func unescapeICalText(s string) string {
	s = strings.ReplaceAll(s, "\\n", "\n")
	s = strings.ReplaceAll(s, "\\,", ",")
	s = strings.ReplaceAll(s, "\\;", ";")
	s = strings.ReplaceAll(s, "\\\\", "\\")
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
