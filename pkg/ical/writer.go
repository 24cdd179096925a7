package ical

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shiftwatch/shiftwatch/pkg/scraper"
)

const (
	statusField = "X-SHIFTWATCH-STATUS"
	icsTimeUTC  = "20060102T150405Z"
	crlf        = "\r\n"
)

// Write serializes shifts into an iCalendar file at path. The status line
// carries the last exit code so subscribers see outages without waiting for
// the next successful run.
func Write(path string, shifts []scraper.Shift, status string) error {
	var buf bytes.Buffer

	buf.WriteString("BEGIN:VCALENDAR" + crlf)
	buf.WriteString("VERSION:2.0" + crlf)
	buf.WriteString("PRODID:-//Shiftwatch//Shiftwatch//EN" + crlf)
	buf.WriteString("CALSCALE:GREGORIAN" + crlf)
	buf.WriteString(statusField + ":" + escapeText(status) + crlf)

	now := time.Now().UTC().Format(icsTimeUTC)

	for i := range shifts {
		shift := &shifts[i]

		buf.WriteString("BEGIN:VEVENT" + crlf)
		fmt.Fprintf(&buf, "UID:%d@shiftwatch%s", shift.MagicNumber(), crlf)
		fmt.Fprintf(&buf, "DTSTAMP:%s%s", now, crlf)
		fmt.Fprintf(&buf, "DTSTART:%s%s", shift.Start.UTC().Format(icsTimeUTC), crlf)
		fmt.Fprintf(&buf, "DTEND:%s%s", shift.End.UTC().Format(icsTimeUTC), crlf)
		fmt.Fprintf(&buf, "SUMMARY:%s%s", escapeText(summary(shift)), crlf)

		if len(shift.Location) > 0 {
			fmt.Fprintf(&buf, "LOCATION:%s%s", escapeText(shift.Location), crlf)
		}

		buf.WriteString("END:VEVENT" + crlf)
	}

	buf.WriteString("END:VCALENDAR" + crlf)

	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func summary(shift *scraper.Shift) string {
	if len(shift.Kind) > 0 {
		return fmt.Sprintf("Shift %v (%v)", shift.Number, shift.Kind)
	}

	return fmt.Sprintf("Shift %v", shift.Number)
}

func escapeText(s string) string {
	r := strings.NewReplacer("\\", "\\\\", ";", "\\;", ",", "\\,", "\n", "\\n", "\r", "")
	return r.Replace(s)
}

// PatchStatus rewrites only the status line of an existing calendar file.
// Failure paths use this so the published shift content survives outages.
func PatchStatus(path string, status string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	lines := bytes.Split(data, []byte(crlf))
	patched := false
	for i, line := range lines {
		if bytes.HasPrefix(line, []byte(statusField+":")) {
			lines[i] = []byte(statusField + ":" + escapeText(status))
			patched = true
			break
		}
	}

	if !patched {
		return fmt.Errorf("calendar %v has no %v field", path, statusField)
	}

	return os.WriteFile(path, bytes.Join(lines, []byte(crlf)), 0o644)
}

// URL composes the public subscription address of a published calendar.
func URL(icalDomain, userName, fileStem string) string {
	return fmt.Sprintf("webcal://%s/%s/%s.ics", icalDomain, userName, fileStem)
}
