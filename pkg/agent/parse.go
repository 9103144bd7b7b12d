package agent

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	emailRE   = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	clockRE   = regexp.MustCompile(`\b(?:at\s+)?(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\b`)
	subjectRE = regexp.MustCompile(`(?i)\b(?:about|subject:?|re:?)\s+(.+?)(?:[.:;]|$)`)
	quotedRE  = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
	fillerRE  = regexp.MustCompile(`(?i)\b(?:please|tomorrow|today|schedule|create|book|add|cancel|reschedule|move|invite|the|my|an?|to|for|with|on|at)\b`)
)

// addresses returns every email address in s, in order, without duplicates.
func addresses(s string) []string {
	seen := map[string]bool{}
	var out []string
	for _, a := range emailRE.FindAllString(s, -1) {
		a = strings.ToLower(a)
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

// subject extracts "about X" / "subject X" from s, falling back to a short
// prefix of s.
func subject(s string) string {
	if m := subjectRE.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return clip(strings.TrimSpace(emailRE.ReplaceAllString(s, "")), 60)
}

// quoted returns the first quoted phrase in s.
func quoted(s string) (string, bool) {
	m := quotedRE.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	if m[1] != "" {
		return m[1], true
	}
	return m[2], true
}

// when resolves a start time mentioned in s relative to now. Only "tomorrow"
// and clock times ("at 15:30", "3pm") are understood. A clock time already
// past today rolls to the next day. Without a clock time the event starts at
// the next full hour.
func when(s string, now time.Time) time.Time {
	lower := strings.ToLower(s)
	day := now
	explicitDay := false
	if strings.Contains(lower, "tomorrow") {
		day = now.AddDate(0, 0, 1)
		explicitDay = true
	}

	for _, m := range clockRE.FindAllStringSubmatch(lower, -1) {
		// Require either a minute part, an am/pm suffix or a leading "at"
		// so bare numbers ("3 people") are not read as times.
		if m[2] == "" && m[3] == "" && !strings.HasPrefix(m[0], "at") {
			continue
		}
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		switch m[3] {
		case "pm":
			if hour < 12 {
				hour += 12
			}
		case "am":
			if hour == 12 {
				hour = 0
			}
		}
		if hour > 23 || minute > 59 {
			continue
		}
		t := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location())
		if !explicitDay && !t.After(now) {
			t = t.AddDate(0, 0, 1)
		}
		return t
	}

	next := now.Truncate(time.Hour).Add(time.Hour)
	if explicitDay {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// title strips addresses, times and filler from s to name an event.
func title(s string) string {
	if q, ok := quoted(s); ok {
		return q
	}
	t := emailRE.ReplaceAllString(s, "")
	t = clockRE.ReplaceAllStringFunc(t, func(m string) string {
		if strings.ContainsAny(m, ":apm") {
			return ""
		}
		return m
	})
	t = fillerRE.ReplaceAllString(t, "")
	t = strings.Join(strings.Fields(t), " ")
	if t == "" {
		return "Meeting"
	}
	return clip(t, 80)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "..."
}
