package utils

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the calendar date format used on the wire.
const DateLayout = "2006-01-02"

var relativePattern = regexp.MustCompile(`^([+-])(\d+)([dwm])$`)

// ParseDate turns a command-line date into YYYY-MM-DD. Besides absolute
// dates it accepts today, tomorrow, yesterday and offsets such as +3d, -1w
// or +1m, resolved against now. An empty string stays empty.
func ParseDate(dateStr string, now time.Time) (string, error) {
	if dateStr == "" {
		return "", nil
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	lower := strings.ToLower(strings.TrimSpace(dateStr))
	switch lower {
	case "today":
		return today.Format(DateLayout), nil
	case "tomorrow":
		return today.AddDate(0, 0, 1).Format(DateLayout), nil
	case "yesterday":
		return today.AddDate(0, 0, -1).Format(DateLayout), nil
	}

	if m := relativePattern.FindStringSubmatch(lower); m != nil {
		num, err := strconv.Atoi(m[2])
		if err != nil {
			return "", ErrInvalidDate(dateStr)
		}
		if m[1] == "-" {
			num = -num
		}
		switch m[3] {
		case "d":
			return today.AddDate(0, 0, num).Format(DateLayout), nil
		case "w":
			return today.AddDate(0, 0, num*7).Format(DateLayout), nil
		default:
			return today.AddDate(0, num, 0).Format(DateLayout), nil
		}
	}

	parsed, err := time.ParseInLocation(DateLayout, lower, now.Location())
	if err != nil {
		return "", ErrInvalidDate(dateStr)
	}
	return parsed.Format(DateLayout), nil
}
