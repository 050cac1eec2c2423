package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec is a normalized schedule string.
//
// Accepted forms:
//   - cron: "*/30 * * * *", "0 */30 * * * *" (seconds), "@hourly", "@every 30m"
//   - Go duration: "30m", "1h30m"
//   - HH:MM interval: "00:30" (30 minutes), "02:15"
//
// "cron:" forces cron parsing; "interval:" and "every:" force interval parsing.
type ParsedSpec struct {
	Kind   SpecKind
	Cron   string
	Every  time.Duration
	Source string // cron, duration or hhmm
}

// CronSpec returns the expression handed to robfig/cron.
func (p ParsedSpec) CronSpec() string {
	if p.Kind == SpecInterval {
		return "@every " + p.Every.String()
	}
	return p.Cron
}

func (p ParsedSpec) String() string {
	if p.Kind == SpecInterval {
		return "every " + p.Every.String()
	}
	return "cron " + p.Cron
}

// ParseSchedule normalizes a schedule string. It does not validate cron
// field syntax; Service does that with its cron parser.
func ParseSchedule(raw string) (ParsedSpec, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ParsedSpec{}, errors.New("schedule is empty")
	}

	if prefix, rest, ok := strings.Cut(text, ":"); ok {
		switch strings.ToLower(prefix) {
		case "cron":
			rest = strings.TrimSpace(rest)
			if rest == "" {
				return ParsedSpec{}, errors.New("cron: prefix needs an expression")
			}
			return cronSpec(rest), nil
		case "interval", "every":
			return intervalSpec(rest)
		}
	}
	if strings.HasPrefix(text, "@") || strings.ContainsAny(text, " \t\r\n") {
		return cronSpec(text), nil
	}
	spec, err := intervalSpec(text)
	if err != nil {
		return ParsedSpec{}, fmt.Errorf("schedule %q is not a cron expression, HH:MM interval or duration: %w", raw, err)
	}
	return spec, nil
}

func cronSpec(expr string) ParsedSpec {
	return ParsedSpec{Kind: SpecCron, Cron: expr, Source: "cron"}
}

// intervalSpec accepts "HH:MM" or a Go duration.
func intervalSpec(v string) (ParsedSpec, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return ParsedSpec{}, errors.New("interval is empty")
	}

	every, source := time.Duration(0), "duration"
	if hh, mm, ok := strings.Cut(v, ":"); ok {
		h, herr := strconv.Atoi(hh)
		m, merr := strconv.Atoi(mm)
		if herr != nil || merr != nil || len(mm) != 2 || h < 0 || m > 59 {
			return ParsedSpec{}, fmt.Errorf("interval %q: want HH:MM", v)
		}
		every, source = time.Duration(h)*time.Hour+time.Duration(m)*time.Minute, "hhmm"
	} else {
		d, err := time.ParseDuration(v)
		if err != nil {
			return ParsedSpec{}, fmt.Errorf("interval %q: %w", v, err)
		}
		every = d
	}
	if every <= 0 {
		return ParsedSpec{}, fmt.Errorf("interval %q must be positive", v)
	}
	return ParsedSpec{Kind: SpecInterval, Every: every, Source: source}, nil
}
