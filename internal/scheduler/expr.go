// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Expression is a parsed 5-field cron expression. Each field is a bit set
// of the values it admits.
type Expression struct {
	minute uint64
	hour   uint64
	dom    uint64
	month  uint64
	dow    uint64

	// A literal "*" in day-of-month or day-of-week. Standard cron ORs the two
	// day fields unless one of them is unrestricted.
	domAny bool
	dowAny bool

	source string
}

type bounds struct {
	name     string
	min, max int
}

var fieldBounds = [5]bounds{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 7},
}

// Parse parses "minute hour day-of-month month day-of-week". Each field
// accepts "*", a value, a range "a-b", a step "*/n", "a/n" or "a-b/n", and
// comma-separated lists of those. Day-of-week 7 is Sunday, like 0.
func Parse(expr string) (*Expression, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron expression %q must have 5 fields, got %d", expr, len(fields))
	}

	var sets [5]uint64
	for i, f := range fields {
		set, err := parseField(f, fieldBounds[i])
		if err != nil {
			return nil, fmt.Errorf("invalid %s field %q: %w", fieldBounds[i].name, f, err)
		}
		sets[i] = set
	}

	// Fold Sunday=7 onto 0.
	if sets[4]&(1<<7) != 0 {
		sets[4] = (sets[4] &^ (1 << 7)) | 1
	}

	return &Expression{
		minute: sets[0],
		hour:   sets[1],
		dom:    sets[2],
		month:  sets[3],
		dow:    sets[4],
		domAny: fields[2] == "*",
		dowAny: fields[4] == "*",
		source: expr,
	}, nil
}

// MustParse is Parse for expressions known at compile time.
func MustParse(expr string) *Expression {
	e, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return e
}

// String returns the expression as written.
func (e *Expression) String() string { return e.source }

func parseField(field string, b bounds) (uint64, error) {
	var set uint64
	for _, part := range strings.Split(field, ",") {
		bits, err := parsePart(part, b)
		if err != nil {
			return 0, err
		}
		set |= bits
	}
	return set, nil
}

func parsePart(part string, b bounds) (uint64, error) {
	if part == "" {
		return 0, fmt.Errorf("empty list element")
	}

	rangePart, step := part, 1
	if i := strings.IndexByte(part, '/'); i >= 0 {
		n, err := strconv.Atoi(part[i+1:])
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid step %q", part[i+1:])
		}
		rangePart, step = part[:i], n
	}

	lo, hi := b.min, b.max
	switch {
	case rangePart == "*":
	case strings.Contains(rangePart, "-"):
		a, z, _ := strings.Cut(rangePart, "-")
		var err error
		if lo, err = atoiIn(a, b); err != nil {
			return 0, err
		}
		if hi, err = atoiIn(z, b); err != nil {
			return 0, err
		}
		if lo > hi {
			return 0, fmt.Errorf("range %d-%d is reversed", lo, hi)
		}
	default:
		v, err := atoiIn(rangePart, b)
		if err != nil {
			return 0, err
		}
		lo = v
		// "5/15" runs from 5 to the end of the field; a bare "5" is just 5.
		if step == 1 {
			hi = v
		}
	}

	var set uint64
	for v := lo; v <= hi; v += step {
		set |= 1 << uint(v)
	}
	return set, nil
}

func atoiIn(s string, b bounds) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	if v < b.min || v > b.max {
		return 0, fmt.Errorf("value %d out of range %d-%d", v, b.min, b.max)
	}
	return v, nil
}

// Next returns the first minute strictly after t that matches, in t's
// location. It returns the zero time if nothing matches within five years,
// which only happens for dates like February 30.
func (e *Expression) Next(t time.Time) time.Time {
	loc := t.Location()
	t = t.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(5, 0, 0)

	for t.Before(limit) {
		if !has(e.month, int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, loc)
			continue
		}
		if !e.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
			continue
		}
		if !has(e.hour, t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, loc)
			continue
		}
		if !has(e.minute, t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}

// Matches reports whether t's minute is one the expression fires on.
func (e *Expression) Matches(t time.Time) bool {
	return has(e.minute, t.Minute()) &&
		has(e.hour, t.Hour()) &&
		has(e.month, int(t.Month())) &&
		e.dayMatches(t)
}

func (e *Expression) dayMatches(t time.Time) bool {
	dom := has(e.dom, t.Day())
	dow := has(e.dow, int(t.Weekday()))
	switch {
	case e.domAny && e.dowAny:
		return true
	case e.domAny:
		return dow
	case e.dowAny:
		return dom
	default:
		return dom || dow
	}
}

func has(set uint64, v int) bool { return set&(1<<uint(v)) != 0 }
