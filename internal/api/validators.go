package api

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ernie/teamwatch/internal/domain"
)

var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,64}$`)

// parseLimit parses and validates a limit parameter with default and max values
func parseLimit(r *http.Request, defaultLimit, maxLimit int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxLimit {
			return parsed
		}
	}
	return defaultLimit
}

// parseDays parses the days parameter, 0 meaning the default
func parseDays(r *http.Request) int {
	if d := r.URL.Query().Get("days"); d != "" {
		if parsed, err := strconv.Atoi(d); err == nil && parsed > 0 && parsed <= 365 {
			return parsed
		}
	}
	return 0
}

// parseTime accepts RFC 3339 or unix seconds
func parseTime(s string) (time.Time, error) {
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", s)
	}
	return t.UTC(), nil
}

// parseTimeRange reads the optional from and to parameters
func parseTimeRange(r *http.Request) (domain.TimeRange, error) {
	var tr domain.TimeRange
	q := r.URL.Query()
	if from := q.Get("from"); from != "" {
		t, err := parseTime(from)
		if err != nil {
			return tr, err
		}
		tr.From = &t
	}
	if to := q.Get("to"); to != "" {
		t, err := parseTime(to)
		if err != nil {
			return tr, err
		}
		tr.To = &t
	}
	if tr.From != nil && tr.To != nil && tr.To.Before(*tr.From) {
		return tr, fmt.Errorf("to is before from")
	}
	return tr, nil
}

// parseList splits a comma separated parameter, dropping blanks
func parseList(r *http.Request, name string) []string {
	var out []string
	for _, part := range strings.Split(r.URL.Query().Get(name), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// validateTenantID checks a tenant path segment
func validateTenantID(id string) bool {
	return tenantIDPattern.MatchString(id)
}
