package ccsds

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Leap second handling. The built-in table carries every leap second
// announced through IERS Bulletin C 65; UpdateLeapsecs replaces it from a
// current IERS Leap_Second.dat.

// LeapsecTable maps instants to the accumulated TAI-UTC offset.
type LeapsecTable struct {
	// utc and tai are the instants each offset took effect, as Unix seconds
	// on the respective timescale
	utc   []int64
	tai   []int64
	leaps []int
	// Expiration of the source file, zero when unknown.
	Expiration time.Time
}

type leapsecEntry struct {
	year, month, day int
	leaps            int
}

var builtinLeapsecs = []leapsecEntry{
	{1972, 1, 1, 10}, {1972, 7, 1, 11}, {1973, 1, 1, 12}, {1974, 1, 1, 13},
	{1975, 1, 1, 14}, {1976, 1, 1, 15}, {1977, 1, 1, 16}, {1978, 1, 1, 17},
	{1979, 1, 1, 18}, {1980, 1, 1, 19}, {1981, 7, 1, 20}, {1982, 7, 1, 21},
	{1983, 7, 1, 22}, {1985, 7, 1, 23}, {1988, 1, 1, 24}, {1990, 1, 1, 25},
	{1991, 1, 1, 26}, {1992, 7, 1, 27}, {1993, 7, 1, 28}, {1994, 7, 1, 29},
	{1996, 1, 1, 30}, {1997, 7, 1, 31}, {1999, 1, 1, 32}, {2006, 1, 1, 33},
	{2009, 1, 1, 34}, {2012, 7, 1, 35}, {2015, 7, 1, 36}, {2017, 1, 1, 37},
}

var leapsecs = func() *LeapsecTable {
	t := &LeapsecTable{}
	for _, e := range builtinLeapsecs {
		ts := time.Date(e.year, time.Month(e.month), e.day, 0, 0, 0, 0, time.UTC).Unix()
		t.utc = append(t.utc, ts)
		t.tai = append(t.tai, ts+int64(e.leaps))
		t.leaps = append(t.leaps, e.leaps)
	}
	return t
}()

func findLeaps(times []int64, leaps []int, t int64) int {
	for i := len(times) - 1; i >= 0; i-- {
		if t >= times[i] {
			return leaps[i]
		}
	}
	// before the first leap second TAI-UTC is taken as zero
	return 0
}

// LeapsUTC returns TAI-UTC in seconds at the given UTC time.
func (t *LeapsecTable) LeapsUTC(utcUnix int64) int {
	return findLeaps(t.utc, t.leaps, utcUnix)
}

// LeapsTAI returns TAI-UTC in seconds at the given TAI time.
func (t *LeapsecTable) LeapsTAI(taiUnix int64) int {
	return findLeaps(t.tai, t.leaps, taiUnix)
}

// LeapsUTC returns TAI-UTC in seconds at the given UTC time, in Unix
// seconds, using the active table.
func LeapsUTC(utcUnix int64) int { return leapsecs.LeapsUTC(utcUnix) }

// LeapsTAI returns TAI-UTC in seconds at the given TAI time, in Unix
// seconds, using the active table.
func LeapsTAI(taiUnix int64) int { return leapsecs.LeapsTAI(taiUnix) }

// UpdateLeapsecs replaces the active table with one read from an IERS
// Leap_Second.dat file.
func UpdateLeapsecs(path string) error {
	dat, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading leap second file: %w", err)
	}
	table, err := ParseLeapsecs(string(dat))
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	leapsecs = table
	return nil
}

// ParseLeapsecs parses the IERS Leap_Second.dat format: comment lines
// starting with '#', one of which may carry a "File expires on" date, and
// records of MJD, day, month, year, and TAI-UTC.
func ParseLeapsecs(content string) (*LeapsecTable, error) {
	table := &LeapsecTable{}
	prev := 0
	for lineno, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, "#") {
			if expr, ok := parseLeapsecExpiration(line); ok {
				table.Expiration = expr
			}
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		ts, leaps, err := parseLeapsecRecord(line)
		if err != nil {
			return nil, fmt.Errorf("invalid record at line %d: %w", lineno+1, err)
		}
		if prev != 0 && leaps-prev != 1 {
			return nil, fmt.Errorf("records more than 1s apart at line %d", lineno+1)
		}
		prev = leaps
		table.utc = append(table.utc, ts)
		table.tai = append(table.tai, ts+int64(leaps))
		table.leaps = append(table.leaps, leaps)
	}
	if len(table.leaps) == 0 {
		return nil, fmt.Errorf("no leap second records found")
	}
	return table, nil
}

func parseLeapsecExpiration(line string) (time.Time, bool) {
	_, after, found := strings.Cut(line, "File expires on ")
	if !found {
		return time.Time{}, false
	}
	t, err := time.Parse("2 January 2006", strings.TrimSpace(after))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// parseLeapsecRecord parses "MJD day month year TAI-UTC".
func parseLeapsecRecord(line string) (int64, int, error) {
	parts := strings.Fields(line)
	if len(parts) != 5 {
		return 0, 0, fmt.Errorf("expected 5 fields, got %d", len(parts))
	}
	day, err1 := strconv.Atoi(parts[1])
	month, err2 := strconv.Atoi(parts[2])
	year, err3 := strconv.Atoi(parts[3])
	leaps, err4 := strconv.Atoi(parts[4])
	for _, err := range []error{err1, err2, err3, err4} {
		if err != nil {
			return 0, 0, err
		}
	}
	ts := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC).Unix()
	return ts, leaps, nil
}
