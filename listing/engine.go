package listing

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Entry is one parsed listing row, as spec.md §4.2 describes the
// parser's output stream.
type Entry struct {
	Data  FileData
	IsDir bool
}

// Parse evaluates st's compiled rules against raw listing bytes,
// returning one Entry per row that the rules consume completely. Rows
// consisting only of "." or ".." are silently skipped, as are blank
// rows. If a single row fails to parse, Parse reports
// ErrNotParseable — a parser "matches" only when every row is
// consumed (spec.md §4.2). A known empty-directory sentinel reply
// (OpenVMS "%RMS-E-FNF" and friends) resolves to (nil, nil), the same
// as a successful empty listing.
func Parse(st *ServerType, raw []byte, now time.Time) ([]Entry, error) {
	if st.EmptyDirSentinel != nil && st.EmptyDirSentinel(raw) {
		return nil, nil
	}
	raw = normalizeListingBytes(raw)
	lines := splitLines(raw)
	entries := make([]Entry, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimRight(string(line), "\r\n")
		if trimmed == "" {
			continue
		}
		if d := strings.TrimRight(trimmed, " \t"); d == "." || d == ".." || strings.HasSuffix(d, " .") || strings.HasSuffix(d, " ..") {
			if isDotRow(trimmed) {
				continue
			}
		}
		c := &cursor{
			row:       []byte(trimmed),
			cols:      map[int]string{},
			now:       now,
			monthTbl:  st.MonthTable,
			dirsNoExt: st.DirsHaveNoExt,
		}
		if err := st.Rules.apply(c); err != nil {
			return nil, ErrNotParseable{Line: trimmed, Cause: err}
		}
		if !c.eof() {
			return nil, ErrNotParseable{Line: trimmed, Cause: errSkipRow}
		}
		if c.data.Name == "." || c.data.Name == ".." {
			continue
		}
		entries = append(entries, Entry{Data: c.data, IsDir: c.data.IsDir})
	}
	return entries, nil
}

// normalizeListingBytes re-encodes raw as UTF-8 when it isn't already
// valid UTF-8. Servers that never negotiated "OPTS UTF8 ON" commonly
// answer LIST in Latin-1 (accented names on European hosts); the rules
// engine operates on text, so anything not already valid UTF-8 is
// assumed to be ISO-8859-1 and decoded rather than left to corrupt
// column splitting downstream.
func normalizeListingBytes(raw []byte) []byte {
	if utf8.Valid(raw) {
		return raw
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func isDotRow(trimmed string) bool {
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return false
	}
	last := fields[len(fields)-1]
	return last == "." || last == ".."
}

func splitLines(raw []byte) [][]byte {
	return splitOn(raw, '\n')
}

func splitOn(raw []byte, sep byte) [][]byte {
	var out [][]byte
	start := 0
	for i, b := range raw {
		if b == sep {
			out = append(out, raw[start:i])
			start = i + 1
		}
	}
	if start < len(raw) {
		out = append(out, raw[start:])
	}
	return out
}

// ErrNotParseable is returned when a row fails to match a server
// type's rules; callers map this to ftperrors.KindListingNotParseable.
type ErrNotParseable struct {
	Line  string
	Cause error
}

func (e ErrNotParseable) Error() string {
	return fmt.Sprintf("listing: cannot parse row %q: %v", e.Line, e.Cause)
}

func (e ErrNotParseable) Unwrap() error { return e.Cause }

// Autodetect picks the server type to use for a connection, per
// spec.md §4.2: try the explicitly configured type first (if any),
// then every type whose Detector matches the welcome/SYST pair, then
// every remaining type, in catalog order. Each candidate is tried
// against the listing sample; the first whose rules consume it
// entirely (Parse returns no error) wins.
func Autodetect(catalog []*ServerType, configured *ServerType, welcome, syst string, sample []byte, now time.Time) (*ServerType, []Entry, error) {
	tryOrder := make([]*ServerType, 0, len(catalog)+1)
	tried := map[*ServerType]bool{}
	if configured != nil {
		tryOrder = append(tryOrder, configured)
		tried[configured] = true
	}
	for _, st := range catalog {
		if tried[st] {
			continue
		}
		if st.Autodetect != nil && st.Autodetect.Detect(welcome, syst) {
			tryOrder = append(tryOrder, st)
			tried[st] = true
		}
	}
	for _, st := range catalog {
		if !tried[st] {
			tryOrder = append(tryOrder, st)
			tried[st] = true
		}
	}

	var lastErr error
	for _, st := range tryOrder {
		entries, err := Parse(st, sample, now)
		if err == nil {
			return st, entries, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("listing: no server types registered")
	}
	return nil, nil, fmt.Errorf("listing: autodetection exhausted catalog: %w", lastErr)
}
