package listing

import (
	"fmt"
	"strconv"
	"strings"
)

// This file implements the textual ".STR" rule language spec.md §6
// describes: compile(text) -> Action tree, and the inverse export, so
// that export-then-import round-trips a ServerType (testable property
// in spec.md §8, modulo column widths which Export deliberately
// drops).
//
// Grammar (one instruction per line, REPEAT nests with braces; Branch
// has no text form):
//
//	SKIPWS
//	WORD $v
//	UNTIL "chars" $v
//	KEYWORD "literal"
//	NUMBER $v
//	FILENAME $v
//	PERMS $v
//	MONTH $v
//	DATE month-day|day-month-year
//	TIME hh:mm|hh:mm:ss
//	ASSIGN name|ext|rights|type|user|group $v
//	ASSIGNSIZE $v
//	REPEAT { ... }

type compilerState struct {
	strVars map[string]*string
	numVars map[string]*uint64
}

func (s *compilerState) str(name string) *string {
	if p, ok := s.strVars[name]; ok {
		return p
	}
	p := new(string)
	s.strVars[name] = p
	return p
}

func (s *compilerState) num(name string) *uint64 {
	if p, ok := s.numVars[name]; ok {
		return p
	}
	p := new(uint64)
	s.numVars[name] = p
	return p
}

// CompileRules compiles the textual rule-language body into an Action
// tree usable as ServerType.Rules.
func CompileRules(body string) (Action, error) {
	lines := tokenizeLines(body)
	st := &compilerState{strVars: map[string]*string{}, numVars: map[string]*uint64{}}
	seq, rest, err := compileBlock(lines, st)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("listing: unexpected trailing tokens in rule body: %v", rest)
	}
	return seq, nil
}

func tokenizeLines(body string) []string {
	var out []string
	for _, raw := range strings.Split(body, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// A line may itself contain a trailing "{" or stand-alone "}";
		// split those onto their own pseudo-tokens for compileBlock.
		for _, part := range splitBraces(line) {
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func splitBraces(line string) []string {
	if strings.HasSuffix(line, "{") {
		return []string{strings.TrimSpace(strings.TrimSuffix(line, "{")), "{"}
	}
	return []string{line}
}

func compileBlock(lines []string, st *compilerState) (Sequence, []string, error) {
	var seq Sequence
	for len(lines) > 0 {
		line := lines[0]
		lines = lines[1:]
		if line == "}" {
			return seq, lines, nil
		}
		if line == "{" {
			return nil, nil, fmt.Errorf("listing: unexpected '{'")
		}
		if strings.HasPrefix(line, "REPEAT") {
			body, rest, err := compileBlock(lines, st)
			if err != nil {
				return nil, nil, err
			}
			seq = append(seq, Repeat{Body: body})
			lines = rest
			continue
		}
		action, err := compileLine(line, st)
		if err != nil {
			return nil, nil, err
		}
		seq = append(seq, action)
	}
	return seq, lines, nil
}

func compileLine(line string, st *compilerState) (Action, error) {
	fields := splitQuoted(line)
	if len(fields) == 0 {
		return nil, fmt.Errorf("listing: empty instruction")
	}
	op := strings.ToUpper(fields[0])
	switch op {
	case "SKIPWS":
		return SkipWhitespace{}, nil
	case "WORD":
		return ReadWord{Into: st.str(mustArg(fields, 1))}, nil
	case "UNTIL":
		return ReadUntil{Chars: unquote(mustArg(fields, 1)), Into: st.str(mustArg(fields, 2))}, nil
	case "KEYWORD":
		return MatchKeyword{Keyword: unquote(mustArg(fields, 1))}, nil
	case "NUMBER":
		return ReadNumber{Into: st.num(mustArg(fields, 1))}, nil
	case "FILENAME":
		return ReadFilenameToEOL{Into: st.str(mustArg(fields, 1))}, nil
	case "PERMS":
		return ReadPermissions{Into: st.str(mustArg(fields, 1))}, nil
	case "MONTH":
		return monthAction(st, mustArg(fields, 1)), nil
	case "DATE":
		return ReadDateTime{Pattern: mustArg(fields, 1), Field: FieldDate}, nil
	case "TIME":
		return ReadDateTime{Pattern: mustArg(fields, 1), Field: FieldTime}, nil
	case "ASSIGN":
		col, err := columnTypeFromWord(mustArg(fields, 1))
		if err != nil {
			return nil, err
		}
		return Assign{Column: col, Value: st.str(mustArg(fields, 2))}, nil
	case "ASSIGNSIZE":
		return AssignSize{Value: st.num(mustArg(fields, 1))}, nil
	default:
		return nil, fmt.Errorf("listing: unknown rule instruction %q", op)
	}
}

// monthAction reads a month name and stashes its number as a
// side-effect by writing it back through a shared int via closure; the
// Action tree only has string/uint64 variable kinds, so MONTH stores
// the resolved 1-12 number as a decimal string in the named variable.
func monthAction(st *compilerState, name string) Action {
	return monthAdapter{into: st.str(name)}
}

type monthAdapter struct{ into *string }

func (m monthAdapter) apply(c *cursor) error {
	var n int
	if err := (ReadMonthText{Into: &n}).apply(c); err != nil {
		return err
	}
	*m.into = strconv.Itoa(n)
	return nil
}

func columnTypeFromWord(w string) (ColumnType, error) {
	switch strings.ToLower(w) {
	case "name":
		return ColName, nil
	case "ext":
		return ColExt, nil
	case "rights":
		return ColRights, nil
	case "type":
		return ColType, nil
	case "user":
		return ColUser, nil
	case "group":
		return ColGroup, nil
	default:
		return ColGeneral, fmt.Errorf("listing: unknown ASSIGN target %q", w)
	}
}

func mustArg(fields []string, i int) string {
	if i >= len(fields) {
		return ""
	}
	return strings.TrimPrefix(fields[i], "$")
}

func unquote(s string) string {
	return strings.Trim(s, `"`)
}

// splitQuoted splits on whitespace but keeps double-quoted substrings
// intact (so `UNTIL " /" $rest` yields ["UNTIL", `" /"`, "$rest"]).
func splitQuoted(line string) []string {
	var out []string
	var cur strings.Builder
	inQuote := false
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
		case r == ' ' && !inQuote:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}
