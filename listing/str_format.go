package listing

import (
	"fmt"
	"strconv"
	"strings"
)

// ExportSTR renders st as a ".STR" text document, per spec.md §6:
//
//	Type Name: <name>
//
//	Autodetect Condition: "..."
//
//	Columns:
//	"<col-spec>"
//	...
//
//	Rules for Parsing: "..."
//
// Column widths are intentionally omitted (spec.md §8: "modulo column
// widths, explicitly excluded from export").
func ExportSTR(st *ServerType) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Type Name: %s\n\n", st.Name)
	fmt.Fprintf(&b, "Autodetect Condition: %q\n\n", exportDetector(st.Autodetect))
	b.WriteString("Columns:\n")
	for _, c := range st.Columns {
		fmt.Fprintf(&b, "%q\n", exportColumn(c))
	}
	b.WriteString("\n")
	reg := &exportRegistry{strNames: map[*string]string{}, numNames: map[*uint64]string{}}
	body, err := exportAction(st.Rules, reg)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&b, "Rules for Parsing: %q\n", body)
	return b.String(), nil
}

func exportDetector(d Detector) string {
	switch v := d.(type) {
	case nil:
		return ""
	case Always:
		return "always"
	case WelcomeContains:
		return fmt.Sprintf("welcome contains %q", v.Substr)
	case SystContains:
		return fmt.Sprintf("syst contains %q", v.Substr)
	case DetectAnd:
		parts := make([]string, len(v))
		for i, s := range v {
			parts[i] = exportDetector(s)
		}
		return strings.Join(parts, " and ")
	case DetectOr:
		parts := make([]string, len(v))
		for i, s := range v {
			parts[i] = exportDetector(s)
		}
		return strings.Join(parts, " or ")
	default:
		return "always"
	}
}

// ImportDetector parses the textual form exportDetector produces.
func ImportDetector(s string) (Detector, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "always" {
		return Always{}, nil
	}
	if strings.Contains(s, " and ") {
		var conds DetectAnd
		for _, part := range strings.Split(s, " and ") {
			d, err := ImportDetector(part)
			if err != nil {
				return nil, err
			}
			conds = append(conds, d)
		}
		return conds, nil
	}
	if strings.Contains(s, " or ") {
		var conds DetectOr
		for _, part := range strings.Split(s, " or ") {
			d, err := ImportDetector(part)
			if err != nil {
				return nil, err
			}
			conds = append(conds, d)
		}
		return conds, nil
	}
	if rest, ok := cutPrefix(s, "welcome contains "); ok {
		return WelcomeContains{Substr: unquote(strings.TrimSpace(rest))}, nil
	}
	if rest, ok := cutPrefix(s, "syst contains "); ok {
		return SystContains{Substr: unquote(strings.TrimSpace(rest))}, nil
	}
	return nil, fmt.Errorf("listing: unrecognised autodetect condition %q", s)
}

// mustUnquoteGo reverses a %q-produced string; a malformed or absent
// quoted literal degrades to the trimmed raw text rather than erroring,
// since blank Autodetect/Rules sections are valid (never auto-selected,
// or no rules).
func mustUnquoteGo(s string) string {
	unq, err := strconv.Unquote(s)
	if err != nil {
		return strings.Trim(s, `"`)
	}
	return unq
}

func cutPrefix(s, prefix string) (string, bool) {
	if strings.HasPrefix(s, prefix) {
		return s[len(prefix):], true
	}
	return "", false
}

func exportColumn(c Column) string {
	align := "left"
	if c.Alignment == AlignRight {
		align = "right"
	}
	return fmt.Sprintf("%d|%s|%s|%s|%s|%s|%t|%t",
		c.ID, columnTypeName(c.Type), c.Name, c.Description, c.EmptyValue, align, c.Visible, c.FixedWidth)
}

func columnTypeName(t ColumnType) string {
	switch t {
	case ColName:
		return "name"
	case ColExt:
		return "ext"
	case ColSize:
		return "size"
	case ColDate:
		return "date"
	case ColTime:
		return "time"
	case ColType:
		return "type"
	case ColRights:
		return "rights"
	case ColUser:
		return "user"
	case ColGroup:
		return "group"
	case ColMTime:
		return "mtime"
	case ColCTime:
		return "ctime"
	case ColATime:
		return "atime"
	default:
		return "general"
	}
}

func columnTypeFromName(s string) ColumnType {
	switch s {
	case "name":
		return ColName
	case "ext":
		return ColExt
	case "size":
		return ColSize
	case "date":
		return ColDate
	case "time":
		return ColTime
	case "type":
		return ColType
	case "rights":
		return ColRights
	case "user":
		return ColUser
	case "group":
		return ColGroup
	case "mtime":
		return ColMTime
	case "ctime":
		return ColCTime
	case "atime":
		return ColATime
	default:
		return ColGeneral
	}
}

// ImportColumn parses one column spec produced by exportColumn.
func ImportColumn(spec string) (Column, error) {
	parts := strings.Split(spec, "|")
	if len(parts) != 8 {
		return Column{}, fmt.Errorf("listing: malformed column spec %q", spec)
	}
	id, err := strconv.Atoi(parts[0])
	if err != nil {
		return Column{}, fmt.Errorf("listing: bad column id in %q: %w", spec, err)
	}
	align := AlignLeft
	if parts[5] == "right" {
		align = AlignRight
	}
	return Column{
		ID:          id,
		Type:        columnTypeFromName(parts[1]),
		Name:        parts[2],
		Description: parts[3],
		EmptyValue:  parts[4],
		Alignment:   align,
		Visible:     parts[6] == "true",
		FixedWidth:  parts[7] == "true",
	}, nil
}

type exportRegistry struct {
	strNames map[*string]string
	numNames map[*uint64]string
	nextStr  int
	nextNum  int
}

func (r *exportRegistry) nameFor(p *string) string {
	if n, ok := r.strNames[p]; ok {
		return n
	}
	r.nextStr++
	n := fmt.Sprintf("s%d", r.nextStr)
	r.strNames[p] = n
	return n
}

func (r *exportRegistry) numNameFor(p *uint64) string {
	if n, ok := r.numNames[p]; ok {
		return n
	}
	r.nextNum++
	n := fmt.Sprintf("n%d", r.nextNum)
	r.numNames[p] = n
	return n
}

func exportAction(a Action, reg *exportRegistry) (string, error) {
	var b strings.Builder
	if err := exportOne(a, reg, &b); err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}

func exportOne(a Action, reg *exportRegistry, b *strings.Builder) error {
	switch v := a.(type) {
	case Sequence:
		for _, sub := range v {
			if err := exportOne(sub, reg, b); err != nil {
				return err
			}
		}
	case SkipWhitespace:
		b.WriteString("SKIPWS\n")
	case ReadWord:
		fmt.Fprintf(b, "WORD $%s\n", reg.nameFor(v.Into))
	case ReadUntil:
		fmt.Fprintf(b, "UNTIL %q $%s\n", v.Chars, reg.nameFor(v.Into))
	case MatchKeyword:
		fmt.Fprintf(b, "KEYWORD %q\n", v.Keyword)
	case ReadNumber:
		fmt.Fprintf(b, "NUMBER $%s\n", reg.numNameFor(v.Into))
	case ReadFilenameToEOL:
		fmt.Fprintf(b, "FILENAME $%s\n", reg.nameFor(v.Into))
	case ReadPermissions:
		fmt.Fprintf(b, "PERMS $%s\n", reg.nameFor(v.Into))
	case monthAdapter:
		fmt.Fprintf(b, "MONTH $%s\n", reg.nameFor(v.into))
	case ReadDateTime:
		if v.Field == FieldTime {
			fmt.Fprintf(b, "TIME %s\n", v.Pattern)
		} else {
			fmt.Fprintf(b, "DATE %s\n", v.Pattern)
		}
	case Assign:
		fmt.Fprintf(b, "ASSIGN %s $%s\n", columnTypeName(v.Column), reg.nameFor(v.Value))
	case AssignSize:
		fmt.Fprintf(b, "ASSIGNSIZE $%s\n", reg.numNameFor(v.Value))
	case Repeat:
		b.WriteString("REPEAT {\n")
		if err := exportOne(v.Body, reg, b); err != nil {
			return err
		}
		b.WriteString("}\n")
	default:
		return fmt.Errorf("listing: export does not support action %T", a)
	}
	return nil
}

// ImportSTR parses a ".STR" document produced by ExportSTR into a
// ServerType, validating the column invariants spec.md §3 and §6
// require (unique IDs, visible name column at index 0, optional
// visible ext at index 1, compilable rules/conditions). Column names
// and descriptions are not checked.
func ImportSTR(doc string) (*ServerType, error) {
	name, autodetectExpr, columnSpecs, rulesBody, err := splitSTRSections(doc)
	if err != nil {
		return nil, err
	}
	detector, err := ImportDetector(autodetectExpr)
	if err != nil {
		return nil, err
	}
	columns := make([]Column, 0, len(columnSpecs))
	for _, spec := range columnSpecs {
		col, err := ImportColumn(spec)
		if err != nil {
			return nil, err
		}
		columns = append(columns, col)
	}
	rules, err := CompileRules(rulesBody)
	if err != nil {
		return nil, fmt.Errorf("listing: compiling rules: %w", err)
	}
	st := &ServerType{Name: name, Autodetect: detector, Columns: columns, Rules: rules}
	if err := st.Validate(); err != nil {
		return nil, err
	}
	return st, nil
}

func splitSTRSections(doc string) (name, autodetect string, columns []string, rulesBody string, err error) {
	lines := strings.Split(doc, "\n")
	i := 0
	for i < len(lines) {
		line := strings.TrimSpace(lines[i])
		switch {
		case strings.HasPrefix(line, "Type Name:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "Type Name:"))
		case strings.HasPrefix(line, "Autodetect Condition:"):
			autodetect = mustUnquoteGo(strings.TrimSpace(strings.TrimPrefix(line, "Autodetect Condition:")))
		case line == "Columns:":
			i++
			for i < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[i]), `"`) {
				columns = append(columns, mustUnquoteGo(strings.TrimSpace(lines[i])))
				i++
			}
			continue
		case strings.HasPrefix(line, "Rules for Parsing:"):
			rest := strings.TrimSpace(strings.TrimPrefix(line, "Rules for Parsing:"))
			rulesBody = mustUnquoteGo(rest)
		}
		i++
	}
	if name == "" {
		err = fmt.Errorf("listing: .STR document missing Type Name")
	}
	return
}
