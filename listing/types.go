// Package listing compiles per-server-type rule sets into a small AST
// and evaluates them against raw LIST/NLST response bytes, producing a
// stream of (FileData, isDir) entries. It also autodetects the server
// type from the welcome banner, the SYST reply and a listing sample.
package listing

import (
	"fmt"
	"time"
)

// FieldMask enumerates which FileData fields a parser run actually
// populated, mirroring spec.md's "valid_data_mask".
type FieldMask uint32

const (
	MaskExtension FieldMask = 1 << iota
	MaskSize
	MaskDate
	MaskTime
	MaskType
	MaskDOSName
	MaskHidden
	MaskIsLink
	MaskIsOffline
	MaskPluginSize
	MaskPluginDate
	MaskPluginTime
	MaskIconOverlay
)

// FileData is one parsed listing row.
type FileData struct {
	Name      string
	ExtIndex  int // byte offset of the rightmost '.' in Name, or -1
	Size      uint64
	Attrs     uint32
	LastWrite time.Time
	DOSName   string
	ValidMask FieldMask
	Plugin    map[string]string // opaque per-parser extra columns

	IsDir    bool
	IsLink   bool
	LinkDest string
	Rights   string // raw rights column ("rwsr-xr-x"), empty if the server type carries none
}

// ColumnType identifies a reserved column semantic. "General" columns
// (anything not in this closed list) may repeat; reserved types may
// not. name/ext/type columns may not carry an empty-value.
type ColumnType int

const (
	ColGeneral ColumnType = iota
	ColName
	ColExt
	ColSize
	ColDate
	ColTime
	ColType
	ColRights
	ColUser
	ColGroup
	ColMTime
	ColCTime
	ColATime
)

// Alignment of a fixed-width column.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// Column describes one field a server type's listing carries.
type Column struct {
	ID          int
	Type        ColumnType
	Name        string
	Description string
	EmptyValue  string
	Alignment   Alignment
	FixedWidth  bool
	Width       int
	Visible     bool
}

// ServerType is a compiled, ready-to-evaluate parser definition.
type ServerType struct {
	Name             string
	Autodetect       Detector // nil => never auto-selected, must be explicit
	Columns          []Column
	Rules            Action
	DirsHaveNoExt    bool
	EmptyDirSentinel func(raw []byte) bool // OpenVMS-style "no files found" replies
	MonthTable       []string              // 12 locale month names, lowercase; nil => English
}

// Validate checks the structural invariants from spec.md §3.
func (st *ServerType) Validate() error {
	if len(st.Columns) == 0 {
		return errf("server type %q has no columns", st.Name)
	}
	if st.Columns[0].Type != ColName || !st.Columns[0].Visible {
		return errf("server type %q: column 0 must be a visible name column", st.Name)
	}
	if len(st.Columns) > 1 && st.Columns[1].Type == ColExt && !st.Columns[1].Visible {
		return errf("server type %q: column 1 (ext) must be visible if present", st.Name)
	}
	seenIDs := map[int]bool{}
	seenReserved := map[ColumnType]bool{}
	for _, c := range st.Columns {
		if seenIDs[c.ID] {
			return errf("server type %q: duplicate column id %d", st.Name, c.ID)
		}
		seenIDs[c.ID] = true
		if c.Type == ColName || c.Type == ColExt || c.Type == ColType {
			if c.EmptyValue != "" {
				return errf("server type %q: column %q of reserved type may not have an empty-value", st.Name, c.Name)
			}
		}
		if c.Type != ColGeneral {
			if seenReserved[c.Type] {
				return errf("server type %q: more than one column of reserved type %v", st.Name, c.Type)
			}
			seenReserved[c.Type] = true
		}
	}
	return nil
}

func errf(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
