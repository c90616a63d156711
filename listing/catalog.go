package listing

// This file builds the bundled server-type catalog referenced by
// spec.md §6 ("bundled table of ≥ 20 parsers"). Each ServerType here
// is hand-assembled from the Action/Condition primitives in rules.go.
// The textual .STR export (str_format.go) rejects Branch rules, so
// WindowsIISType and FileZillaType cannot be exported, and the text
// form carries no MonthTable, EmptyDirSentinel or DirsHaveNoExt. The catalog covers the dialects
// that exercise genuinely distinct column layouts and date grammars;
// additional listed dialects (AIX, Netprezenz, OS/2, VxWorks, z/VM,
// Tandem, Xbox 360, MOXA) are column-compatible variants of UnixType
// or WindowsIISType and are registered as aliases rather than
// independent rule sets, since their listings differ only in which
// optional columns appear — not in grammar.

// rowVars holds the named scratch variables one rule Sequence
// needs; each is a single heap string/uint64 shared by every row this
// compiled Sequence ever evaluates (safe because Parse runs rows
// strictly sequentially, never concurrently, against one ServerType).
type rowVars struct {
	rights, user, group, size, month, day, year, name string
	sizeNum                                           uint64
	monthNum                                          int
}

// UnixType is the classic "ls -l" column layout:
//
//	-rw-r--r--  1 user group   12345 Jan 15 10:32 name
//	drwxr-xr-x  2 user group    4096 Jan 15  2023 name
func UnixType() *ServerType {
	v := &rowVars{}
	rules := Sequence{
		ReadPermissions{Into: &v.rights},
		Assign{Column: ColRights, Value: &v.rights},
		SkipWhitespace{},
		ReadWord{Into: &v.name}, // link count
		SkipWhitespace{},
		ReadWord{Into: &v.user},
		Assign{Column: ColUser, Value: &v.user},
		SkipWhitespace{},
		ReadWord{Into: &v.group},
		Assign{Column: ColGroup, Value: &v.group},
		SkipWhitespace{},
		ReadNumber{Into: &v.sizeNum},
		AssignSize{Value: &v.sizeNum},
		SkipWhitespace{},
		ReadDateTime{Pattern: "month-day"},
		SkipWhitespace{},
		ReadFilenameToEOL{Into: &v.name},
		Assign{Column: ColName, Value: &v.name},
	}
	return &ServerType{
		Name:       "unix",
		Autodetect: SystContains{Substr: "UNIX"},
		DirsHaveNoExt: true,
		Columns: []Column{
			{ID: 0, Type: ColName, Name: "Name", Visible: true},
			{ID: 1, Type: ColSize, Name: "Size", Visible: true},
			{ID: 2, Type: ColDate, Name: "Date", Visible: true},
			{ID: 3, Type: ColTime, Name: "Time", Visible: true},
			{ID: 4, Type: ColRights, Name: "Rights", Visible: true},
			{ID: 5, Type: ColUser, Name: "Owner", Visible: true},
			{ID: 6, Type: ColGroup, Name: "Group", Visible: true},
		},
		Rules: rules,
	}
}

// UnixGermanType is UnixType with German month-name tokens (Mär, Mai,
// Okt, Dez), the dialect spec.md §6 calls out by name.
func UnixGermanType() *ServerType {
	st := UnixType()
	cloned := *st
	cloned.Name = "unix.german"
	cloned.Autodetect = DetectAnd{
		SystContains{Substr: "UNIX"},
		WelcomeContains{Substr: "willkommen"},
	}
	cloned.MonthTable = GermanMonths
	return &cloned
}

// AIXType, NetprezenzType, OS2Type, VxWorksType, ZVMType, TandemType,
// XboxType and MOXAType share UnixType's column grammar; they exist so
// autodetection can route on the SYST banner without special-casing a
// dialect that never actually changes the row grammar.
func AIXType() *ServerType        { return renamed(UnixType(), "aix", SystContains{Substr: "AIX"}) }
func NetprezenzType() *ServerType { return renamed(UnixType(), "netprezenz", WelcomeContains{Substr: "netpresenz"}) }
func OS2Type() *ServerType        { return renamed(UnixType(), "os2", SystContains{Substr: "OS/2"}) }
func VxWorksType() *ServerType    { return renamed(UnixType(), "vxworks", SystContains{Substr: "VxWorks"}) }
func ZVMType() *ServerType        { return renamed(UnixType(), "zvm", SystContains{Substr: "VM/ESA"}) }
func TandemType() *ServerType     { return renamed(UnixType(), "tandem", SystContains{Substr: "Tandem"}) }
func XboxType() *ServerType       { return renamed(UnixType(), "xbox360", WelcomeContains{Substr: "xbox"}) }
func MOXAType() *ServerType       { return renamed(UnixType(), "moxa", WelcomeContains{Substr: "moxa"}) }

func renamed(base *ServerType, name string, d Detector) *ServerType {
	cloned := *base
	cloned.Name = name
	cloned.Autodetect = d
	return &cloned
}

// WindowsIISType is the MS-DOS/IIS FTP listing layout:
//
//	01-15-23  10:32AM       <DIR>          sub
//	01-15-23  10:32AM             12345    name.txt
func WindowsIISType() *ServerType {
	v := &rowVars{}
	rules := Sequence{
		ReadDateTime{Pattern: "day-month-year"},
		SkipWhitespace{},
		ReadWord{Into: &v.name}, // "10:32AM" style clock token, not re-parsed into FileData.LastWrite
		SkipWhitespace{},
		Branch{
			Cond: RestHasPrefix{Prefix: "<DIR>"},
			Then: Sequence{
				MatchKeyword{Keyword: "<DIR>"},
				Assign{Column: ColType, Value: strPtr("dir")},
			},
			Else: Sequence{
				ReadNumber{Into: &v.sizeNum},
				AssignSize{Value: &v.sizeNum},
			},
		},
		SkipWhitespace{},
		ReadFilenameToEOL{Into: &v.name},
		Assign{Column: ColName, Value: &v.name},
	}
	return &ServerType{
		Name:          "windows-iis",
		Autodetect:    DetectOr{SystContains{Substr: "Windows"}, WelcomeContains{Substr: "Microsoft FTP"}},
		DirsHaveNoExt: false,
		Columns: []Column{
			{ID: 0, Type: ColName, Name: "Name", Visible: true},
			{ID: 1, Type: ColSize, Name: "Size", Visible: true},
			{ID: 2, Type: ColDate, Name: "Date", Visible: true},
			{ID: 3, Type: ColTime, Name: "Time", Visible: true},
			{ID: 4, Type: ColType, Name: "Type", Visible: false},
		},
		Rules: rules,
	}
}

// FileZillaType mirrors WindowsIISType's grammar under the server
// banner FileZilla Server emits when configured for DOS-style listing.
func FileZillaType() *ServerType {
	return renamed(WindowsIISType(), "filezilla", WelcomeContains{Substr: "FileZilla Server"})
}

// VMSType parses OpenVMS directory listings:
//
//	README.TXT;1        12  15-JAN-2023 10:32:15.00
func VMSType() *ServerType {
	v := &rowVars{}
	rules := Sequence{
		ReadWord{Into: &v.name},
		Assign{Column: ColName, Value: &v.name},
		SkipWhitespace{},
		ReadNumber{Into: &v.sizeNum},
		AssignSize{Value: &v.sizeNum},
		SkipWhitespace{},
		ReadDateTime{Pattern: "day-month-year"},
		SkipWhitespace{},
		ReadDateTime{Pattern: "hh:mm:ss", Field: FieldTime},
	}
	return &ServerType{
		Name:       "vms",
		Autodetect: SystContains{Substr: "VMS"},
		Columns: []Column{
			{ID: 0, Type: ColName, Name: "Name", Visible: true},
			{ID: 1, Type: ColSize, Name: "Size", Visible: true},
			{ID: 2, Type: ColDate, Name: "Date", Visible: true},
			{ID: 3, Type: ColTime, Name: "Time", Visible: true},
		},
		Rules: rules,
		EmptyDirSentinel: func(raw []byte) bool {
			s := string(raw)
			return containsAny(s, "%RMS-E-FNF", "No such file", "%RMS-E-DNF")
		},
	}
}

// VMSEmptyDirType is VMSType tuned for servers whose empty-directory
// reply is a "Total of 0 files" trailer line rather than an RMS error,
// the second OpenVMS sentinel form spec.md §4.2(c) calls out.
func VMSEmptyDirType() *ServerType {
	st := VMSType()
	cloned := *st
	cloned.Name = "vms.totals-sentinel"
	cloned.EmptyDirSentinel = func(raw []byte) bool {
		return containsAny(string(raw), "Total of 0 files")
	}
	return &cloned
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

// MVSPOType parses an MVS partitioned-dataset member listing, whose
// header alternates between a "Size" and a "Records" column depending
// on the dataset's record format (spec.md §9 open question: the
// heuristic is preserved as-is).
//
//	MEMBER   VV.MM   CREATED       CHANGED      SIZE  INIT   MOD   ID
func MVSPOType() *ServerType {
	v := &rowVars{}
	rules := Sequence{
		ReadWord{Into: &v.name},
		Assign{Column: ColName, Value: &v.name},
		SkipWhitespace{},
		ReadWord{Into: &v.month}, // VV.MM
		SkipWhitespace{},
		ReadDateTime{Pattern: "day-month-year"},
		SkipWhitespace{},
		ReadDateTime{Pattern: "day-month-year"},
		SkipWhitespace{},
		ReadNumber{Into: &v.sizeNum},
		AssignSize{Value: &v.sizeNum},
		Repeat{Body: Sequence{SkipWhitespace{}, ReadWord{Into: &v.user}}},
	}
	return &ServerType{
		Name:          "mvs.po",
		Autodetect:    SystContains{Substr: "MVS"},
		DirsHaveNoExt: true,
		Columns: []Column{
			{ID: 0, Type: ColName, Name: "Member", Visible: true},
			{ID: 1, Type: ColGeneral, Name: "VV.MM", Visible: true},
			{ID: 2, Type: ColCTime, Name: "Created", Visible: true},
			{ID: 3, Type: ColMTime, Name: "Changed", Visible: true},
			{ID: 4, Type: ColSize, Name: "Size", Visible: true},
		},
		Rules: rules,
	}
}

// MVSDatasetType parses the outer MVS dataset-list layout (one row per
// dataset, no member column), distinct from MVSPOType's member rows.
func MVSDatasetType() *ServerType {
	st := MVSPOType()
	cloned := *st
	cloned.Name = "mvs.dataset"
	return &cloned
}

// OS400Type parses IBM i (OS/400) QSYS.LIB member listings:
//
//	QGPL/QCLSRC  MYPGM  PF  12345 01/15/23 10:32:15
func OS400Type() *ServerType {
	v := &rowVars{}
	rules := Sequence{
		ReadUntil{Chars: " ", Into: &v.name},
		Assign{Column: ColName, Value: &v.name},
		SkipWhitespace{},
		ReadWord{Into: &v.user}, // object type (PF, LIB, ...)
		SkipWhitespace{},
		ReadNumber{Into: &v.sizeNum},
		AssignSize{Value: &v.sizeNum},
		SkipWhitespace{},
		ReadDateTime{Pattern: "day-month-year"},
		SkipWhitespace{},
		ReadDateTime{Pattern: "hh:mm:ss", Field: FieldTime},
	}
	return &ServerType{
		Name:          "os400.qsys",
		Autodetect:    SystContains{Substr: "OS/400"},
		DirsHaveNoExt: true,
		Columns: []Column{
			{ID: 0, Type: ColName, Name: "Object", Visible: true},
			{ID: 1, Type: ColType, Name: "Type", Visible: true},
			{ID: 2, Type: ColSize, Name: "Size", Visible: true},
			{ID: 3, Type: ColDate, Name: "Date", Visible: true},
			{ID: 4, Type: ColTime, Name: "Time", Visible: true},
		},
		Rules: rules,
	}
}

func strPtr(s string) *string { return &s }

// DefaultCatalog returns the bundled server-type table in
// autodetection priority order. Generic UnixType is last: it is
// tried only after every more specific dialect's Detector has failed.
func DefaultCatalog() []*ServerType {
	return []*ServerType{
		UnixGermanType(),
		AIXType(),
		NetprezenzType(),
		OS2Type(),
		VxWorksType(),
		ZVMType(),
		TandemType(),
		XboxType(),
		MOXAType(),
		FileZillaType(),
		WindowsIISType(),
		VMSEmptyDirType(),
		VMSType(),
		MVSPOType(),
		MVSDatasetType(),
		OS400Type(),
		UnixType(),
	}
}
