// Package pathutil implements server-path-type-aware path composition,
// comparison and name validation, mirroring the path dialects a real
// FTP server population exposes (UNIX, VMS, OS/400 QSYS.LIB, Windows,
// MVS).
package pathutil

import (
	"fmt"
	"strings"
)

// Syntax identifies a server path dialect.
type Syntax int

const (
	SyntaxUnix Syntax = iota
	SyntaxVMS
	SyntaxOS400
	SyntaxWindows
	SyntaxMVS
)

// maxPathLen bounds composed path length; servers and the queue item
// encoding both assume paths fit comfortably in this budget.
const maxPathLen = 4096

// Append composes parent and a single path component according to the
// syntax's separator and root rules. It is the only path-construction
// primitive workers use; component must already have passed
// MayBeValidName.
func Append(s Syntax, parent, component string) (string, error) {
	if component == "" {
		return "", fmt.Errorf("pathutil: empty component")
	}
	var out string
	switch s {
	case SyntaxVMS:
		out = appendVMS(parent, component)
	case SyntaxOS400:
		out = appendOS400(parent, component)
	case SyntaxWindows:
		out = appendWindows(parent, component)
	case SyntaxMVS:
		out = appendMVS(parent, component)
	default:
		out = appendUnix(parent, component)
	}
	if len(out) > maxPathLen {
		return "", fmt.Errorf("pathutil: composed path exceeds budget (%d bytes)", maxPathLen)
	}
	return out, nil
}

func appendUnix(parent, component string) string {
	if parent == "" {
		return "/" + component
	}
	if strings.HasSuffix(parent, "/") {
		return parent + component
	}
	return parent + "/" + component
}

func appendWindows(parent, component string) string {
	if parent == "" {
		return "\\" + component
	}
	if strings.HasSuffix(parent, "\\") {
		return parent + component
	}
	return parent + "\\" + component
}

// appendVMS composes VMS directory syntax: DISK$USER:[DIR.SUB]. Every
// component is folded into the bracketed segment list; since Append
// cannot tell files from directories, no name is ever placed after the
// closing bracket.
func appendVMS(parent, component string) string {
	if !strings.Contains(parent, "[") {
		// parent has no directory part yet; start one.
		return parent + "[" + component + "]"
	}
	idx := strings.LastIndex(parent, "]")
	if idx < 0 {
		return parent + "." + component
	}
	return parent[:idx] + "." + component + parent[idx:]
}

// appendOS400 composes QSYS.LIB style paths: /QSYS.LIB/LIB.LIB/FILE.MBR.
// A library gets the ".LIB" suffix, a member-bearing file the ".FILE"
// or ".MBR" suffix depending on depth; this mirrors the two-level
// library/file hierarchy without attempting full member-type inference.
func appendOS400(parent, component string) string {
	depth := strings.Count(parent, "/")
	suffix := ""
	switch depth {
	case 0:
		suffix = ".LIB"
	case 1:
		suffix = ".FILE"
	default:
		suffix = ".MBR"
	}
	if !strings.HasSuffix(strings.ToUpper(component), suffix) {
		component += suffix
	}
	if strings.HasSuffix(parent, "/") {
		return parent + component
	}
	return parent + "/" + component
}

// appendMVS composes dotted dataset-qualifier paths: HLQ.QUAL.MEMBER.
func appendMVS(parent, component string) string {
	if parent == "" {
		return component
	}
	return parent + "." + component
}

// IsSame compares two paths under the dialect's case-folding rule.
// VMS, OS/400 and Windows/MVS listings are conventionally case-folded;
// UNIX paths compare byte-for-byte.
func IsSame(s Syntax, a, b string) bool {
	if s == SyntaxUnix {
		return a == b
	}
	return strings.EqualFold(a, b)
}

// IsPrefixOf reports whether prefix is a path-component prefix of p
// (not merely a string prefix: "/ab" is not a prefix of "/abc").
func IsPrefixOf(s Syntax, prefix, p string) bool {
	if !hasCaseInsensitiveOrExactPrefix(s, p, prefix) {
		return false
	}
	if len(prefix) == len(p) {
		return true
	}
	sep := separatorFor(s)
	if sep == 0 {
		return IsSame(s, prefix, p)
	}
	return p[len(prefix)] == sep || strings.HasSuffix(prefix, string(sep))
}

func hasCaseInsensitiveOrExactPrefix(s Syntax, p, prefix string) bool {
	if len(prefix) > len(p) {
		return false
	}
	if s == SyntaxUnix {
		return strings.HasPrefix(p, prefix)
	}
	return strings.HasPrefix(strings.ToUpper(p), strings.ToUpper(prefix))
}

func separatorFor(s Syntax) byte {
	switch s {
	case SyntaxWindows:
		return '\\'
	case SyntaxUnix:
		return '/'
	case SyntaxOS400:
		return '/'
	default:
		return 0 // VMS/MVS have no single positional separator byte
	}
}

// CutLastComponent splits path into (parent, leaf) at the dialect's
// final separator.
func CutLastComponent(s Syntax, path string) (parent, leaf string) {
	switch s {
	case SyntaxWindows:
		if i := strings.LastIndexByte(path, '\\'); i >= 0 {
			return path[:i], path[i+1:]
		}
		return "", path
	case SyntaxMVS:
		if i := strings.LastIndexByte(path, '.'); i >= 0 {
			return path[:i], path[i+1:]
		}
		return "", path
	case SyntaxVMS:
		return cutLastVMS(path)
	case SyntaxOS400:
		if i := strings.LastIndexByte(path, '/'); i >= 0 {
			return path[:i], path[i+1:]
		}
		return "", path
	default:
		if i := strings.LastIndexByte(path, '/'); i >= 0 {
			if i == 0 {
				return "/", path[1:]
			}
			return path[:i], path[i+1:]
		}
		return "", path
	}
}

func cutLastVMS(path string) (parent, leaf string) {
	open := strings.Index(path, "[")
	closeB := strings.LastIndex(path, "]")
	if open < 0 || closeB < 0 || closeB < open {
		return "", path
	}
	if closeB != len(path)-1 {
		// has a trailing filename after "]"
		return path[:closeB+1], path[closeB+1:]
	}
	inner := path[open+1 : closeB]
	if i := strings.LastIndexByte(inner, '.'); i >= 0 {
		return path[:open+1] + inner[:i] + "]", inner[i+1:]
	}
	return path[:open], inner
}

// invalidUnixChars covers NUL and the path separator; other bytes
// (including high-bit bytes from non-UTF-8 listings) are left to the
// listing package's charmap decoding.
const invalidUnixChars = "\x00/"

// MayBeValidName is the only gate applied before sending CWD/STOR for
// a component the user typed or the target-mask produced. isDir is
// currently unused by any dialect's rule but kept to match the
// contract (some dialects forbid directories from carrying an
// extension-looking suffix).
func MayBeValidName(s Syntax, name string, isDir bool) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if len(name) > maxPathLen {
		return false
	}
	switch s {
	case SyntaxWindows:
		return !strings.ContainsAny(name, "\x00\\/:*?\"<>|")
	case SyntaxVMS:
		return !strings.ContainsAny(name, "\x00[]")
	case SyntaxMVS:
		return !strings.ContainsAny(name, "\x00/ ") && len(name) <= 8
	case SyntaxOS400:
		return !strings.ContainsAny(name, "\x00/")
	default:
		return !strings.ContainsAny(name, invalidUnixChars)
	}
}

// SplitNameExtension splits name at its rightmost dot. When dirsHaveNoExt
// is true and isDir is true, the whole name is treated as the base with
// no extension (VMS/MVS directory segments never carry a ".ext" split).
func SplitNameExtension(name string, isDir, dirsHaveNoExt bool) (base, ext string) {
	if isDir && dirsHaveNoExt {
		return name, ""
	}
	i := strings.LastIndexByte(name, '.')
	if i <= 0 || i == len(name)-1 {
		return name, ""
	}
	return name[:i], name[i+1:]
}

// StripAS400MemberSuffix removes a trailing ".MBR"/".FILE"/".LIB"
// qualifier OS/400 QSYS.LIB listings attach to every object name.
func StripAS400MemberSuffix(name string) string {
	upper := strings.ToUpper(name)
	for _, suffix := range []string{".MBR", ".FILE", ".LIB"} {
		if strings.HasSuffix(upper, suffix) {
			return name[:len(name)-len(suffix)]
		}
	}
	return name
}
