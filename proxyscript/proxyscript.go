// Package proxyscript evaluates the small FTP proxy login-script DSL
// (spec.md "FTP proxy scripts"): a template of commands to send to an
// FTP proxy before the real USER/PASS exchange, with host/credential
// variables substituted by name.
//
// Grounded on the teacher's templating idiom (strings.NewReplacer over
// a fixed token set) generalised to the DSL's line-guard and
// empty-variable-drops-line rules.
package proxyscript

import (
	"fmt"
	"strconv"
	"strings"
)

// Vars holds the substitution values for one connection attempt.
// Plaintext credentials live here only for the duration of Parse;
// callers should zero the struct once the script has been sent.
type Vars struct {
	Host            string
	Port            int
	User            string
	Password        string
	Account         string
	ProxyHost       string
	ProxyPort       int
	ProxyUser       string
	ProxyPassword   string
}

// Zero overwrites every credential field, called once a script's
// commands have all been sent over the wire.
func (v *Vars) Zero() {
	v.User = ""
	v.Password = ""
	v.Account = ""
	v.ProxyUser = ""
	v.ProxyPassword = ""
}

// Command is one evaluated line ready to send, or a line that was
// dropped because its only variable substituted to empty.
type Command struct {
	Text       string
	OnlyOn3xx  bool
	Dropped    bool
}

// ErrNoConnectLine is returned when a script's first non-blank line
// does not begin with "Connect to:".
var ErrNoConnectLine = fmt.Errorf("proxyscript: first line must be %q", "Connect to: <host>[:<port>]")

// ConnectTarget is the host/port parsed from a script's mandatory
// first line.
type ConnectTarget struct {
	Host string
	Port int // 0 if the script didn't specify one
}

// Parse validates and evaluates a full proxy login script, returning
// the parsed connect target and the ordered list of FTP commands to
// send (dropped lines are returned too, marked Dropped, so callers can
// log them; send only !Dropped commands).
func Parse(script string, vars Vars) (ConnectTarget, []Command, error) {
	lines := splitNonEmptyLines(script)
	if len(lines) == 0 {
		return ConnectTarget{}, nil, ErrNoConnectLine
	}

	first := substitute(lines[0], vars)
	const connectPrefix = "Connect to:"
	if !strings.HasPrefix(strings.TrimSpace(first), connectPrefix) {
		return ConnectTarget{}, nil, ErrNoConnectLine
	}
	target, err := parseConnectTarget(first, connectPrefix)
	if err != nil {
		return ConnectTarget{}, nil, err
	}

	var commands []Command
	for _, raw := range lines[1:] {
		guard3xx := false
		line := raw
		if rest, ok := cutPrefix(line, "3xx:"); ok {
			guard3xx = true
			line = rest
		}
		dropped := lineHasEmptyOptionalVar(line, vars)
		commands = append(commands, Command{
			Text:      substitute(line, vars),
			OnlyOn3xx: guard3xx,
			Dropped:   dropped,
		})
	}
	return target, commands, nil
}

func parseConnectTarget(line, prefix string) (ConnectTarget, error) {
	rest := strings.TrimSpace(line[len(prefix):])
	if rest == "" {
		return ConnectTarget{}, ErrNoConnectLine
	}
	host, portStr, hasPort := strings.Cut(rest, ":")
	host = strings.TrimSpace(host)
	if host == "" {
		return ConnectTarget{}, ErrNoConnectLine
	}
	t := ConnectTarget{Host: host}
	if hasPort {
		port, err := strconv.Atoi(strings.TrimSpace(portStr))
		if err != nil {
			return ConnectTarget{}, fmt.Errorf("proxyscript: bad port in %q: %w", line, err)
		}
		t.Port = port
	}
	return t, nil
}

func cutPrefix(s, prefix string) (string, bool) {
	if strings.HasPrefix(s, prefix) {
		return s[len(prefix):], true
	}
	return s, false
}

func splitNonEmptyLines(script string) []string {
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(script, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// tokenValue maps each DSL variable name to the Vars field supplying it,
// and whether the variable is "optional" (its absence, alone on a
// line, drops the line per the DSL's rule).
func tokenValue(name string, v Vars) (value string, optional bool, known bool) {
	switch name {
	case "Host":
		return v.Host, false, true
	case "Port":
		return portString(v.Port), false, true
	case "User":
		return v.User, true, true
	case "Password":
		return v.Password, true, true
	case "Account":
		return v.Account, true, true
	case "ProxyHost":
		return v.ProxyHost, true, true
	case "ProxyPort":
		return portString(v.ProxyPort), true, true
	case "ProxyUser":
		return v.ProxyUser, true, true
	case "ProxyPassword":
		return v.ProxyPassword, true, true
	default:
		return "", false, false
	}
}

func portString(p int) string {
	if p == 0 {
		return ""
	}
	return strconv.Itoa(p)
}

// substitute replaces every $(Name) token and the literal $$ escape.
func substitute(line string, v Vars) string {
	var b strings.Builder
	for i := 0; i < len(line); {
		if strings.HasPrefix(line[i:], "$$") {
			b.WriteByte('$')
			i += 2
			continue
		}
		if strings.HasPrefix(line[i:], "$(") {
			if end := strings.IndexByte(line[i+2:], ')'); end >= 0 {
				name := line[i+2 : i+2+end]
				if value, _, known := tokenValue(name, v); known {
					b.WriteString(value)
					i += 2 + end + 1
					continue
				}
			}
		}
		b.WriteByte(line[i])
		i++
	}
	return b.String()
}

// lineHasEmptyOptionalVar reports whether line's only variable
// reference is an optional one that is currently empty, in which case
// the whole line must be dropped (spec.md: "a line whose substitution
// produced an empty optional variable is dropped").
func lineHasEmptyOptionalVar(line string, v Vars) bool {
	names := referencedVars(line)
	if len(names) != 1 {
		return false
	}
	value, optional, known := tokenValue(names[0], v)
	return known && optional && value == ""
}

func referencedVars(line string) []string {
	var names []string
	for i := 0; i < len(line); {
		if strings.HasPrefix(line[i:], "$(") {
			if end := strings.IndexByte(line[i+2:], ')'); end >= 0 {
				names = append(names, line[i+2:i+2+end])
				i += 2 + end + 1
				continue
			}
		}
		i++
	}
	return names
}
