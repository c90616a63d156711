// control.go implements the FTP control connection: dial, banner, and
// command/reply exchange (spec.md "FTP wire protocol"). Built directly
// on net/textproto rather than github.com/jlaffaye/ftp because the
// connecting state needs to splice a proxy login script and MODE Z
// negotiation between the banner and USER/PASS — textproto.Reader's
// ReadResponse is the same RFC 959 multi-line-reply primitive
// jlaffaye/ftp itself wraps; this package talks to it one layer lower
// so the worker can drive the exact command sequence spec.md §4.8.3
// describes.
package worker

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// reply is one parsed FTP control response.
type reply struct {
	Code int
	Text string
}

// significance returns the reply's first digit, per spec.md's D1
// classification (1xx informational .. 5xx permanent error).
func (r reply) significance() int {
	if r.Code < 100 {
		return 0
	}
	return r.Code / 100
}

func (r reply) isSuccess() bool { return r.significance() == 2 }

// controlConn wraps one FTP control socket.
type controlConn struct {
	conn net.Conn
	text *textproto.Conn
}

// dialControl opens a TCP (or, for implicit TLS, TLS) connection to
// addr and reads the server's welcome banner.
func dialControl(ctx timeoutCtx, network, addr string, tlsConfig *tls.Config) (*controlConn, reply, error) {
	d := net.Dialer{Timeout: ctx.remaining()}
	rawConn, err := d.Dial(network, addr)
	if err != nil {
		return nil, reply{}, err
	}

	var conn net.Conn = rawConn
	if tlsConfig != nil {
		tlsConn := tls.Client(rawConn, tlsConfig)
		if err := tlsConn.Handshake(); err != nil {
			_ = rawConn.Close()
			return nil, reply{}, err
		}
		conn = tlsConn
	}

	cc := &controlConn{conn: conn, text: textproto.NewConn(conn)}
	banner, err := cc.readReply()
	if err != nil {
		_ = conn.Close()
		return nil, reply{}, err
	}
	return cc, banner, nil
}

// upgradeTLS wraps the control connection's existing socket in TLS,
// for explicit FTPS (AUTH TLS).
func (c *controlConn) upgradeTLS(cfg *tls.Config) error {
	tlsConn := tls.Client(c.conn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return err
	}
	c.conn = tlsConn
	c.text = textproto.NewConn(tlsConn)
	return nil
}

// readReply reads one multi-line FTP response. ReadResponse(0) sets no
// expected class, so every reply comes back as a plain (code, msg) and
// the worker (not textproto) interprets 1xx/2xx/3xx/4xx/5xx
// significance; a *textproto.Error, if one is returned, is unpacked
// into the same reply form.
func (c *controlConn) readReply() (reply, error) {
	code, msg, err := c.text.ReadResponse(0)
	if err != nil {
		var pe *textproto.Error
		if ok := asTextprotoError(err, &pe); ok {
			return reply{Code: pe.Code, Text: pe.Msg}, nil
		}
		return reply{}, err
	}
	return reply{Code: code, Text: msg}, nil
}

func asTextprotoError(err error, target **textproto.Error) bool {
	pe, ok := err.(*textproto.Error)
	if ok {
		*target = pe
	}
	return ok
}

// send writes one command line and reads its reply.
func (c *controlConn) send(format string, args ...any) (reply, error) {
	id, err := c.text.Cmd(format, args...)
	if err != nil {
		return reply{}, err
	}
	c.text.StartResponse(id)
	defer c.text.EndResponse(id)
	return c.readReply()
}

// sendDiscardingText runs a command and returns only its reply code,
// matching spec.md's "init commands run with reply text discarded".
func (c *controlConn) sendDiscardingText(format string, args ...any) (int, error) {
	r, err := c.send(format, args...)
	if err != nil {
		return 0, err
	}
	return r.Code, nil
}

func (c *controlConn) quit() {
	_, _ = c.send("QUIT")
}

func (c *controlConn) close() error {
	return c.conn.Close()
}

// parsePASVReply extracts the (ip, port) tuple from a 227 PASV reply
// of the conventional "(h1,h2,h3,h4,p1,p2)" form.
func parsePASVReply(text string) (string, int, error) {
	open := strings.IndexByte(text, '(')
	closeIdx := strings.IndexByte(text, ')')
	if open < 0 || closeIdx < 0 || closeIdx < open {
		return "", 0, fmt.Errorf("worker: malformed PASV reply %q", text)
	}
	parts := strings.Split(text[open+1:closeIdx], ",")
	if len(parts) != 6 {
		return "", 0, fmt.Errorf("worker: malformed PASV reply %q", text)
	}
	ip := strings.Join(parts[0:4], ".")
	p1, err1 := strconv.Atoi(parts[4])
	p2, err2 := strconv.Atoi(parts[5])
	if err1 != nil || err2 != nil {
		return "", 0, fmt.Errorf("worker: malformed PASV port in %q", text)
	}
	return ip, p1*256 + p2, nil
}

// parseEPSVReply extracts the port from a 229 EPSV reply of the
// "(|||port|)" form (RFC 2428); EPSV never repeats the IP, since it's
// always the same one the control connection is already talking to.
func parseEPSVReply(text string) (int, error) {
	open := strings.IndexByte(text, '(')
	closeIdx := strings.IndexByte(text, ')')
	if open < 0 || closeIdx < 0 || closeIdx < open {
		return 0, fmt.Errorf("worker: malformed EPSV reply %q", text)
	}
	body := text[open+1 : closeIdx]
	fields := strings.Split(body, string(body[0]))
	for _, f := range fields {
		if f == "" {
			continue
		}
		port, err := strconv.Atoi(f)
		if err != nil {
			return 0, fmt.Errorf("worker: malformed EPSV port in %q", text)
		}
		return port, nil
	}
	return 0, fmt.Errorf("worker: malformed EPSV reply %q", text)
}

// remoteIP returns the control connection's peer address, the address
// an EPSV data connection always shares.
func (c *controlConn) remoteIP() string {
	addr, ok := c.conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return ""
	}
	return addr.IP.String()
}

// parsePWDReply extracts the quoted current-directory path from a 257
// PWD reply ("257 \"/a/b\" is current directory"), unescaping doubled
// quotes per RFC 959's embedded-quote convention.
func parsePWDReply(text string) (string, error) {
	first := strings.IndexByte(text, '"')
	last := strings.LastIndexByte(text, '"')
	if first < 0 || last <= first {
		return "", fmt.Errorf("worker: malformed PWD reply %q", text)
	}
	return strings.ReplaceAll(text[first+1:last], `""`, `"`), nil
}

// timeoutCtx is a tiny deadline helper so dialControl doesn't need a
// full context.Context import cycle with the caller's own timeouts.
type timeoutCtx struct {
	deadline time.Time
}

func withTimeout(d time.Duration) timeoutCtx {
	return timeoutCtx{deadline: time.Now().Add(d)}
}

func (t timeoutCtx) remaining() time.Duration {
	d := time.Until(t.deadline)
	if d < 0 {
		return 0
	}
	return d
}
