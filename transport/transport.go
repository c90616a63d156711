// Package transport implements the data-connection transport (spec.md
// §4.7): the passive/active data socket a worker opens for one LIST,
// RETR, or STOR, with optional TLS data-protection and MODE Z
// compression, and the no-data-timeout / connection-dropped /
// decompression-error failure classification the worker's retry policy
// keys off of.
//
// Grounded on rclone's backend/ftp/ftp.go dial/TLS-upgrade pattern
// (generalised from the control connection, which jlaffaye/ftp owns
// there, to this package's own data connection) plus
// github.com/klauspost/compress/zlib for MODE Z, matching the
// dependency SPEC_FULL.md commits the engine to.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/klauspost/compress/zlib"

	"github.com/taskscape/ftp-engine/ftperrors"
	"github.com/taskscape/ftp-engine/internal/speedmeter"
)

// Direction is which way bytes flow over the data connection.
type Direction int

const (
	DirectionDownload Direction = iota
	DirectionUpload
)

// State is the transport's lifecycle, per spec.md §4.7.
type State int

const (
	StateAllocated State = iota
	StateConnecting
	StateListening
	StateTransferring
	StateFinished
	StateFailed
)

// Transport is one data connection, used for exactly one LIST/RETR/
// STOR and then discarded (spec.md §4.7 invariant: "exactly one
// outstanding data-connection per worker").
type Transport struct {
	mu    sync.Mutex
	state State
	dir   Direction

	conn     net.Conn
	listener net.Listener
	localIP  string
	localPort int

	compressed bool
	zr         io.ReadCloser
	zw         *zlib.Writer

	meter *speedmeter.Meter

	noDataTimeout time.Duration
	lastByteAt    time.Time

	totalSize     int64
	dataTotalSize int64
	transferred   int64

	err error
}

// New creates an allocated transport for the given transfer direction.
func New(dir Direction, noDataTimeout time.Duration) *Transport {
	return &Transport{state: StateAllocated, dir: dir, noDataTimeout: noDataTimeout}
}

// OpenPassive dials the server's PASV/EPSV-advertised address. Call
// after sending PASV and parsing its 227 (or EPSV's 229) reply.
func (t *Transport) OpenPassive(ctx context.Context, peerAddr string) error {
	t.mu.Lock()
	t.state = StateConnecting
	t.mu.Unlock()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", peerAddr)
	if err != nil {
		t.fail(ftperrors.Wrap(ftperrors.KindConnectionDropped, err))
		return t.err
	}

	t.mu.Lock()
	t.conn = conn
	t.state = StateTransferring
	t.lastByteAt = time.Now()
	t.mu.Unlock()
	return nil
}

// OpenActiveListen opens a local listening socket for the server to
// dial into (PORT/EPRT), returning the address to advertise. A
// configured proxy address (proxyListenAddr, empty if none) is used
// instead of an ephemeral port when the control connection is itself
// proxied, per spec.md "the active variant optionally listens on a
// configured proxy".
func (t *Transport) OpenActiveListen(proxyListenAddr string) (ip string, port int, err error) {
	addr := proxyListenAddr
	if addr == "" {
		addr = "0.0.0.0:0"
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		t.fail(ftperrors.Wrap(ftperrors.KindListenFailure, err))
		return "", 0, t.err
	}

	t.mu.Lock()
	t.listener = l
	t.state = StateListening
	tcpAddr := l.Addr().(*net.TCPAddr)
	t.localIP = tcpAddr.IP.String()
	t.localPort = tcpAddr.Port
	ip, port = t.localIP, t.localPort
	t.mu.Unlock()
	return ip, port, nil
}

// Activate accepts the server's incoming connection on an active-mode
// listener. Call right after the control socket has sent the
// LIST/RETR/STOR command.
func (t *Transport) Activate(ctx context.Context) error {
	t.mu.Lock()
	l := t.listener
	already := t.conn != nil
	t.mu.Unlock()
	if already {
		return nil // passive mode: already connected, nothing to accept
	}
	if l == nil {
		return fmt.Errorf("transport: Activate called with no listener and no connection")
	}

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.Accept()
		ch <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		_ = l.Close()
		t.fail(ftperrors.New(ftperrors.KindListenFailure, "data-con-listen-timeout"))
		return t.err
	case res := <-ch:
		if res.err != nil {
			t.fail(ftperrors.Wrap(ftperrors.KindConnectionDropped, res.err))
			return t.err
		}
		t.mu.Lock()
		t.conn = res.conn
		t.state = StateTransferring
		t.lastByteAt = time.Now()
		t.mu.Unlock()
		return nil
	}
}

// EncryptPassive wraps the already-open data connection in TLS,
// invoked on receipt of the server's 1xx reply to PROT P when
// FTPS data-protection is active.
func (t *Transport) EncryptPassive(cfg *tls.Config) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return fmt.Errorf("transport: EncryptPassive called before the data connection was open")
	}
	tlsConn := tls.Client(t.conn, cfg)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		t.err = ftperrors.Wrap(ftperrors.KindTLSError, err)
		t.state = StateFailed
		return t.err
	}
	t.conn = tlsConn
	return nil
}

// IsConnected reports whether the underlying socket is open.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil && t.state != StateFailed && t.state != StateFinished
}

// IsTransferring reports whether the transport is actively moving
// bytes, and sets *trFinished if the transfer has completed
// successfully (as opposed to still running or having failed).
func (t *Transport) IsTransferring(trFinished *bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if trFinished != nil {
		*trFinished = t.state == StateFinished
	}
	return t.state == StateTransferring
}

// GetListenIPAndPort returns the address OpenActiveListen bound to.
func (t *Transport) GetListenIPAndPort() (string, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.localIP, t.localPort
}

// SetTotalSize records the size predicted from the directory listing.
// The value is stored only; it is not compared with the bytes received.
func (t *Transport) SetTotalSize(n int64) {
	t.mu.Lock()
	t.totalSize = n
	t.mu.Unlock()
}

// SetDataTotalSize records the size the server reported for this
// specific transfer (e.g. via SIZE), which may differ from the
// listing's cached size if the remote file changed underneath us.
func (t *Transport) SetDataTotalSize(n int64) {
	t.mu.Lock()
	t.dataTotalSize = n
	t.mu.Unlock()
}

// SetGlobalSpeedMeter attaches the operation-wide speed meter every
// byte moved through this transport is accounted against.
func (t *Transport) SetGlobalSpeedMeter(m *speedmeter.Meter) {
	t.mu.Lock()
	t.meter = m
	t.mu.Unlock()
}

// SetCompressed enables MODE Z inflate-on-read/deflate-on-write for
// the remainder of this transport's life.
func (t *Transport) SetCompressed(compressed bool) {
	t.mu.Lock()
	t.compressed = compressed
	t.mu.Unlock()
}

// GetError returns the failure recorded against this transport, if
// any.
func (t *Transport) GetError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Transport) fail(err *ftperrors.Error) {
	t.mu.Lock()
	t.err = err
	t.state = StateFailed
	t.mu.Unlock()
}

// reader returns the raw connection wrapped in a zlib inflater when
// MODE Z is active, and in the no-data-timeout/speed-meter accounting
// wrapper unconditionally.
func (t *Transport) reader(ctx context.Context) (io.Reader, error) {
	t.mu.Lock()
	conn := t.conn
	compressed := t.compressed
	meter := t.meter
	zr := t.zr
	t.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("transport: no data connection")
	}

	var r io.Reader = &timeoutTrackingReader{t: t, r: conn}
	if compressed {
		if zr == nil {
			nzr, err := zlib.NewReader(r)
			if err != nil {
				t.fail(ftperrors.Wrap(ftperrors.KindDecompressionError, err))
				return nil, t.err
			}
			t.mu.Lock()
			t.zr = nzr
			t.mu.Unlock()
			zr = nzr
		}
		r = zr
	}
	if meter != nil {
		r = meter.NewReader(ctx, r)
	}
	return r, nil
}

// Read pulls the next chunk of a streaming file download, applying
// MODE Z inflation and speed metering, and classifying a broken
// connection or a corrupt compressed stream per spec.md §4.7.
func (t *Transport) Read(ctx context.Context, p []byte) (int, error) {
	r, err := t.reader(ctx)
	if err != nil {
		return 0, err
	}
	n, err := r.Read(p)
	if n > 0 {
		t.mu.Lock()
		t.transferred += int64(n)
		t.mu.Unlock()
	}
	if err != nil && err != io.EOF {
		t.fail(t.classify(err))
		return n, t.err
	}
	if err == io.EOF {
		t.mu.Lock()
		t.state = StateFinished
		t.mu.Unlock()
	}
	return n, err
}

// TakeData reads the entire data connection to completion, the mode
// LIST responses (and small files) are consumed in.
func (t *Transport) TakeData(ctx context.Context) ([]byte, error) {
	r, err := t.reader(ctx)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		t.fail(t.classify(err))
		return data, t.err
	}
	t.mu.Lock()
	t.state = StateFinished
	t.transferred += int64(len(data))
	t.mu.Unlock()
	return data, nil
}

// Write pushes a chunk of a streaming file upload, applying MODE Z
// deflation and speed metering.
func (t *Transport) Write(ctx context.Context, p []byte) (int, error) {
	t.mu.Lock()
	conn := t.conn
	compressed := t.compressed
	meter := t.meter
	t.mu.Unlock()
	if conn == nil {
		return 0, fmt.Errorf("transport: no data connection")
	}

	var w io.Writer = conn
	if meter != nil {
		w = meter.NewWriter(ctx, w)
	}
	if compressed {
		t.mu.Lock()
		if t.zw == nil {
			t.zw = zlib.NewWriter(w)
		}
		zw := t.zw
		t.mu.Unlock()
		w = zw
	}

	n, err := w.Write(p)
	if n > 0 {
		t.mu.Lock()
		t.transferred += int64(n)
		t.lastByteAt = time.Now()
		t.mu.Unlock()
	}
	if err != nil {
		t.fail(t.classify(err))
	}
	return n, err
}

// Close flushes any pending compressor output and closes every socket
// the transport opened. Safe to call more than once.
func (t *Transport) Close() error {
	t.mu.Lock()
	zw := t.zw
	zr := t.zr
	conn := t.conn
	l := t.listener
	if t.state != StateFailed {
		t.state = StateFinished
	}
	t.mu.Unlock()

	var firstErr error
	if zw != nil {
		if err := zw.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if zr != nil {
		if err := zr.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if l != nil {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// classify maps a raw I/O error to one of the three failure classes
// spec.md §4.7 distinguishes.
func (t *Transport) classify(err error) *ftperrors.Error {
	if errors.Is(err, zlib.ErrHeader) || errors.Is(err, zlib.ErrChecksum) || errors.Is(err, zlib.ErrDictionary) {
		return ftperrors.Wrap(ftperrors.KindDecompressionError, err)
	}
	t.mu.Lock()
	timedOut := t.noDataTimeout > 0 && time.Since(t.lastByteAt) >= t.noDataTimeout
	t.mu.Unlock()
	if timedOut {
		return ftperrors.Wrap(ftperrors.KindNoDataTimeout, err)
	}
	return ftperrors.Wrap(ftperrors.KindConnectionDropped, err)
}

// timeoutTrackingReader updates the owning Transport's lastByteAt
// stamp on every successful read, so classify can tell a genuinely
// idle data connection (no-data-timeout) apart from one the peer or
// network actively dropped (connection-dropped).
type timeoutTrackingReader struct {
	t *Transport
	r io.Reader
}

func (tr *timeoutTrackingReader) Read(p []byte) (int, error) {
	n, err := tr.r.Read(p)
	if n > 0 {
		tr.t.mu.Lock()
		tr.t.lastByteAt = time.Now()
		tr.t.mu.Unlock()
	}
	return n, err
}
