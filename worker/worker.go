// Package worker implements the per-connection worker state machine
// (spec.md §4.8): one goroutine per FTP control connection, pulling
// items from the shared operation queue, driving the control and data
// connections to do the transfer/delete/chattr work, and reconnecting
// with backoff on a transient failure.
//
// Grounded on the teacher's per-transfer-goroutine worker pool
// (fs/sync and fs/operations' concurrent.Go-style dispatch), adapted
// from "N goroutines racing a work-stealing queue" to this package's
// single-outstanding-item-per-worker model, since spec.md's state
// machine is itself the scheduling policy.
package worker

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/taskscape/ftp-engine/diskwork"
	"github.com/taskscape/ftp-engine/exploredset"
	"github.com/taskscape/ftp-engine/ftpconfig"
	"github.com/taskscape/ftp-engine/ftperrors"
	"github.com/taskscape/ftp-engine/internal/pacer"
	"github.com/taskscape/ftp-engine/internal/speedmeter"
	"github.com/taskscape/ftp-engine/listing"
	"github.com/taskscape/ftp-engine/listingcache"
	"github.com/taskscape/ftp-engine/pathutil"
	"github.com/taskscape/ftp-engine/proxyscript"
	"github.com/taskscape/ftp-engine/queue"
	"github.com/taskscape/ftp-engine/transport"
)

// Event is a cross-cutting signal delivered to a worker's inbox,
// outside the normal "pull the next item" flow.
type Event int

const (
	EventShouldStop Event = iota
	EventWorkAvailable
)

// State is the worker's own top-level lifecycle state (spec.md
// §4.8's state enum, collapsed: the fine-grained per-socket-event
// sub-states spec.md lists for "connecting" and "working" are
// implemented here as blocking calls within these states' goroutine,
// rather than as further State values, since a worker never does
// anything else while one of those calls is outstanding.
type State int

const (
	StatePreparing State = iota
	StateConnecting
	StateLookingForWork
	StateWorking
	StateWaitingForReconnect
	StateConnectionError
	StateSleeping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StatePreparing:
		return "preparing"
	case StateConnecting:
		return "connecting"
	case StateLookingForWork:
		return "looking-for-work"
	case StateWorking:
		return "working"
	case StateWaitingForReconnect:
		return "waiting-for-reconnect"
	case StateConnectionError:
		return "connection-error"
	case StateSleeping:
		return "sleeping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	connectTimeout  = 30 * time.Second
	dataDialTimeout = 30 * time.Second
	idlePoll        = 500 * time.Millisecond
)

// Policy captures the operation-wide decisions an item whose
// ftperrors.Kind.Class is ClassPolicy must consult (spec.md: hidden
// files/dirs, unknown attribute bits) rather than have baked into the
// protocol exchange itself.
type Policy struct {
	IncludeHiddenFiles bool
	IncludeHiddenDirs  bool
	IgnoreUnknownAttrs bool
}

// Shared is the subset of coordinator-owned state every worker in one
// operation reads or writes (spec.md §4.9): the operation queue, the
// disk-work channel, the listing cache, the explored-path set, the
// reconnect/transfer pacer, the global speed meter, the lazily
// detected server type and welcome/SYST text, and the policy table.
// The full operation coordinator (worker pool construction, pause/
// resume, progress aggregation) builds on top of this.
type Shared struct {
	Queue          *queue.Queue
	Disk           *diskwork.Channel
	Cache          *listingcache.Cache
	Explored       *exploredset.Set
	Pacer          *pacer.Pacer
	SpeedMeter     *speedmeter.Meter
	Catalog        []*listing.ServerType
	Policy         Policy
	ChAttrsAndMask uint32
	ChAttrsOrMask  uint32

	// Logger receives state-transition/item-outcome events if non-nil
	// (spec.md's operation-scoped logging, one *logrus.Entry per
	// operation rather than a process-wide singleton).
	Logger *logrus.Entry

	paused atomic.Bool

	typeMu     sync.Mutex
	serverType *listing.ServerType
	welcome    string
	syst       string

	forceMu      sync.Mutex
	forceActions map[queue.ID]queue.ForceAction

	exploredMu sync.Mutex

	diskWaiters sync.Map // uint64 -> chan diskwork.Response
	diskTagSeq  atomic.Uint64
}

// NewShared wires the services every worker needs and starts the
// disk-work response dispatcher, which demultiplexes the one shared
// Channel's Responses() stream back to whichever worker is waiting on
// a given request, by CompletionTag.
func NewShared(q *queue.Queue, disk *diskwork.Channel, cache *listingcache.Cache, explored *exploredset.Set, p *pacer.Pacer, meter *speedmeter.Meter, catalog []*listing.ServerType) *Shared {
	s := &Shared{
		Queue:        q,
		Disk:         disk,
		Cache:        cache,
		Explored:     explored,
		Pacer:        p,
		SpeedMeter:   meter,
		Catalog:      catalog,
		forceActions: map[queue.ID]queue.ForceAction{},
	}
	go s.routeDiskResponses()
	return s
}

func (s *Shared) routeDiskResponses() {
	for resp := range s.Disk.Responses() {
		tag, _ := resp.CompletionTag.(uint64)
		if ch, ok := s.diskWaiters.LoadAndDelete(tag); ok {
			ch.(chan diskwork.Response) <- resp
		}
	}
}

// doDiskWork submits req to the shared disk-work channel and blocks
// until its own response comes back, regardless of how many other
// workers are submitting concurrently.
func (s *Shared) doDiskWork(req diskwork.Request) diskwork.Response {
	tag := s.diskTagSeq.Add(1)
	req.CompletionTag = tag
	wait := make(chan diskwork.Response, 1)
	s.diskWaiters.Store(tag, wait)
	s.Disk.Submit(req)
	return <-wait
}

func (s *Shared) takeForceAction(id queue.ID) queue.ForceAction {
	s.forceMu.Lock()
	defer s.forceMu.Unlock()
	a := s.forceActions[id]
	delete(s.forceActions, id)
	return a
}

// SetForceAction records the user's resolution of a prior
// UserInputNeeded item, consumed the next time that item reaches disk
// work.
func (s *Shared) SetForceAction(id queue.ID, action queue.ForceAction) {
	s.forceMu.Lock()
	defer s.forceMu.Unlock()
	s.Queue.UpdateForceAction(id, action, s.forceActions)
}

// SetPaused toggles whether FindWork hands out any item at all
// (spec.md §4.9).
func (s *Shared) SetPaused(paused bool) { s.paused.Store(paused) }

func (s *Shared) recordWelcome(text string) {
	s.typeMu.Lock()
	if s.welcome == "" {
		s.welcome = text
	}
	s.typeMu.Unlock()
}

func (s *Shared) logf(level logrus.Level, workerID int, itemID queue.ID, msg string) {
	if s.Logger == nil {
		return
	}
	s.Logger.WithFields(logrus.Fields{"worker_id": workerID, "item_id": itemID}).Log(level, msg)
}

func (s *Shared) recordSyst(text string) {
	s.typeMu.Lock()
	if s.syst == "" {
		s.syst = text
	}
	s.typeMu.Unlock()
}

// checkAndMarkExplored reports whether resolved (the server-confirmed
// current directory after CWD+PWD) is a directory-loop: either it was
// already explored by this operation, or it's a strict ancestor of
// requested (the path that was actually asked for), which is exactly
// what a symlink pointing back up at itself or a parent looks like
// (spec.md §4.4/§4.8.1 scenario 4, e.g. "/a/link" resolving to "/a").
// When resolved is genuinely new it's inserted and false is returned.
func (s *Shared) checkAndMarkExplored(syntax pathutil.Syntax, resolved, requested string) (loop bool) {
	s.exploredMu.Lock()
	defer s.exploredMu.Unlock()
	if s.Explored.Contains(resolved) {
		return true
	}
	if resolved != requested && pathutil.IsPrefixOf(syntax, resolved, requested) {
		return true
	}
	s.Explored.Insert(resolved)
	return false
}

// Worker drives one FTP control connection end to end: connect,
// repeatedly pull and perform an item, reconnect on a transient
// failure, until told to stop.
type Worker struct {
	id     int
	opts   ftpconfig.Options
	shared *Shared

	inbox chan Event
	state atomic.Int32

	cwd         string
	cc          *controlConn
	utf8Enabled bool

	reconnectCalc  *pacer.Default
	reconnectState pacer.State

	stopRequested atomic.Bool
}

// New creates a worker. Call Run in its own goroutine.
func New(id int, opts ftpconfig.Options, shared *Shared) *Worker {
	return &Worker{id: id, opts: opts, shared: shared, inbox: make(chan Event, 8)}
}

// State returns the worker's current top-level state.
func (w *Worker) State() State { return State(w.state.Load()) }

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
	w.shared.logf(logrus.DebugLevel, w.id, 0, "worker state -> "+s.String())
}

// Stop asks the worker to finish its current item and exit.
func (w *Worker) Stop() {
	w.stopRequested.Store(true)
	w.Notify(EventShouldStop)
}

// Notify delivers ev to the worker's inbox, waking it from an idle
// wait. Non-blocking: a full inbox drops the notification, since the
// worker will simply poll again shortly (idlePoll).
func (w *Worker) Notify(ev Event) {
	select {
	case w.inbox <- ev:
	default:
	}
}

// Run is the worker's main loop (spec.md §4.8): connect, then
// alternate between looking for work and performing it, until told to
// stop or the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.setState(StatePreparing)
	for {
		if ctx.Err() != nil || w.stopRequested.Load() {
			w.setState(StateStopped)
			w.teardownConnection()
			return nil
		}

		if w.cc == nil {
			w.setState(StateConnecting)
			if err := w.connect(ctx); err != nil {
				w.shared.logf(logrus.WarnLevel, w.id, 0, "connect failed: "+err.Error())
				w.setState(StateConnectionError)
				if !w.backoff(ctx) {
					w.setState(StateStopped)
					return nil
				}
				continue
			}
		}

		w.setState(StateLookingForWork)
		item, ok := w.shared.Queue.FindWork(queue.FindWorkPolicy{
			PreferPath: w.cwd,
			Paused:     w.shared.paused.Load(),
		})
		if !ok {
			w.setState(StateSleeping)
			if !w.waitForWork(ctx) {
				w.setState(StateStopped)
				w.teardownConnection()
				return nil
			}
			continue
		}

		w.setState(StateWorking)
		if err := w.dispatch(ctx, item); err != nil && ftperrors.Retryable(err) {
			w.shared.logf(logrus.WarnLevel, w.id, item.ID, "connection dropped mid-item, reconnecting: "+err.Error())
			w.teardownConnection()
			w.setState(StateWaitingForReconnect)
			if !w.backoff(ctx) {
				w.setState(StateStopped)
				return nil
			}
		}
	}
}

func (w *Worker) waitForWork(ctx context.Context) bool {
	timer := time.NewTimer(idlePoll)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case ev := <-w.inbox:
		if ev == EventShouldStop {
			w.stopRequested.Store(true)
			return false
		}
		return true
	case <-timer.C:
		return true
	}
}

// backoff sleeps the reconnect calculator's next interval, returning
// false if ctx was cancelled while waiting.
func (w *Worker) backoff(ctx context.Context) bool {
	if w.reconnectCalc == nil {
		w.reconnectCalc = pacer.NewDefault(
			pacer.MinSleep(w.opts.ReconnectMinSleep),
			pacer.MaxSleep(w.opts.ReconnectMaxSleep),
		)
	}
	w.reconnectState.ConsecutiveRetries++
	w.reconnectState.SleepTime = w.reconnectCalc.Calculate(w.reconnectState)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(w.reconnectState.SleepTime):
		return true
	}
}

func (w *Worker) teardownConnection() {
	if w.cc != nil {
		w.cc.quit()
		_ = w.cc.close()
		w.cc = nil
	}
	w.cwd = ""
}

// connect dials the control connection, negotiates TLS/proxy/MODE Z
// per spec.md §4.8.3, runs any configured init commands, and records
// the server's SYST reply.
func (w *Worker) connect(ctx context.Context) error {
	tc := withTimeout(connectTimeout)

	dialHost, dialPort := w.opts.Host, w.opts.Port
	if w.opts.ProxyHost != "" {
		dialHost, dialPort = w.opts.ProxyHost, w.opts.ProxyPort
	}
	addr := net.JoinHostPort(dialHost, strconv.Itoa(dialPort))

	var implicitTLS *tls.Config
	if w.opts.TLS {
		implicitTLS = w.tlsConfig()
	}
	cc, banner, err := dialControl(tc, "tcp", addr, implicitTLS)
	if err != nil {
		return ftperrors.Wrap(ftperrors.KindConnectionDropped, err)
	}
	w.shared.recordWelcome(banner.Text)

	if w.opts.ExplicitTLS {
		if err := w.negotiateExplicitTLS(cc); err != nil {
			_ = cc.close()
			return err
		}
	}

	if w.opts.ProxyHost != "" {
		if err := w.runProxyLogin(cc); err != nil {
			_ = cc.close()
			return err
		}
	} else if err := w.login(cc); err != nil {
		_ = cc.close()
		return err
	}

	w.utf8Enabled = w.negotiateUTF8(cc)

	if w.opts.Compress {
		r, err := cc.send("MODE Z")
		if err != nil {
			_ = cc.close()
			return ftperrors.Wrap(ftperrors.KindConnectionDropped, err)
		}
		if !r.isSuccess() {
			_ = cc.close()
			return ftperrors.New(ftperrors.KindProxyError, fmt.Sprintf("MODE Z refused: %d %s", r.Code, r.Text))
		}
	}

	for _, initCmd := range w.opts.InitCommands {
		if _, err := cc.sendDiscardingText("%s", initCmd); err != nil {
			_ = cc.close()
			return ftperrors.Wrap(ftperrors.KindConnectionDropped, err)
		}
	}

	if r, err := cc.send("SYST"); err == nil && r.isSuccess() {
		w.shared.recordSyst(r.Text)
	}

	w.cc = cc
	w.cwd = ""
	w.reconnectState = pacer.State{}
	return nil
}

// negotiateUTF8 asks the server what it supports via FEAT and, if it
// advertises UTF8, turns it on with OPTS UTF8 ON. Any failure along the
// way (FEAT not implemented, OPTS refused) just leaves UTF-8 off;
// listing bytes still get the charmap fallback in that case.
func (w *Worker) negotiateUTF8(cc *controlConn) bool {
	feat, err := cc.send("FEAT")
	if err != nil || !feat.isSuccess() {
		return false
	}
	if !strings.Contains(strings.ToUpper(feat.Text), "UTF8") {
		return false
	}
	opts, err := cc.send("OPTS UTF8 ON")
	if err != nil {
		return false
	}
	return opts.isSuccess()
}

func (w *Worker) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         w.opts.Host,
		InsecureSkipVerify: w.opts.SkipVerifyCert,
	}
}

func (w *Worker) negotiateExplicitTLS(cc *controlConn) error {
	r, err := cc.send("AUTH TLS")
	if err != nil {
		return ftperrors.Wrap(ftperrors.KindConnectionDropped, err)
	}
	if !r.isSuccess() {
		return ftperrors.New(ftperrors.KindTLSError, fmt.Sprintf("AUTH TLS refused: %d %s", r.Code, r.Text))
	}
	if err := cc.upgradeTLS(w.tlsConfig()); err != nil {
		return ftperrors.Wrap(ftperrors.KindTLSError, err)
	}
	if _, err := cc.send("PBSZ 0"); err != nil {
		return ftperrors.Wrap(ftperrors.KindConnectionDropped, err)
	}
	r, err = cc.send("PROT P")
	if err != nil {
		return ftperrors.Wrap(ftperrors.KindConnectionDropped, err)
	}
	if !r.isSuccess() {
		return ftperrors.New(ftperrors.KindTLSError, fmt.Sprintf("PROT P refused: %d %s", r.Code, r.Text))
	}
	return nil
}

func (w *Worker) login(cc *controlConn) error {
	r, err := cc.send("USER %s", w.opts.User)
	if err != nil {
		return ftperrors.Wrap(ftperrors.KindConnectionDropped, err)
	}
	if r.significance() == 3 {
		r, err = cc.send("PASS %s", w.opts.Pass)
		if err != nil {
			return ftperrors.Wrap(ftperrors.KindConnectionDropped, err)
		}
	}
	if r.significance() == 3 && w.opts.Account != "" {
		r, err = cc.send("ACCT %s", w.opts.Account)
		if err != nil {
			return ftperrors.Wrap(ftperrors.KindConnectionDropped, err)
		}
	}
	if !r.isSuccess() {
		return ftperrors.New(ftperrors.KindConnectionDropped, fmt.Sprintf("login failed: %d %s", r.Code, r.Text))
	}
	return nil
}

// runProxyLogin evaluates the configured proxy login script and sends
// its commands over the already-open (possibly proxy-local) control
// connection, per spec.md's "FTP proxy scripts".
func (w *Worker) runProxyLogin(cc *controlConn) error {
	vars := proxyscript.Vars{
		Host: w.opts.Host, Port: w.opts.Port,
		User: w.opts.User, Password: w.opts.Pass, Account: w.opts.Account,
		ProxyHost: w.opts.ProxyHost, ProxyPort: w.opts.ProxyPort,
		ProxyUser: w.opts.ProxyUser, ProxyPassword: w.opts.ProxyPass,
	}
	defer vars.Zero()

	_, commands, err := proxyscript.Parse(w.opts.ProxyLoginScript, vars)
	if err != nil {
		return ftperrors.Wrap(ftperrors.KindProxyError, err)
	}

	var last reply
	var lastWasSent bool
	for _, cmd := range commands {
		if cmd.Dropped {
			continue
		}
		if cmd.OnlyOn3xx && !(lastWasSent && last.significance() == 3) {
			continue
		}
		r, err := cc.send("%s", cmd.Text)
		if err != nil {
			return ftperrors.Wrap(ftperrors.KindProxyError, err)
		}
		last, lastWasSent = r, true
	}
	if lastWasSent && !last.isSuccess() && last.significance() != 3 {
		return ftperrors.New(ftperrors.KindProxyError, fmt.Sprintf("proxy login failed: %d %s", last.Code, last.Text))
	}
	return nil
}

func (w *Worker) remoteSyntax() pathutil.Syntax { return pathutil.SyntaxUnix }

func (w *Worker) ensureCWD(path string) error {
	if path == "" || path == w.cwd {
		return nil
	}
	r, err := w.cc.send("CWD %s", path)
	if err != nil {
		return ftperrors.Wrap(ftperrors.KindConnectionDropped, err)
	}
	if !r.isSuccess() {
		return ftperrors.New(ftperrors.KindUnableToCWD, fmt.Sprintf("%d %s", r.Code, r.Text))
	}
	w.cwd = path
	return nil
}

// resolveCWD issues PWD and returns the server's confirmed current
// directory. Directory-loop detection must compare against this, not
// against the literal path requested by CWD: the canonical
// "/a/link -> /a" symlink loop (spec.md §4.4/§4.8.1, scenario 4) is
// only visible once the server resolves the symlink and reports where
// it actually landed.
func (w *Worker) resolveCWD() (string, error) {
	r, err := w.cc.send("PWD")
	if err != nil {
		return "", ftperrors.Wrap(ftperrors.KindConnectionDropped, err)
	}
	if !r.isSuccess() {
		return "", ftperrors.New(ftperrors.KindUnableToCWD, fmt.Sprintf("%d %s", r.Code, r.Text))
	}
	resolved, err := parsePWDReply(r.Text)
	if err != nil {
		return "", ftperrors.Wrap(ftperrors.KindUnableToCWD, err)
	}
	return resolved, nil
}

// openData opens a passive or active data connection per the
// worker's configuration, including FTPS data-protection when active.
func (w *Worker) openData(dir transport.Direction) (*transport.Transport, error) {
	tr := transport.New(dir, w.opts.NoDataTimeout)
	tr.SetGlobalSpeedMeter(w.shared.SpeedMeter)
	tr.SetCompressed(w.opts.Compress)

	if w.opts.Passive {
		ip, port, err := w.openPassiveAddr()
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), dataDialTimeout)
		defer cancel()
		if err := tr.OpenPassive(ctx, net.JoinHostPort(ip, strconv.Itoa(port))); err != nil {
			return nil, err
		}
		if w.opts.TLS || w.opts.ExplicitTLS {
			if err := tr.EncryptPassive(w.tlsConfig()); err != nil {
				return nil, err
			}
		}
		return tr, nil
	}

	ip, port, err := tr.OpenActiveListen("")
	if err != nil {
		return nil, err
	}
	if err := w.sendActiveAddr(ip, port); err != nil {
		return nil, err
	}
	return tr, nil
}

// openPassiveAddr tries EPSV first (spec.md §10 item 1), falling back
// to PASV on a 5xx reply or when DisableEPSV is set. EPSV never
// repeats the host's IP, so that part of the tuple comes from the
// control connection's own peer address.
func (w *Worker) openPassiveAddr() (string, int, error) {
	if !w.opts.DisableEPSV {
		r, err := w.cc.send("EPSV")
		if err != nil {
			return "", 0, ftperrors.Wrap(ftperrors.KindConnectionDropped, err)
		}
		if r.isSuccess() {
			port, err := parseEPSVReply(r.Text)
			if err == nil {
				return w.cc.remoteIP(), port, nil
			}
		}
		// 5xx (not implemented, disabled) or an unparsable 229 falls
		// through to classic PASV.
	}

	r, err := w.cc.send("PASV")
	if err != nil {
		return "", 0, ftperrors.Wrap(ftperrors.KindConnectionDropped, err)
	}
	if !r.isSuccess() {
		return "", 0, ftperrors.New(ftperrors.KindListenFailure, fmt.Sprintf("%d %s", r.Code, r.Text))
	}
	ip, port, err := parsePASVReply(r.Text)
	if err != nil {
		return "", 0, ftperrors.Wrap(ftperrors.KindListenFailure, err)
	}
	return ip, port, nil
}

// sendActiveAddr issues EPRT (falling back to PORT on a 5xx reply or
// when DisableEPSV is set) so the server knows where to connect for
// an active-mode data transfer.
func (w *Worker) sendActiveAddr(ip string, port int) error {
	if !w.opts.DisableEPSV {
		r, err := w.cc.send("EPRT |1|%s|%d|", ip, port)
		if err != nil {
			return ftperrors.Wrap(ftperrors.KindConnectionDropped, err)
		}
		if r.isSuccess() {
			return nil
		}
	}
	r, err := w.cc.send("PORT %s", formatPORT(ip, port))
	if err != nil {
		return ftperrors.Wrap(ftperrors.KindConnectionDropped, err)
	}
	if !r.isSuccess() {
		return ftperrors.New(ftperrors.KindListenFailure, fmt.Sprintf("%d %s", r.Code, r.Text))
	}
	return nil
}

func (w *Worker) activateData(tr *transport.Transport) error {
	if w.opts.Passive {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.opts.NoDataTimeout)
	defer cancel()
	return tr.Activate(ctx)
}

func formatPORT(ip string, port int) string {
	return fmt.Sprintf("%s,%d,%d", strings.ReplaceAll(ip, ".", ","), port/256, port%256)
}

func (w *Worker) fetchListing(path string) (raw []byte, err error) {
	if !w.opts.CacheListings {
		return w.runListCommand(path)
	}
	key := listingcache.Key{
		User: w.opts.User, Host: w.opts.Host, Port: w.opts.Port,
		Path: path, ListCommand: w.opts.ListCommand, TLS: w.opts.TLS || w.opts.ExplicitTLS,
	}
	if e, ok := w.shared.Cache.Lookup(key); ok {
		return e.Bytes, nil
	}
	raw, err = w.runListCommand(path)
	if err != nil {
		return nil, err
	}
	w.shared.Cache.InsertOrUpdate(key, raw, time.Now())
	return raw, nil
}

func (w *Worker) runListCommand(path string) ([]byte, error) {
	tr, err := w.openData(transport.DirectionDownload)
	if err != nil {
		return nil, err
	}
	defer tr.Close()

	r, err := w.cc.send("%s", w.opts.ListCommand)
	if err != nil {
		return nil, ftperrors.Wrap(ftperrors.KindConnectionDropped, err)
	}
	if r.significance() != 1 {
		return nil, ftperrors.New(ftperrors.KindListingIncomplete, fmt.Sprintf("%d %s", r.Code, r.Text))
	}
	if err := w.activateData(tr); err != nil {
		return nil, err
	}
	data, err := tr.TakeData(context.Background())
	if err != nil {
		return nil, err
	}
	final, err := w.cc.readReply()
	if err != nil || !final.isSuccess() {
		return nil, ftperrors.New(ftperrors.KindListingIncomplete, "transfer-complete reply missing")
	}
	return data, nil
}

func (w *Worker) ensureServerType(sample []byte) *listing.ServerType {
	w.shared.typeMu.Lock()
	defer w.shared.typeMu.Unlock()
	if w.shared.serverType != nil {
		return w.shared.serverType
	}
	st, _, err := listing.Autodetect(w.shared.Catalog, nil, w.shared.welcome, w.shared.syst, sample, time.Now())
	if err != nil || st == nil {
		st = listing.UnixType()
	}
	w.shared.serverType = st
	return st
}

// dispatch routes item to the handler for its role (spec.md §4.8.1's
// per-item-kind work loop).
func (w *Worker) dispatch(ctx context.Context, item queue.Item) error {
	switch roleOf(item.Kind) {
	case roleExploreDir:
		return w.handleExploreDir(item)
	case roleResolveLink:
		return w.handleResolveLink(item)
	case roleDownloadFile:
		return w.handleDownloadFile(ctx, item)
	case roleUploadFile:
		return w.handleUploadFile(ctx, item)
	case roleDeleteFile:
		return w.handleDeleteFile(item)
	case roleDeleteDir:
		return w.handleDeleteDir(item)
	case roleChAttrsFile:
		return w.handleChAttrsFile(item)
	case roleChAttrsDir:
		return w.handleChAttrsDir(item)
	default:
		w.shared.logf(logrus.ErrorLevel, w.id, item.ID, fmt.Sprintf("protocol desync: unhandled item kind %d", item.Kind))
		return w.fail(item.ID, ftperrors.KindInvalidRemotePath, fmt.Sprintf("unhandled item kind %d", item.Kind))
	}
}

type kindRole int

const (
	roleExploreDir kindRole = iota
	roleResolveLink
	roleDownloadFile
	roleUploadFile
	roleDeleteFile
	roleDeleteDir
	roleChAttrsFile
	roleChAttrsDir
)

func roleOf(k queue.Kind) kindRole {
	switch k {
	case queue.KindCopyExploreDir, queue.KindMoveExploreDir, queue.KindMoveExploreDirLink,
		queue.KindUploadCopyExploreDir, queue.KindUploadMoveExploreDir, queue.KindDeleteExploreDir,
		queue.KindChAttrsExploreDir, queue.KindChAttrsExploreDirLink:
		return roleExploreDir
	case queue.KindCopyResolveLink, queue.KindMoveResolveLink, queue.KindChAttrsResolveLink:
		return roleResolveLink
	case queue.KindCopyFileOrFileLink, queue.KindMoveFileOrFileLink:
		return roleDownloadFile
	case queue.KindUploadCopyFile, queue.KindUploadMoveFile:
		return roleUploadFile
	case queue.KindDeleteLink, queue.KindDeleteFile:
		return roleDeleteFile
	case queue.KindDeleteDir, queue.KindMoveDeleteDir, queue.KindMoveDeleteDirLink, queue.KindUploadMoveDeleteDir:
		return roleDeleteDir
	case queue.KindChAttrsFile:
		return roleChAttrsFile
	case queue.KindChAttrsDir:
		return roleChAttrsDir
	default:
		return roleExploreDir
	}
}

func (w *Worker) fail(id queue.ID, problem ftperrors.Kind, detail string) error {
	w.shared.logf(logrus.WarnLevel, w.id, id, "item failed: "+detail)
	return w.shared.Queue.UpdateState(id, queue.StateFailed, problem, detail)
}

func (w *Worker) done(id queue.ID) error {
	w.shared.logf(logrus.InfoLevel, w.id, id, "item done")
	return w.shared.Queue.UpdateState(id, queue.StateDone, ftperrors.KindNone, "")
}

func (w *Worker) skip(id queue.ID, problem ftperrors.Kind, detail string) error {
	w.shared.logf(logrus.InfoLevel, w.id, id, "item skipped: "+detail)
	return w.shared.Queue.UpdateState(id, queue.StateSkipped, problem, detail)
}

func (w *Worker) needsInput(id queue.ID, problem ftperrors.Kind, detail string) error {
	w.shared.logf(logrus.InfoLevel, w.id, id, "item needs user input: "+detail)
	return w.shared.Queue.UpdateState(id, queue.StateUserInputNeeded, problem, detail)
}

func isUploadExploreKind(k queue.Kind) bool {
	return k == queue.KindUploadCopyExploreDir || k == queue.KindUploadMoveExploreDir
}

// handleExploreDir lists one directory (remote, for every download/
// delete/chattr family, or local, for upload) and replaces the item
// with one child per entry plus, for the families that need one, a
// finalizer that deletes/chattrs the directory itself once every
// child has drained (spec.md §4.5's parent/finaliser pattern).
func (w *Worker) handleExploreDir(item queue.Item) error {
	if isUploadExploreKind(item.Kind) {
		return w.handleUploadExploreDir(item)
	}

	if err := w.ensureCWD(item.RemotePath); err != nil {
		if ftperrors.Retryable(err) {
			return err
		}
		return w.fail(item.ID, ftperrors.KindOf(err), err.Error())
	}
	resolved, err := w.resolveCWD()
	if err != nil {
		if ftperrors.Retryable(err) {
			return err
		}
		return w.fail(item.ID, ftperrors.KindOf(err), err.Error())
	}
	if w.shared.checkAndMarkExplored(w.remoteSyntax(), resolved, item.RemotePath) {
		return w.fail(item.ID, ftperrors.KindDirEndlessLoop, "path already explored in this operation")
	}

	raw, err := w.fetchListing(item.RemotePath)
	if err != nil {
		if ftperrors.Retryable(err) {
			return err
		}
		return w.fail(item.ID, ftperrors.KindOf(err), err.Error())
	}

	st := w.ensureServerType(raw)
	entries, err := listing.Parse(st, raw, time.Now())
	if err != nil {
		return w.fail(item.ID, ftperrors.KindListingNotParseable, err.Error())
	}

	children, finalizer := w.planExploreChildren(item, entries)
	if _, err := w.shared.Queue.ReplaceWithList(item.ID, children, finalizer); err != nil {
		return fmt.Errorf("worker: replace explore item: %w", err)
	}
	return nil
}

func (w *Worker) handleUploadExploreDir(item queue.Item) error {
	localDir := localRootDir(w.opts.Root, item.RemotePath)
	localEntries, err := os.ReadDir(localDir)
	if err != nil {
		return w.fail(item.ID, ftperrors.KindInvalidRemotePath, err.Error())
	}

	fileKind, dirKind := queue.KindUploadCopyFile, queue.KindUploadCopyExploreDir
	var finalizer *queue.NewChild
	if item.Kind == queue.KindUploadMoveExploreDir {
		fileKind, dirKind = queue.KindUploadMoveFile, queue.KindUploadMoveExploreDir
		finalizer = &queue.NewChild{Kind: queue.KindUploadMoveDeleteDir, RemotePath: item.RemotePath, LeafName: item.LeafName}
	}

	var children []queue.NewChild
	for _, e := range localEntries {
		remote, err := pathutil.Append(w.remoteSyntax(), item.RemotePath, e.Name())
		if err != nil {
			continue
		}
		if e.IsDir() {
			children = append(children, queue.NewChild{
				Kind: dirKind, RemotePath: remote, LeafName: e.Name(),
				Payload: &queue.UploadExploreDirPayload{TargetPath: remote, TargetName: e.Name()},
			})
			continue
		}
		var size uint64
		if info, err := e.Info(); err == nil {
			size = uint64(info.Size())
		}
		children = append(children, queue.NewChild{
			Kind: fileKind, RemotePath: remote, LeafName: e.Name(),
			Payload: &queue.UploadFilePayload{TargetPath: remote, TargetName: e.Name(), LocalSize: size},
		})
	}

	parent, leaf := pathutil.CutLastComponent(w.remoteSyntax(), item.RemotePath)
	if err := w.ensureCWD(parent); err != nil {
		if ftperrors.Retryable(err) {
			return err
		}
		return w.fail(item.ID, ftperrors.KindOf(err), err.Error())
	}
	payload, _ := item.Payload.(*queue.UploadExploreDirPayload)
	if payload == nil || payload.UploadDirState == queue.UploadDirUnknown {
		r, err := w.cc.send("MKD %s", leaf)
		if err != nil {
			return ftperrors.Wrap(ftperrors.KindConnectionDropped, err)
		}
		if !r.isSuccess() && r.significance() != 5 {
			return w.fail(item.ID, ftperrors.KindCannotCreateTargetDir, fmt.Sprintf("%d %s", r.Code, r.Text))
		}
	}

	if _, err := w.shared.Queue.ReplaceWithList(item.ID, children, finalizer); err != nil {
		return fmt.Errorf("worker: replace upload-explore item: %w", err)
	}
	return nil
}

func (w *Worker) planExploreChildren(item queue.Item, entries []listing.Entry) ([]queue.NewChild, *queue.NewChild) {
	switch item.Kind {
	case queue.KindCopyExploreDir:
		return w.planDownloadExplore(item, entries, queue.KindCopyExploreDir, queue.KindCopyResolveLink, queue.KindCopyFileOrFileLink), nil
	case queue.KindMoveExploreDir:
		children := w.planDownloadExplore(item, entries, queue.KindMoveExploreDir, queue.KindMoveResolveLink, queue.KindMoveFileOrFileLink)
		return children, deleteFinalizer(item, queue.KindMoveDeleteDir)
	case queue.KindMoveExploreDirLink:
		children := w.planDownloadExplore(item, entries, queue.KindMoveExploreDir, queue.KindMoveResolveLink, queue.KindMoveFileOrFileLink)
		return children, deleteFinalizer(item, queue.KindMoveDeleteDirLink)
	case queue.KindDeleteExploreDir:
		return w.planDeleteExplore(item, entries), deleteFinalizer(item, queue.KindDeleteDir)
	case queue.KindChAttrsExploreDir, queue.KindChAttrsExploreDirLink:
		children := w.planChAttrsExplore(item, entries, queue.KindChAttrsExploreDir, queue.KindChAttrsResolveLink)
		return children, w.chAttrsFinalizer(item)
	default:
		return nil, nil
	}
}

func (w *Worker) planDownloadExplore(item queue.Item, entries []listing.Entry, dirKind, linkKind, fileKind queue.Kind) []queue.NewChild {
	var children []queue.NewChild
	for _, e := range entries {
		remote, err := pathutil.Append(w.remoteSyntax(), item.RemotePath, e.Data.Name)
		if err != nil {
			continue
		}
		switch {
		case e.Data.IsLink:
			children = append(children, queue.NewChild{
				Kind: linkKind, RemotePath: remote, LeafName: e.Data.Name,
				Payload: &queue.ResolveLinkPayload{TargetPath: remote, TargetName: e.Data.Name},
			})
		case e.IsDir:
			children = append(children, queue.NewChild{
				Kind: dirKind, RemotePath: remote, LeafName: e.Data.Name,
				Payload: &queue.ExploreDirPayload{TargetPath: remote, TargetName: e.Data.Name},
			})
		default:
			children = append(children, queue.NewChild{
				Kind: fileKind, RemotePath: remote, LeafName: e.Data.Name,
				Payload: &queue.FileTransferPayload{TargetPath: remote, TargetName: e.Data.Name, SizeBytes: e.Data.Size},
			})
		}
	}
	return children
}

func (w *Worker) planDeleteExplore(item queue.Item, entries []listing.Entry) []queue.NewChild {
	var children []queue.NewChild
	for _, e := range entries {
		remote, err := pathutil.Append(w.remoteSyntax(), item.RemotePath, e.Data.Name)
		if err != nil {
			continue
		}
		if e.IsDir {
			children = append(children, queue.NewChild{
				Kind: queue.KindDeleteExploreDir, RemotePath: remote, LeafName: e.Data.Name,
				Payload: &queue.DeleteExploreDirPayload{IsHiddenDir: isHiddenName(e.Data.Name)},
			})
			continue
		}
		kind := queue.KindDeleteFile
		if e.Data.IsLink {
			kind = queue.KindDeleteLink
		}
		children = append(children, queue.NewChild{
			Kind: kind, RemotePath: remote, LeafName: e.Data.Name,
			Payload: &queue.DeleteFilePayload{IsHiddenFile: isHiddenName(e.Data.Name)},
		})
	}
	return children
}

func (w *Worker) planChAttrsExplore(item queue.Item, entries []listing.Entry, dirKind, linkKind queue.Kind) []queue.NewChild {
	var children []queue.NewChild
	for _, e := range entries {
		remote, err := pathutil.Append(w.remoteSyntax(), item.RemotePath, e.Data.Name)
		if err != nil {
			continue
		}
		switch {
		case e.Data.IsLink:
			children = append(children, queue.NewChild{
				Kind: linkKind, RemotePath: remote, LeafName: e.Data.Name,
				Payload: &queue.ResolveLinkPayload{TargetPath: remote, TargetName: e.Data.Name},
			})
		case e.IsDir:
			children = append(children, queue.NewChild{
				Kind: dirKind, RemotePath: remote, LeafName: e.Data.Name,
				Payload: &queue.ChAttrsExploreDirPayload{OriginalRights: e.Data.Rights},
			})
		default:
			children = append(children, queue.NewChild{
				Kind: queue.KindChAttrsFile, RemotePath: remote, LeafName: e.Data.Name,
				Payload: &queue.ChAttrsFilePayload{
					OriginalRights: e.Data.Rights,
					AndMask:        w.shared.ChAttrsAndMask,
					OrMask:         w.shared.ChAttrsOrMask,
				},
			})
		}
	}
	return children
}

// chAttrsFinalizer builds the directory's own chmod item, carrying
// forward the OriginalRights this explore item was created with (the
// rights column its parent's listing reported for it), since by the
// time every child has drained there's no listing row left to re-read
// it from.
func (w *Worker) chAttrsFinalizer(item queue.Item) *queue.NewChild {
	explorePayload, _ := item.Payload.(*queue.ChAttrsExploreDirPayload)
	var rights string
	if explorePayload != nil {
		rights = explorePayload.OriginalRights
	}
	return &queue.NewChild{
		Kind: queue.KindChAttrsDir, RemotePath: item.RemotePath, LeafName: item.LeafName,
		Payload: &queue.ChAttrsDirPayload{
			OriginalRights: rights,
			AndMask:        w.shared.ChAttrsAndMask,
			OrMask:         w.shared.ChAttrsOrMask,
		},
	}
}

func deleteFinalizer(item queue.Item, kind queue.Kind) *queue.NewChild {
	return &queue.NewChild{Kind: kind, RemotePath: item.RemotePath, LeafName: item.LeafName}
}

func isHiddenName(name string) bool {
	return len(name) > 0 && name[0] == '.'
}

// handleResolveLink follows a symlink entry found during an explore
// (spec.md's link-resolution step): list the parent again, find the
// matching row, and replace the item with the appropriate file or
// directory continuation depending on what the link points at.
func (w *Worker) handleResolveLink(item queue.Item) error {
	payload, ok := item.Payload.(*queue.ResolveLinkPayload)
	if !ok {
		return w.fail(item.ID, ftperrors.KindInvalidRemotePath, "malformed resolve-link payload")
	}
	parent, _ := pathutil.CutLastComponent(w.remoteSyntax(), item.RemotePath)
	if err := w.ensureCWD(parent); err != nil {
		if ftperrors.Retryable(err) {
			return err
		}
		return w.fail(item.ID, ftperrors.KindOf(err), err.Error())
	}

	raw, err := w.runListCommand(parent)
	if err != nil {
		if ftperrors.Retryable(err) {
			return err
		}
		return w.fail(item.ID, ftperrors.KindOf(err), err.Error())
	}
	st := w.ensureServerType(raw)
	entries, err := listing.Parse(st, raw, time.Now())
	if err != nil {
		return w.fail(item.ID, ftperrors.KindListingNotParseable, err.Error())
	}

	var target *listing.Entry
	for i := range entries {
		if entries[i].Data.Name == item.LeafName {
			target = &entries[i]
			break
		}
	}
	if target == nil {
		return w.fail(item.ID, ftperrors.KindInvalidRemotePath, "link target vanished from listing")
	}

	var child queue.NewChild
	if target.IsDir {
		child = w.resolvedDirChild(item, payload, target.Data.Rights)
	} else {
		child = w.resolvedFileChild(item, payload, target.Data.Size, target.Data.Rights)
	}
	if _, err := w.shared.Queue.ReplaceWithList(item.ID, []queue.NewChild{child}, nil); err != nil {
		return fmt.Errorf("worker: replace resolved link: %w", err)
	}
	return nil
}

func (w *Worker) resolvedDirChild(item queue.Item, payload *queue.ResolveLinkPayload, rights string) queue.NewChild {
	if item.Kind == queue.KindChAttrsResolveLink {
		return queue.NewChild{
			Kind: queue.KindChAttrsExploreDirLink, RemotePath: item.RemotePath, LeafName: item.LeafName,
			Payload: &queue.ChAttrsExploreDirPayload{OriginalRights: rights},
		}
	}
	kind := queue.KindCopyExploreDir
	if item.Kind == queue.KindMoveResolveLink {
		kind = queue.KindMoveExploreDirLink
	}
	return queue.NewChild{
		Kind: kind, RemotePath: item.RemotePath, LeafName: item.LeafName,
		Payload: &queue.ExploreDirPayload{TargetPath: payload.TargetPath, TargetName: payload.TargetName},
	}
}

func (w *Worker) resolvedFileChild(item queue.Item, payload *queue.ResolveLinkPayload, size uint64, rights string) queue.NewChild {
	if item.Kind == queue.KindChAttrsResolveLink {
		return queue.NewChild{
			Kind: queue.KindChAttrsFile, RemotePath: item.RemotePath, LeafName: item.LeafName,
			Payload: &queue.ChAttrsFilePayload{
				OriginalRights: rights,
				AndMask:        w.shared.ChAttrsAndMask,
				OrMask:         w.shared.ChAttrsOrMask,
			},
		}
	}
	kind := queue.KindCopyFileOrFileLink
	if item.Kind == queue.KindMoveResolveLink {
		kind = queue.KindMoveFileOrFileLink
	}
	return queue.NewChild{
		Kind: kind, RemotePath: item.RemotePath, LeafName: item.LeafName,
		Payload: &queue.FileTransferPayload{TargetPath: payload.TargetPath, TargetName: payload.TargetName, SizeBytes: size},
	}
}

func diskKindForState(s queue.TargetFileState) diskwork.RequestKind {
	switch s {
	case queue.TargetFileCreated:
		return diskwork.KindRetryCreated
	case queue.TargetFileResumed:
		return diskwork.KindRetryResumed
	default:
		return diskwork.KindCreateFile
	}
}

// handleDownloadFile runs one RETR, writing into a disk-work-opened
// local file, and (for a move) deletes the remote source on success.
func (w *Worker) handleDownloadFile(ctx context.Context, item queue.Item) error {
	payload, ok := item.Payload.(*queue.FileTransferPayload)
	if !ok {
		return w.fail(item.ID, ftperrors.KindInvalidRemotePath, "malformed file-transfer payload")
	}
	parent, _ := pathutil.CutLastComponent(w.remoteSyntax(), item.RemotePath)
	if err := w.ensureCWD(parent); err != nil {
		if ftperrors.Retryable(err) {
			return err
		}
		return w.fail(item.ID, ftperrors.KindOf(err), err.Error())
	}

	diskResp := w.shared.doDiskWork(diskwork.Request{
		Kind:            diskKindForState(payload.TargetFileState),
		LocalDir:        localRootDir(w.opts.Root, parent),
		LocalName:       payload.TargetName,
		Force:           w.shared.takeForceAction(item.ID),
		OverwritePolicy: diskwork.PolicyFailOnExist,
	})
	switch diskResp.Verdict {
	case diskwork.VerdictSkip:
		return w.skip(item.ID, ftperrors.KindNone, "")
	case diskwork.VerdictUserInputNeeded:
		return w.needsInput(item.ID, diskResp.Problem, "target file already exists")
	case diskwork.VerdictFailed:
		return w.fail(item.ID, diskResp.Problem, errString(diskResp.Err))
	}
	f := diskResp.File
	defer f.Close()
	if diskResp.NewTargetName != "" {
		_ = w.shared.Queue.UpdateTargetName(item.ID, diskResp.NewTargetName)
		payload.TargetName = diskResp.NewTargetName
	}

	if diskResp.Size > 0 {
		if err := w.shared.Queue.UpdateTargetFileState(item.ID, queue.TargetFileResumed); err != nil {
			return fmt.Errorf("worker: %w", err)
		}
	} else if err := w.shared.Queue.UpdateTargetFileState(item.ID, queue.TargetFileCreated); err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	if _, err := w.cc.send("TYPE I"); err != nil {
		return ftperrors.Wrap(ftperrors.KindConnectionDropped, err)
	}

	tr, err := w.openData(transport.DirectionDownload)
	if err != nil {
		return err
	}
	defer tr.Close()
	totalSize := payload.SizeBytes
	if totalSize == 0 {
		totalSize = w.probeSize(item.LeafName)
	}
	tr.SetTotalSize(int64(totalSize))

	if diskResp.Size > 0 {
		if _, err := w.cc.send("REST %d", diskResp.Size); err != nil {
			return ftperrors.Wrap(ftperrors.KindConnectionDropped, err)
		}
	}

	retrReply, err := w.cc.send("RETR %s", item.LeafName)
	if err != nil {
		return ftperrors.Wrap(ftperrors.KindConnectionDropped, err)
	}
	if retrReply.significance() != 1 {
		return w.fail(item.ID, ftperrors.KindCannotCreateTargetFile, fmt.Sprintf("%d %s", retrReply.Code, retrReply.Text))
	}
	if err := w.activateData(tr); err != nil {
		return err
	}

	buf := make([]byte, 32*1024)
	for {
		n, rerr := tr.Read(ctx, buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return w.fail(item.ID, ftperrors.KindCannotCreateTargetFile, werr.Error())
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if ftperrors.Retryable(rerr) {
				return rerr
			}
			return w.fail(item.ID, ftperrors.KindOf(rerr), rerr.Error())
		}
	}

	final, err := w.cc.readReply()
	if err != nil || !final.isSuccess() {
		return ftperrors.Wrap(ftperrors.KindConnectionDropped, err)
	}
	if err := w.shared.Queue.UpdateTargetFileState(item.ID, queue.TargetFileTransferred); err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	if item.Kind == queue.KindMoveFileOrFileLink {
		delReply, err := w.cc.send("DELE %s", item.LeafName)
		if err != nil {
			return ftperrors.Wrap(ftperrors.KindConnectionDropped, err)
		}
		if !delReply.isSuccess() {
			return w.fail(item.ID, ftperrors.KindDirNotEmpty, fmt.Sprintf("could not delete source after move: %d %s", delReply.Code, delReply.Text))
		}
	}

	return w.done(item.ID)
}

// probeSize asks the server for leaf's size via SIZE when the listing
// didn't already carry a reliable one. A refusal (command not
// implemented, or a non-2xx reply) just means the size stays unknown;
// it never fails the transfer.
func (w *Worker) probeSize(leaf string) uint64 {
	r, err := w.cc.send("SIZE %s", leaf)
	if err != nil || !r.isSuccess() {
		return 0
	}
	n, err := strconv.ParseUint(strings.TrimSpace(r.Text), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// probeRights lists the current directory (already CWD'd into by the
// caller) and returns leaf's rights column, for the chattrs root items
// that have no parent-listing row to carry OriginalRights from.
func (w *Worker) probeRights(path, leaf string) (string, bool) {
	raw, err := w.runListCommand(path)
	if err != nil {
		return "", false
	}
	st := w.ensureServerType(raw)
	entries, err := listing.Parse(st, raw, time.Now())
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if e.Data.Name == leaf {
			return e.Data.Rights, e.Data.Rights != ""
		}
	}
	return "", false
}

// handleUploadFile runs one STOR/APPE, reading from a disk-work-
// opened local file.
func (w *Worker) handleUploadFile(ctx context.Context, item queue.Item) error {
	payload, ok := item.Payload.(*queue.UploadFilePayload)
	if !ok {
		return w.fail(item.ID, ftperrors.KindInvalidRemotePath, "malformed upload payload")
	}
	parent, _ := pathutil.CutLastComponent(w.remoteSyntax(), item.RemotePath)
	if err := w.ensureCWD(parent); err != nil {
		if ftperrors.Retryable(err) {
			return err
		}
		return w.fail(item.ID, ftperrors.KindOf(err), err.Error())
	}

	diskResp := w.shared.doDiskWork(diskwork.Request{
		Kind:      diskwork.KindOpenForReading,
		LocalDir:  localRootDir(w.opts.Root, parent),
		LocalName: item.LeafName,
	})
	if diskResp.Verdict != diskwork.VerdictOK {
		return w.fail(item.ID, diskResp.Problem, errString(diskResp.Err))
	}
	f := diskResp.File
	defer f.Close()

	typeCmd := "TYPE I"
	if payload.AsASCII {
		typeCmd = "TYPE A"
	}
	if _, err := w.cc.send(typeCmd); err != nil {
		return ftperrors.Wrap(ftperrors.KindConnectionDropped, err)
	}

	tr, err := w.openData(transport.DirectionUpload)
	if err != nil {
		return err
	}
	defer tr.Close()
	tr.SetTotalSize(int64(payload.LocalSize))

	cmd := "STOR"
	if payload.TargetFileState == queue.TargetFileResumed {
		cmd = "APPE"
	}
	storReply, err := w.cc.send("%s %s", cmd, payload.TargetName)
	if err != nil {
		return ftperrors.Wrap(ftperrors.KindConnectionDropped, err)
	}
	if storReply.significance() != 1 {
		return w.fail(item.ID, ftperrors.KindCannotCreateTargetFile, fmt.Sprintf("%d %s", storReply.Code, storReply.Text))
	}
	if err := w.activateData(tr); err != nil {
		return err
	}

	buf := make([]byte, 32*1024)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if _, werr := tr.Write(ctx, buf[:n]); werr != nil {
				if ftperrors.Retryable(werr) {
					return werr
				}
				return w.fail(item.ID, ftperrors.KindOf(werr), werr.Error())
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return w.fail(item.ID, ftperrors.KindCannotCreateTargetFile, rerr.Error())
		}
	}
	if err := tr.Close(); err != nil {
		return ftperrors.Wrap(ftperrors.KindConnectionDropped, err)
	}

	final, err := w.cc.readReply()
	if err != nil || !final.isSuccess() {
		return ftperrors.Wrap(ftperrors.KindConnectionDropped, err)
	}
	if err := w.shared.Queue.UpdateTargetFileState(item.ID, queue.TargetFileTransferred); err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	return w.done(item.ID)
}

func (w *Worker) handleDeleteFile(item queue.Item) error {
	payload, _ := item.Payload.(*queue.DeleteFilePayload)
	if payload != nil && payload.IsHiddenFile && !w.shared.Policy.IncludeHiddenFiles {
		return w.skip(item.ID, ftperrors.KindFileHidden, "")
	}
	parent, _ := pathutil.CutLastComponent(w.remoteSyntax(), item.RemotePath)
	if err := w.ensureCWD(parent); err != nil {
		if ftperrors.Retryable(err) {
			return err
		}
		return w.fail(item.ID, ftperrors.KindOf(err), err.Error())
	}
	r, err := w.cc.send("DELE %s", item.LeafName)
	if err != nil {
		return ftperrors.Wrap(ftperrors.KindConnectionDropped, err)
	}
	if !r.isSuccess() {
		return w.fail(item.ID, ftperrors.KindCannotCreateTargetFile, fmt.Sprintf("%d %s", r.Code, r.Text))
	}
	return w.done(item.ID)
}

// handleDeleteDir runs once its item has drained to "only itself
// remains" (spec.md §4.5's finalizer scheduling). UploadMoveDeleteDir
// deletes the local source directory instead of issuing RMD, since an
// upload-move's source lives on disk, not on the server.
func (w *Worker) handleDeleteDir(item queue.Item) error {
	if item.Kind == queue.KindUploadMoveDeleteDir {
		dir := localRootDir(w.opts.Root, item.RemotePath)
		resp := w.shared.doDiskWork(diskwork.Request{
			Kind:      diskwork.KindDeleteDir,
			LocalDir:  filepath.Dir(dir),
			LocalName: filepath.Base(dir),
		})
		if resp.Verdict != diskwork.VerdictOK {
			return w.fail(item.ID, resp.Problem, errString(resp.Err))
		}
		return w.done(item.ID)
	}

	parent, leaf := pathutil.CutLastComponent(w.remoteSyntax(), item.RemotePath)
	if err := w.ensureCWD(parent); err != nil {
		if ftperrors.Retryable(err) {
			return err
		}
		return w.fail(item.ID, ftperrors.KindOf(err), err.Error())
	}
	r, err := w.cc.send("RMD %s", leaf)
	if err != nil {
		return ftperrors.Wrap(ftperrors.KindConnectionDropped, err)
	}
	if !r.isSuccess() {
		return w.fail(item.ID, ftperrors.KindDirNotEmpty, fmt.Sprintf("%d %s", r.Code, r.Text))
	}
	return w.done(item.ID)
}

func (w *Worker) handleChAttrsFile(item queue.Item) error {
	payload, ok := item.Payload.(*queue.ChAttrsFilePayload)
	if !ok {
		return w.fail(item.ID, ftperrors.KindInvalidRemotePath, "malformed chattrs payload")
	}
	parent, leaf := pathutil.CutLastComponent(w.remoteSyntax(), item.RemotePath)
	if err := w.ensureCWD(parent); err != nil {
		if ftperrors.Retryable(err) {
			return err
		}
		return w.fail(item.ID, ftperrors.KindOf(err), err.Error())
	}
	rights := payload.OriginalRights
	if rights == "" {
		rights, _ = w.probeRights(parent, leaf)
	}
	return w.runSiteChmod(item.ID, leaf, rights, payload.AndMask, payload.OrMask)
}

func (w *Worker) handleChAttrsDir(item queue.Item) error {
	payload, ok := item.Payload.(*queue.ChAttrsDirPayload)
	if !ok {
		return w.fail(item.ID, ftperrors.KindInvalidRemotePath, "malformed chattrs payload")
	}
	parent, leaf := pathutil.CutLastComponent(w.remoteSyntax(), item.RemotePath)
	if err := w.ensureCWD(parent); err != nil {
		if ftperrors.Retryable(err) {
			return err
		}
		return w.fail(item.ID, ftperrors.KindOf(err), err.Error())
	}
	rights := payload.OriginalRights
	if rights == "" {
		rights, _ = w.probeRights(parent, leaf)
	}
	return w.runSiteChmod(item.ID, leaf, rights, payload.AndMask, payload.OrMask)
}

// runSiteChmod computes the effective mode from rights and the
// configured and/or masks and issues SITE CHMOD, unless the
// computation would drop a setuid/setgid/sticky bit the masks don't
// know about (spec.md §8 scenario 5: rwsr-xr-x, and=0o777, or=0o000
// must not issue CHMOD at all, since 0o755 would silently lose
// setuid). An unparseable or missing rights string is treated the same
// way: without a known current mode there's no way to tell whether
// bits would be lost, so the safer choice is to not touch it.
func (w *Worker) runSiteChmod(id queue.ID, leaf, rights string, andMask, orMask uint32) error {
	current, ok := parseRights(rights)
	if !ok {
		return w.skipOrAsk(id, ftperrors.KindUnknownAttrs, "current permissions could not be determined")
	}
	mode, lossy := effectiveMode(current, andMask, orMask)
	if lossy {
		if uerr := w.shared.Queue.UpdateAttrErr(id, true); uerr != nil {
			return fmt.Errorf("worker: %w", uerr)
		}
		return w.skipOrAsk(id, ftperrors.KindUnknownAttrs, fmt.Sprintf("chmod would discard bits outside %03o/%03o for %q", andMask, orMask, rights))
	}

	r, err := w.cc.send("SITE CHMOD %03o %s", mode, leaf)
	if err != nil {
		return ftperrors.Wrap(ftperrors.KindConnectionDropped, err)
	}
	if r.isSuccess() {
		return w.done(id)
	}
	if uerr := w.shared.Queue.UpdateAttrErr(id, true); uerr != nil {
		return fmt.Errorf("worker: %w", uerr)
	}
	return w.skipOrAsk(id, ftperrors.KindUnknownAttrs, fmt.Sprintf("%d %s", r.Code, r.Text))
}

func (w *Worker) skipOrAsk(id queue.ID, kind ftperrors.Kind, detail string) error {
	if w.shared.Policy.IgnoreUnknownAttrs {
		return w.skip(id, kind, detail)
	}
	return w.needsInput(id, kind, detail)
}

func localRootDir(root, remotePath string) string {
	rel := strings.TrimPrefix(remotePath, "/")
	return filepath.Join(root, filepath.FromSlash(rel))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
