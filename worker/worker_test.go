package worker

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskscape/ftp-engine/diskwork"
	"github.com/taskscape/ftp-engine/exploredset"
	"github.com/taskscape/ftp-engine/ftpconfig"
	"github.com/taskscape/ftp-engine/internal/pacer"
	"github.com/taskscape/ftp-engine/internal/speedmeter"
	"github.com/taskscape/ftp-engine/listing"
	"github.com/taskscape/ftp-engine/listingcache"
	"github.com/taskscape/ftp-engine/pathutil"
	"github.com/taskscape/ftp-engine/queue"
)

func TestRoleOfCoversEveryKind(t *testing.T) {
	want := map[queue.Kind]kindRole{
		queue.KindCopyResolveLink:           roleResolveLink,
		queue.KindMoveResolveLink:           roleResolveLink,
		queue.KindCopyExploreDir:            roleExploreDir,
		queue.KindMoveExploreDir:            roleExploreDir,
		queue.KindMoveExploreDirLink:        roleExploreDir,
		queue.KindUploadCopyExploreDir:      roleExploreDir,
		queue.KindUploadMoveExploreDir:      roleExploreDir,
		queue.KindDeleteExploreDir:          roleExploreDir,
		queue.KindDeleteLink:                roleDeleteFile,
		queue.KindDeleteFile:                roleDeleteFile,
		queue.KindDeleteDir:                 roleDeleteDir,
		queue.KindMoveDeleteDir:             roleDeleteDir,
		queue.KindMoveDeleteDirLink:         roleDeleteDir,
		queue.KindUploadMoveDeleteDir:       roleDeleteDir,
		queue.KindCopyFileOrFileLink:        roleDownloadFile,
		queue.KindMoveFileOrFileLink:        roleDownloadFile,
		queue.KindUploadCopyFile:            roleUploadFile,
		queue.KindUploadMoveFile:            roleUploadFile,
		queue.KindChAttrsExploreDir:         roleExploreDir,
		queue.KindChAttrsExploreDirLink:     roleExploreDir,
		queue.KindChAttrsResolveLink:        roleResolveLink,
		queue.KindChAttrsFile:               roleChAttrsFile,
		queue.KindChAttrsDir:                roleChAttrsDir,
	}
	for kind, role := range want {
		assert.Equalf(t, role, roleOf(kind), "kind %v", kind)
	}
}

func TestIsUploadExploreKind(t *testing.T) {
	assert.True(t, isUploadExploreKind(queue.KindUploadCopyExploreDir))
	assert.True(t, isUploadExploreKind(queue.KindUploadMoveExploreDir))
	assert.False(t, isUploadExploreKind(queue.KindCopyExploreDir))
}

func TestFormatPORT(t *testing.T) {
	assert.Equal(t, "192,168,1,5,200,10", formatPORT("192.168.1.5", 200*256+10))
}

func TestLocalRootDir(t *testing.T) {
	assert.Equal(t, filepath.Join("/srv", "a", "b"), localRootDir("/srv", "/a/b"))
	assert.Equal(t, "/srv", localRootDir("/srv", "/"))
}

func TestDiskKindForState(t *testing.T) {
	assert.Equal(t, diskwork.KindCreateFile, diskKindForState(queue.TargetFileUnknown))
	assert.Equal(t, diskwork.KindRetryCreated, diskKindForState(queue.TargetFileCreated))
	assert.Equal(t, diskwork.KindRetryResumed, diskKindForState(queue.TargetFileResumed))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "working", StateWorking.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestSharedDoDiskWorkRoutesConcurrentCallers(t *testing.T) {
	disk := diskwork.New(4)
	defer disk.Close()
	shared := NewShared(queue.New(), disk, listingcache.New(1<<20), exploredset.New(), pacer.New(), speedmeter.New(0), nil)

	dir := t.TempDir()
	const n = 8
	done := make(chan string, n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			name := fmt.Sprintf("f%d.txt", i)
			resp := shared.doDiskWork(diskwork.Request{
				Kind:      diskwork.KindCreateFile,
				LocalDir:  dir,
				LocalName: name,
			})
			if resp.Verdict == diskwork.VerdictOK {
				resp.File.Close()
			}
			done <- name
		}()
	}
	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		seen[<-done] = true
	}
	assert.Len(t, seen, n)
	for name := range seen {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err)
	}
}

func TestForceActionRoundTrips(t *testing.T) {
	shared := NewShared(queue.New(), diskwork.New(1), listingcache.New(1<<20), exploredset.New(), pacer.New(), speedmeter.New(0), nil)
	defer shared.Disk.Close()

	id := shared.Queue.AddTopLevel(queue.KindCopyFileOrFileLink, "/a/b.txt", "b.txt", &queue.FileTransferPayload{})
	shared.SetForceAction(id, queue.ForceOverwrite)
	assert.Equal(t, queue.ForceOverwrite, shared.takeForceAction(id))
	assert.Equal(t, queue.ForceNone, shared.takeForceAction(id))
}

// fakeFTPSession drives one control connection for the end-to-end
// download test: banner, login, CWD, TYPE, PASV (opening a real data
// listener), RETR, SYST, QUIT.
type fakeFTPSession struct {
	t       *testing.T
	payload []byte
}

func serveFakeFTP(t *testing.T, payload []byte) net.Listener {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go (&fakeFTPSession{t: t, payload: payload}).run(ln)
	return ln
}

func (s *fakeFTPSession) run(ln net.Listener) {
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	fmt.Fprintf(conn, "220 fake ftpd ready\r\n")

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		word := line
		if idx := strings.IndexByte(line, ' '); idx >= 0 {
			word = line[:idx]
		}
		switch strings.ToUpper(word) {
		case "USER":
			fmt.Fprintf(conn, "230 logged in\r\n")
		case "SYST":
			fmt.Fprintf(conn, "215 UNIX Type: L8\r\n")
		case "CWD":
			fmt.Fprintf(conn, "250 directory changed\r\n")
		case "TYPE":
			fmt.Fprintf(conn, "200 type set\r\n")
		case "PASV":
			dataLn, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				fmt.Fprintf(conn, "425 cannot open data connection\r\n")
				continue
			}
			addr := dataLn.Addr().(*net.TCPAddr)
			ip := addr.IP.String()
			port := addr.Port
			fmt.Fprintf(conn, "227 Entering Passive Mode (%s,%d,%d)\r\n",
				strings.ReplaceAll(ip, ".", ","), port/256, port%256)
			go s.serveData(dataLn)
		case "RETR":
			fmt.Fprintf(conn, "150 opening data connection\r\n")
			time.Sleep(50 * time.Millisecond)
			fmt.Fprintf(conn, "226 transfer complete\r\n")
		case "QUIT":
			fmt.Fprintf(conn, "221 bye\r\n")
			return
		default:
			fmt.Fprintf(conn, "500 unrecognized\r\n")
		}
	}
}

func (s *fakeFTPSession) serveData(ln net.Listener) {
	defer ln.Close()
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	_, _ = conn.Write(s.payload)
}

func TestWorkerDownloadsFileEndToEnd(t *testing.T) {
	payload := []byte("hello from the fake server")
	ln := serveFakeFTP(t, payload)
	defer ln.Close()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "r"), 0o755))

	opts := ftpconfig.Default()
	opts.Host, opts.Port = host, port
	opts.User = "anonymous"
	opts.Root = root
	opts.NoDataTimeout = 5 * time.Second

	disk := diskwork.New(4)
	defer disk.Close()
	shared := NewShared(queue.New(), disk, listingcache.New(1<<20), exploredset.New(), pacer.New(), speedmeter.New(0), []*listing.ServerType{listing.UnixType()})

	id := shared.Queue.AddTopLevel(queue.KindCopyFileOrFileLink, "/r/file.txt", "file.txt", &queue.FileTransferPayload{
		TargetPath: "/r/file.txt", TargetName: "file.txt", SizeBytes: uint64(len(payload)),
	})

	w := New(1, opts, shared)
	ctx := context.Background()
	require.NoError(t, w.connect(ctx))
	defer w.teardownConnection()

	item, ok := shared.Queue.Get(id)
	require.True(t, ok)
	require.NoError(t, w.dispatch(ctx, item))

	final, ok := shared.Queue.Get(id)
	require.True(t, ok)
	assert.Equal(t, queue.StateDone, final.State)

	got, err := os.ReadFile(filepath.Join(root, "r", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func newTestShared() *Shared {
	disk := diskwork.New(1)
	return NewShared(queue.New(), disk, listingcache.New(1<<20), exploredset.New(), pacer.New(), speedmeter.New(0), []*listing.ServerType{listing.UnixType()})
}

// TestCheckAndMarkExploredCatchesSymlinkLoop exercises the canonical
// "/a/link -> /a" scenario: the server resolves the requested path to
// an ancestor directory already walked, which a literal-string
// explored-set check would never catch since "/a/link" and "/a" are
// different strings.
func TestCheckAndMarkExploredCatchesSymlinkLoop(t *testing.T) {
	shared := newTestShared()

	assert.False(t, shared.checkAndMarkExplored(pathutil.SyntaxUnix, "/a", "/a"))
	assert.True(t, shared.checkAndMarkExplored(pathutil.SyntaxUnix, "/a", "/a/link"))
}

func TestCheckAndMarkExploredCatchesAlreadyExploredPath(t *testing.T) {
	shared := newTestShared()

	assert.False(t, shared.checkAndMarkExplored(pathutil.SyntaxUnix, "/a/b", "/a/b"))
	assert.True(t, shared.checkAndMarkExplored(pathutil.SyntaxUnix, "/a/b", "/a/other-link"))
}

func TestCheckAndMarkExploredAllowsDistinctSiblingDirs(t *testing.T) {
	shared := newTestShared()

	assert.False(t, shared.checkAndMarkExplored(pathutil.SyntaxUnix, "/a/one", "/a/one"))
	assert.False(t, shared.checkAndMarkExplored(pathutil.SyntaxUnix, "/a/two", "/a/two"))
}
