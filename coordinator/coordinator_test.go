package coordinator

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskscape/ftp-engine/ftpconfig"
	"github.com/taskscape/ftp-engine/queue"
)

// fakeFTPd answers the fixed command sequence a single-file delete
// operation drives: banner, USER, SYST, CWD, DELE, QUIT.
func fakeFTPd(t *testing.T) net.Listener {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		fmt.Fprintf(conn, "220 fake ready\r\n")
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			word := strings.TrimRight(line, "\r\n")
			if idx := strings.IndexByte(word, ' '); idx >= 0 {
				word = word[:idx]
			}
			switch strings.ToUpper(word) {
			case "USER":
				fmt.Fprintf(conn, "230 logged in\r\n")
			case "SYST":
				fmt.Fprintf(conn, "215 UNIX Type: L8\r\n")
			case "CWD":
				fmt.Fprintf(conn, "250 directory changed\r\n")
			case "DELE":
				fmt.Fprintf(conn, "250 deleted\r\n")
			case "QUIT":
				fmt.Fprintf(conn, "221 bye\r\n")
				return
			default:
				fmt.Fprintf(conn, "500 unrecognized\r\n")
			}
		}
	}()
	return ln
}

func TestCoordinatorRunsDeleteOperationToCompletion(t *testing.T) {
	ln := fakeFTPd(t)
	defer ln.Close()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	opts := ftpconfig.Default()
	opts.Host, opts.Port, opts.User = host, port, "anonymous"
	opts.Connections = 1
	opts.NoDataTimeout = 2 * time.Second
	opts.ReconnectMinSleep = 10 * time.Millisecond
	opts.ReconnectMaxSleep = 50 * time.Millisecond

	c, err := New(Descriptor{
		Options:    opts,
		Operation:  OperationDelete,
		RemotePath: "/r/file.txt",
		IsDir:      false,
	})
	require.NoError(t, err)
	defer c.shared.Disk.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Run(ctx))

	assert.True(t, c.Done())
	counters := c.Counters()
	assert.Equal(t, 0, counters.NotDone)
	assert.Equal(t, 0, counters.Failed)
}

func TestNewRejectsMissingRemotePath(t *testing.T) {
	opts := ftpconfig.Default()
	opts.Host = "127.0.0.1"
	_, err := New(Descriptor{Options: opts, Operation: OperationDelete})
	assert.Error(t, err)
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	opts := ftpconfig.Default()
	opts.Host = ""
	_, err := New(Descriptor{Options: opts, Operation: OperationDelete, RemotePath: "/a"})
	assert.Error(t, err)
}

func TestSeedRootBuildsExpectedTopLevelItem(t *testing.T) {
	q := queue.New()
	require.NoError(t, seedRemoteRoot(q, Descriptor{RemotePath: "/r/file.txt"}, queue.KindCopyExploreDir, queue.KindCopyFileOrFileLink))
	item, ok := q.Get(1)
	require.True(t, ok)
	assert.Equal(t, queue.KindCopyFileOrFileLink, item.Kind)
	assert.Equal(t, "file.txt", item.LeafName)
}

func TestSeedRootBuildsDirItemWhenIsDirSet(t *testing.T) {
	q := queue.New()
	desc := Descriptor{RemotePath: "/r", IsDir: true}
	require.NoError(t, seedRemoteRoot(q, desc, queue.KindCopyExploreDir, queue.KindCopyFileOrFileLink))
	item, ok := q.Get(1)
	require.True(t, ok)
	assert.Equal(t, queue.KindCopyExploreDir, item.Kind)
}
