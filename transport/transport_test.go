package transport

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskscape/ftp-engine/ftperrors"
)

func TestOpenPassiveConnects(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()

	tr := New(DirectionDownload, time.Second)
	require.NoError(t, tr.OpenPassive(context.Background(), ln.Addr().String()))
	defer tr.Close()

	server := <-accepted
	require.NotNil(t, server)
	defer server.Close()

	assert.True(t, tr.IsConnected())
}

func TestOpenActiveListenAndActivate(t *testing.T) {
	tr := New(DirectionDownload, time.Second)
	ip, port, err := tr.OpenActiveListen("")
	require.NoError(t, err)
	require.NotEmpty(t, ip)
	require.NotZero(t, port)

	addr := fmt.Sprintf("%s:%d", ip, port)
	dialed := make(chan error, 1)
	go func() {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			_, err = conn.Write([]byte("payload"))
			_ = conn.Close()
		}
		dialed <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tr.Activate(ctx))
	require.NoError(t, <-dialed)

	buf, err := tr.TakeData(ctx)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(buf))
}

func TestTakeDataPlain(t *testing.T) {
	client, server := net.Pipe()
	tr := &Transport{state: StateTransferring, conn: server, noDataTimeout: time.Second, lastByteAt: time.Now()}

	go func() {
		_, _ = client.Write([]byte("hello listing"))
		_ = client.Close()
	}()

	data, err := tr.TakeData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello listing", string(data))
}

func TestReadStreamsChunks(t *testing.T) {
	client, server := net.Pipe()
	tr := &Transport{state: StateTransferring, conn: server, noDataTimeout: time.Second, lastByteAt: time.Now()}

	go func() {
		_, _ = client.Write([]byte("chunk-one"))
		_ = client.Close()
	}()

	buf := make([]byte, 64)
	n, err := tr.Read(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, "chunk-one", string(buf[:n]))
}

func TestCompressedDownloadInflatesServerSideZlibStream(t *testing.T) {
	client, server := net.Pipe()
	tr := &Transport{state: StateTransferring, conn: server, compressed: true, noDataTimeout: time.Second, lastByteAt: time.Now()}

	go func() {
		zw := zlib.NewWriter(client)
		_, _ = zw.Write([]byte("compressed payload"))
		_ = zw.Close()
		_ = client.Close()
	}()

	data, err := tr.TakeData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "compressed payload", string(data))
}

func TestCompressedUploadProducesValidZlibStream(t *testing.T) {
	client, server := net.Pipe()
	tr := &Transport{state: StateTransferring, conn: server, compressed: true}

	done := make(chan struct{})
	var received bytes.Buffer
	go func() {
		zr, err := zlib.NewReader(client)
		if err == nil {
			_, _ = received.ReadFrom(zr)
		}
		close(done)
	}()

	_, err := tr.Write(context.Background(), []byte("uploaded bytes"))
	require.NoError(t, err)
	require.NoError(t, tr.Close())
	<-done
	assert.Equal(t, "uploaded bytes", received.String())
}

func TestDecompressionErrorClassifiesAsDecompressionError(t *testing.T) {
	client, server := net.Pipe()
	tr := &Transport{state: StateTransferring, conn: server, compressed: true, noDataTimeout: time.Second, lastByteAt: time.Now()}

	go func() {
		_, _ = client.Write([]byte("not a zlib stream at all"))
		_ = client.Close()
	}()

	_, err := tr.TakeData(context.Background())
	require.Error(t, err)
	fe, ok := ftperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, ftperrors.KindDecompressionError, fe.Kind)
}

func TestConnectionDroppedClassification(t *testing.T) {
	client, server := net.Pipe()
	tr := &Transport{state: StateTransferring, conn: server, noDataTimeout: time.Hour, lastByteAt: time.Now()}
	_ = client
	_ = server.Close()

	buf := make([]byte, 16)
	_, err := tr.Read(context.Background(), buf)
	require.Error(t, err)
	fe, ok := ftperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, ftperrors.KindConnectionDropped, fe.Kind)
}

func TestIsTransferringReflectsFinishedState(t *testing.T) {
	client, server := net.Pipe()
	tr := &Transport{state: StateTransferring, conn: server, noDataTimeout: time.Second, lastByteAt: time.Now()}

	go func() {
		_, _ = client.Write([]byte("x"))
		_ = client.Close()
	}()

	var finished bool
	assert.True(t, tr.IsTransferring(&finished))
	assert.False(t, finished)

	_, err := tr.TakeData(context.Background())
	require.NoError(t, err)

	finished = false
	assert.False(t, tr.IsTransferring(&finished))
	assert.True(t, finished)
}
