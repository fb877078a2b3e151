// SPDX-License-Identifier: GPL-2.0-or-later

package control

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"srec/pkg/log"
	"srec/pkg/record"
	"srec/pkg/stream/dummy"
)

func TestServer(t *testing.T) {
	session := record.NewSession(dummy.NewTransport(), log.NewMockLogger(), "x.xdf")
	server := NewServer(session, t.TempDir(), 0, log.NewMockLogger())

	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}

	require.NoError(t, server.Start(ctx, wg))

	conn, err := net.Dial("tcp", server.Addr())
	require.NoError(t, err)
	defer conn.Close()

	reader := bufio.NewReader(conn)
	send := func(command string) string {
		_, err := fmt.Fprintln(conn, command)
		require.NoError(t, err)
		response, err := reader.ReadString('\n')
		require.NoError(t, err)
		return response
	}

	require.Equal(t, "OK: Found 3 streams\n", send("update"))
	require.Equal(t, "OK: Selected 3 streams\n", send("select all"))
	require.Contains(t, send("status"), `"selected_streams":3`)

	cancel()
	wg.Wait()

	// Listener is gone after shutdown.
	_, err = net.Dial("tcp", server.Addr())
	require.Error(t, err)
}

func TestServerPortTaken(t *testing.T) {
	listener, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	defer listener.Close()

	port := listener.Addr().(*net.TCPAddr).Port

	session := record.NewSession(dummy.NewTransport(), log.NewMockLogger(), "x.xdf")
	server := NewServer(session, t.TempDir(), port, log.NewMockLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.Error(t, server.Start(ctx, &sync.WaitGroup{}))
}
