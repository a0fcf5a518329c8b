// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/CrawX/go-imap-mirror/log"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.InitLogging("error")
	os.Exit(m.Run())
}

func u32(val int) uint32 {
	return uint32(val)
}

func u32a(val ...int) []uint32 {
	a := []uint32{}
	for _, v := range val {
		a = append(a, u32(v))
	}

	return a
}

// fakeServer plays the server side of a scripted IMAP conversation over a
// net.Pipe.
type fakeServer struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func (s *fakeServer) readLine() (string, bool) {
	line, err := s.r.ReadString('\n')
	if !assert.NoError(s.t, err, "server read") {
		return "", false
	}
	return strings.TrimRight(line, "\r\n"), true
}

func (s *fakeServer) expect(want string) bool {
	line, ok := s.readLine()
	return ok && assert.Equal(s.t, want, line)
}

func (s *fakeServer) expectPrefix(prefix string) string {
	line, ok := s.readLine()
	if ok {
		assert.True(s.t, strings.HasPrefix(line, prefix), "expected %q to start with %q", line, prefix)
	}
	return line
}

func (s *fakeServer) write(lines ...string) {
	for _, line := range lines {
		if _, err := io.WriteString(s.conn, line+"\r\n"); err != nil {
			return
		}
	}
}

// drain consumes client output until the client hangs up.
func (s *fakeServer) drain() {
	io.Copy(io.Discard, s.r)
}

func startServer(t *testing.T, script func(s *fakeServer)) net.Conn {
	client, server := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer server.Close()
		script(&fakeServer{t: t, conn: server, r: bufio.NewReader(server)})
	}()
	t.Cleanup(func() {
		client.Close()
		<-done
	})
	return client
}

const testCaps = "IMAP4rev1 IDLE CONDSTORE SASL-IR AUTH=OAUTHBEARER AUTH=XOAUTH2"

// newTestSession greets with caps and then runs script.
func newTestSession(t *testing.T, caps string, script func(s *fakeServer)) *Session {
	conn := startServer(t, func(s *fakeServer) {
		s.write("* OK [CAPABILITY " + caps + "] fake server ready")
		script(s)
	})

	session, err := NewSession(context.Background(), conn, Timeout(2*time.Second))
	require.NoError(t, err)
	return session
}

func serveSelect(s *fakeServer, tag string) {
	s.expectPrefix(tag + " SELECT INBOX")
	s.write(
		"* 3 EXISTS",
		"* OK [UIDVALIDITY 42] UIDs valid",
		"* OK [UIDNEXT 10] predicted next UID",
		"* OK [HIGHESTMODSEQ 715] modseq",
		tag+" OK [READ-WRITE] SELECT completed",
	)
}
