// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/CrawX/go-imap-mirror/domain"
	"github.com/CrawX/go-imap-mirror/log"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTimeout = time.Minute
	dialTimeout    = 30 * time.Second
)

var aLongTimeAgo = time.Unix(1, 0)

var ErrCommandInProgress = errors.New("another command is still in progress")

// StatusError is a NO or BAD completion of a command.
type StatusError struct {
	Command string
	Status  *imap.StatusResp
}

func (e *StatusError) Error() string {
	code := ""
	if e.Status.Code != "" {
		code = fmt.Sprintf("[%s] ", e.Status.Code)
	}
	return fmt.Sprintf("%s %s %s%s", e.Command, e.Status.Type, code, e.Status.Info)
}

// Conn frames tagged commands and their responses over one connection. It is
// not safe for concurrent use; one command is in flight at a time.
type Conn struct {
	conn net.Conn
	bw   *bufio.Writer
	r    *imap.Reader
	w    *imap.Writer

	tag     uint32
	timeout time.Duration
	active  *ResponseStream
	broken  error

	l *logrus.Logger
}

// DialTLS connects to address (host:port) over TLS and reads the greeting.
func DialTLS(ctx context.Context, address string, tlsConfig *tls.Config, timeout time.Duration) (*Conn, *imap.StatusResp, error) {
	if tlsConfig == nil {
		host, _, err := net.SplitHostPort(address)
		if err != nil {
			return nil, nil, domain.NewError(domain.KindTransport, "dial", fmt.Errorf("invalid address %q: %w", address, err))
		}
		tlsConfig = &tls.Config{
			ServerName: host,
			MinVersion: tls.VersionTLS12,
		}
	}

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: dialTimeout},
		Config:    tlsConfig,
	}
	netConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, nil, transportError(ctx, "dial", err)
	}

	return NewConn(ctx, netConn, timeout)
}

// NewConn wraps an established connection and reads the server greeting.
func NewConn(ctx context.Context, netConn net.Conn, timeout time.Duration) (*Conn, *imap.StatusResp, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	bw := bufio.NewWriter(netConn)
	c := &Conn{
		conn:    netConn,
		bw:      bw,
		r:       imap.NewReader(bufio.NewReader(netConn)),
		w:       imap.NewWriter(bw),
		timeout: timeout,
		l:       log.Logger(log.LOG_IMAP),
	}

	stop := c.arm(ctx, timeout)
	resp, err := imap.ReadResp(c.r)
	stop()
	if err != nil {
		netConn.Close()
		return nil, nil, transportError(ctx, "greeting", err)
	}

	greeting, ok := resp.(*imap.StatusResp)
	if !ok || greeting.Tag != "*" {
		netConn.Close()
		return nil, nil, domain.NewError(domain.KindProtocol, "greeting", fmt.Errorf("unexpected greeting %T", resp))
	}

	switch greeting.Type {
	case imap.StatusRespOk, imap.StatusRespPreauth:
	case imap.StatusRespBye:
		netConn.Close()
		return nil, nil, domain.NewError(domain.KindTransport, "greeting", fmt.Errorf("server refused connection: %s", greeting.Info))
	default:
		netConn.Close()
		return nil, nil, domain.NewError(domain.KindProtocol, "greeting", fmt.Errorf("unexpected greeting status %s", greeting.Type))
	}

	c.l.WithFields(logrus.Fields{"remote": netConn.RemoteAddr().String(), "info": greeting.Info}).Debug("Connected")
	return c, greeting, nil
}

// SendCommand writes cmd with a fresh tag and returns the stream of its
// responses. The command deadline covers writing and reading up to the
// tagged completion; cancelling ctx aborts the command and breaks the
// connection.
func (c *Conn) SendCommand(ctx context.Context, cmd imap.Commander) (*ResponseStream, error) {
	return c.sendCommand(ctx, cmd, c.timeout, true)
}

func (c *Conn) sendCommand(ctx context.Context, cmd imap.Commander, timeout time.Duration, cancellable bool) (*ResponseStream, error) {
	if c.broken != nil {
		return nil, domain.NewError(domain.KindTransport, "send", fmt.Errorf("connection unusable: %w", c.broken))
	}
	if c.active != nil && !c.active.done {
		return nil, domain.NewError(domain.KindProtocol, "send", ErrCommandInProgress)
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.NewError(domain.KindCancelled, "send", err)
	}

	c.tag++
	command := cmd.Command()
	command.Tag = fmt.Sprintf("A%04d", c.tag)

	armCtx := ctx
	if !cancellable {
		armCtx = context.Background()
	}
	s := &ResponseStream{
		c:       c,
		ctx:     armCtx,
		tag:     command.Tag,
		command: command.Name,
		stop:    c.arm(armCtx, timeout),
	}
	c.active = s

	c.l.WithFields(logrus.Fields{"tag": command.Tag, "command": command.Name}).Trace("Sending command")
	err := command.WriteTo(c.w)
	if err == nil {
		err = c.w.Flush()
	}
	if err != nil {
		s.finish()
		return nil, c.fail(armCtx, "send "+command.Name, err)
	}

	return s, nil
}

func (c *Conn) arm(ctx context.Context, timeout time.Duration) func() bool {
	c.conn.SetDeadline(time.Now().Add(timeout))
	return context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(aLongTimeAgo)
	})
}

func (c *Conn) fail(ctx context.Context, op string, err error) error {
	wrapped := transportError(ctx, op, err)
	c.broken = wrapped
	return wrapped
}

func (c *Conn) writeLine(line string) error {
	if _, err := c.bw.WriteString(line + "\r\n"); err != nil {
		return err
	}
	return c.bw.Flush()
}

func (c *Conn) Close() error {
	if c.broken == nil {
		c.broken = net.ErrClosed
	}
	return c.conn.Close()
}

// transportError classifies a read or write failure. Malformed frames count
// as transport failures, the connection state is unknown afterwards.
func transportError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return domain.NewError(domain.KindCancelled, op, ctx.Err())
	}
	if domain.KindOf(err) == domain.KindTimeout {
		return domain.NewError(domain.KindTimeout, op, err)
	}
	return domain.NewError(domain.KindTransport, op, err)
}

// ResponseStream yields the responses of one command in wire order and ends
// with io.EOF once the tagged completion has been read.
type ResponseStream struct {
	c       *Conn
	ctx     context.Context
	tag     string
	command string
	stop    func() bool

	done   bool
	status *imap.StatusResp
}

func (s *ResponseStream) Next() (imap.Resp, error) {
	if s.done {
		return nil, io.EOF
	}

	resp, err := imap.ReadResp(s.c.r)
	if err != nil {
		s.finish()
		return nil, s.c.fail(s.ctx, "read "+s.command, err)
	}

	if status, ok := resp.(*imap.StatusResp); ok && status.Tag != "*" {
		s.finish()
		if status.Tag != s.tag {
			return nil, s.c.fail(s.ctx, "read "+s.command, fmt.Errorf("unexpected tag %s, expected %s", status.Tag, s.tag))
		}
		s.status = status
		s.c.l.WithFields(logrus.Fields{"tag": s.tag, "command": s.command, "status": status.Type}).Trace("Command completed")
		return nil, io.EOF
	}

	return resp, nil
}

// Continue answers a continuation request, or ends IDLE with DONE.
func (s *ResponseStream) Continue(line string) error {
	if s.done {
		return domain.NewError(domain.KindProtocol, "continue "+s.command, errors.New("command already completed"))
	}
	if err := s.c.writeLine(line); err != nil {
		s.finish()
		return s.c.fail(s.ctx, "continue "+s.command, err)
	}
	return nil
}

// Status is the tagged completion, nil until Next returned io.EOF.
func (s *ResponseStream) Status() *imap.StatusResp {
	return s.status
}

// Err reports a NO or BAD completion.
func (s *ResponseStream) Err() error {
	if s.status == nil || s.status.Type == imap.StatusRespOk {
		return nil
	}
	return &StatusError{Command: s.command, Status: s.status}
}

// Close drains the remaining responses so the next command can be sent.
func (s *ResponseStream) Close() error {
	for {
		_, err := s.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (s *ResponseStream) finish() {
	if s.done {
		return
	}
	s.done = true
	if !s.stop() && s.ctx.Err() != nil && s.c.broken == nil {
		s.c.broken = domain.NewError(domain.KindCancelled, s.command, s.ctx.Err())
	}
	if s.c.broken == nil {
		s.c.conn.SetDeadline(time.Time{})
	}
}

type commandFunc func() *imap.Command

func (f commandFunc) Command() *imap.Command {
	return f()
}

func rawCommand(name string, arguments ...interface{}) imap.Commander {
	return commandFunc(func() *imap.Command {
		return &imap.Command{Name: name, Arguments: arguments}
	})
}
