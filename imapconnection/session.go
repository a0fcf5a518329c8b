// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/CrawX/go-imap-mirror/domain"
	"github.com/CrawX/go-imap-mirror/log"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/commands"
	"github.com/sirupsen/logrus"
)

const logoutTimeout = 5 * time.Second

type Option func(o *options) error

type options struct {
	timeout   time.Duration
	tlsConfig *tls.Config
}

func Timeout(timeout time.Duration) Option {
	return func(o *options) error {
		if timeout <= 0 {
			return fmt.Errorf("Timeout must be positive")
		}
		o.timeout = timeout
		return nil
	}
}

func TLSConfig(config *tls.Config) Option {
	return func(o *options) error {
		o.tlsConfig = config
		return nil
	}
}

// Session is a connection to one account with at most one selected mailbox.
// It implements domain.MailSession.
type Session struct {
	conn *Conn
	caps domain.Capabilities

	selected    string
	uidValidity uint32

	flagFetcher flagFetcher

	l *logrus.Logger
}

func Dial(ctx context.Context, address string, opts ...Option) (*Session, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	conn, greeting, err := DialTLS(ctx, address, o.tlsConfig, o.timeout)
	if err != nil {
		return nil, err
	}

	return newSession(ctx, conn, greeting)
}

// NewSession starts a session on an already established connection.
func NewSession(ctx context.Context, netConn net.Conn, opts ...Option) (*Session, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	conn, greeting, err := NewConn(ctx, netConn, o.timeout)
	if err != nil {
		return nil, err
	}

	return newSession(ctx, conn, greeting)
}

func applyOptions(opts []Option) (*options, error) {
	o := &options{timeout: DefaultTimeout}
	for _, f := range opts {
		if err := f(o); err != nil {
			return nil, fmt.Errorf("error applying option: %w", err)
		}
	}
	return o, nil
}

func newSession(ctx context.Context, conn *Conn, greeting *imap.StatusResp) (*Session, error) {
	s := &Session{
		conn: conn,
		l:    log.Logger(log.LOG_IMAP),
	}

	if !s.capabilitiesFromStatus(greeting) {
		if err := s.refreshCapabilities(ctx); err != nil {
			conn.Close()
			return nil, err
		}
	}
	s.chooseStrategies()

	return s, nil
}

func (s *Session) chooseStrategies() {
	if s.caps.CondStore() {
		s.l.Debug("CONDSTORE supported on server, using CHANGEDSINCE flag reconciliation")
		s.flagFetcher = &condStoreFlagFetcher{imapConn: s}
	} else {
		s.l.Debug("CONDSTORE not supported on server, falling back to full flag fetch")
		s.flagFetcher = &plainFlagFetcher{imapConn: s}
	}
}

func (s *Session) Capabilities() domain.Capabilities {
	return s.caps
}

func (s *Session) capabilitiesFromStatus(status *imap.StatusResp) bool {
	if status == nil || status.Code != imap.CodeCapability {
		return false
	}
	s.caps = domain.NewCapabilities(stringFields(status.Arguments)...)
	return true
}

func (s *Session) refreshCapabilities(ctx context.Context) error {
	caps := []string{}
	err := s.execute(ctx, "capability", &commands.Capability{}, func(resp imap.Resp) error {
		name, fields, ok := imap.ParseNamedResp(resp)
		if ok && name == "CAPABILITY" {
			caps = append(caps, stringFields(fields)...)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.caps = domain.NewCapabilities(caps...)
	return nil
}

// execute sends cmd, hands every untagged response to handler and maps a NO
// or BAD completion to a ProtocolError.
func (s *Session) execute(ctx context.Context, op string, cmd imap.Commander, handler func(imap.Resp) error) error {
	stream, err := s.conn.SendCommand(ctx, cmd)
	if err != nil {
		return err
	}

	for {
		resp, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		if handler == nil {
			continue
		}
		if err := handler(resp); err != nil {
			if closeErr := stream.Close(); closeErr != nil {
				return closeErr
			}
			return domain.NewError(domain.KindProtocol, op, err)
		}
	}

	if err := stream.Err(); err != nil {
		return domain.NewError(domain.KindProtocol, op, err)
	}
	return nil
}

func (s *Session) ListFolders(ctx context.Context) ([]*domain.FolderInfo, error) {
	folders := []*domain.FolderInfo{}
	err := s.execute(ctx, "list", &commands.List{Reference: "", Mailbox: "*"}, func(resp imap.Resp) error {
		name, fields, ok := imap.ParseNamedResp(resp)
		if !ok || name != "LIST" {
			return nil
		}

		info := &imap.MailboxInfo{}
		if err := info.Parse(fields); err != nil {
			return fmt.Errorf("could not parse LIST response: %w", err)
		}

		if hasAttribute(info.Attributes, imap.NoSelectAttr) || hasAttribute(info.Attributes, `\NonExistent`) {
			return nil
		}

		folders = append(folders, &domain.FolderInfo{
			Path:      info.Name,
			Delimiter: info.Delimiter,
			Role:      folderRole(info),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.l.WithField("folders", len(folders)).Debug("Listed folders")
	return folders, nil
}

func (s *Session) Select(ctx context.Context, path string) (*domain.MailboxStatus, error) {
	cmd := (&commands.Select{Mailbox: path}).Command()
	if s.caps.CondStore() {
		cmd.Arguments = append(cmd.Arguments, []interface{}{imap.RawString("CONDSTORE")})
	}

	status := &domain.MailboxStatus{Path: path}
	err := s.execute(ctx, "select", commandFunc(func() *imap.Command { return cmd }), func(resp imap.Resp) error {
		if statusResp, ok := resp.(*imap.StatusResp); ok {
			return parseSelectCode(statusResp, status)
		}

		name, fields, ok := imap.ParseNamedResp(resp)
		if ok && name == "EXISTS" && len(fields) > 0 {
			messages, err := imap.ParseNumber(fields[0])
			if err != nil {
				return fmt.Errorf("could not parse EXISTS: %w", err)
			}
			status.Messages = messages
		}
		return nil
	})
	if err != nil {
		s.selected = ""
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Status.Type == imap.StatusRespNo {
			return nil, domain.NewError(domain.KindProtocol, "select", fmt.Errorf("%w: %s: %v", domain.ErrNoSuchFolder, path, statusErr))
		}
		return nil, err
	}

	if status.UidValidity == 0 {
		return nil, domain.NewError(domain.KindProtocol, "select", fmt.Errorf("server did not report UIDVALIDITY for %s", path))
	}

	s.selected = path
	s.uidValidity = status.UidValidity
	s.l.WithFields(logrus.Fields{
		"folder":        path,
		"uidvalidity":   status.UidValidity,
		"uidnext":       status.UidNext,
		"messages":      status.Messages,
		"highestmodseq": status.HighestModSeq,
	}).Debug("Selected folder")
	return status, nil
}

func parseSelectCode(resp *imap.StatusResp, status *domain.MailboxStatus) error {
	if len(resp.Arguments) == 0 {
		return nil
	}

	switch resp.Code {
	case imap.CodeUidValidity:
		v, err := imap.ParseNumber(resp.Arguments[0])
		if err != nil {
			return fmt.Errorf("could not parse UIDVALIDITY: %w", err)
		}
		status.UidValidity = v
	case imap.CodeUidNext:
		v, err := imap.ParseNumber(resp.Arguments[0])
		if err != nil {
			return fmt.Errorf("could not parse UIDNEXT: %w", err)
		}
		status.UidNext = v
	case "HIGHESTMODSEQ":
		v, err := parseUint64(resp.Arguments[0])
		if err != nil {
			return fmt.Errorf("could not parse HIGHESTMODSEQ: %w", err)
		}
		status.HighestModSeq = v
	}
	return nil
}

func (s *Session) SearchUids(ctx context.Context, from uint32) ([]uint32, error) {
	if err := s.requireSelected("search"); err != nil {
		return nil, err
	}

	criteria := []interface{}{imap.RawString("ALL")}
	if from > 1 {
		seqset := new(imap.SeqSet)
		seqset.AddRange(from, 0)
		criteria = []interface{}{imap.RawString("UID"), seqset}
	}

	uids := []uint32{}
	search := &commands.Uid{Cmd: rawCommand("SEARCH", criteria...)}
	err := s.execute(ctx, "search", search, func(resp imap.Resp) error {
		name, fields, ok := imap.ParseNamedResp(resp)
		if !ok || name != "SEARCH" {
			return nil
		}
		for _, f := range fields {
			if _, isList := f.([]interface{}); isList {
				// (MODSEQ n) trailer
				continue
			}
			uid, err := imap.ParseNumber(f)
			if err != nil {
				return fmt.Errorf("could not parse SEARCH result: %w", err)
			}
			// "n:*" always matches the highest UID, even below n
			if uid >= from {
				uids = append(uids, uid)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (s *Session) FetchHeaders(ctx context.Context, uids []uint32) ([]*domain.MessageHeader, error) {
	if len(uids) == 0 {
		return []*domain.MessageHeader{}, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags, imap.FetchRFC822Size, imap.FetchInternalDate, headerSection.FetchItem()}
	if s.caps.CondStore() {
		items = append(items, fetchModSeq)
	}

	messages, err := s.uidFetch(ctx, seqset, items, nil)
	if err != nil {
		return nil, err
	}

	headers := make([]*domain.MessageHeader, 0, len(messages))
	for _, msg := range messages {
		header, err := s.toHeader(msg)
		if err != nil {
			return nil, domain.NewError(domain.KindProtocol, "fetch headers", err)
		}
		headers = append(headers, header)
	}
	return headers, nil
}

func (s *Session) FetchFlags(ctx context.Context, uids []uint32, changedSince uint64) ([]*domain.FlagChange, error) {
	if err := s.requireSelected("fetch flags"); err != nil {
		return nil, err
	}
	return s.flagFetcher.fetchFlags(ctx, uids, changedSince)
}

func (s *Session) StoreFlags(ctx context.Context, uid uint32, add []string, remove []string) error {
	if err := s.requireSelected("store"); err != nil {
		return err
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	for _, op := range []struct {
		op    imap.FlagsOp
		flags []string
	}{
		{imap.AddFlags, add},
		{imap.RemoveFlags, remove},
	} {
		if len(op.flags) == 0 {
			continue
		}

		value := make([]interface{}, len(op.flags))
		for i, f := range op.flags {
			value[i] = imap.RawString(f)
		}

		store := &commands.Uid{Cmd: &commands.Store{
			SeqSet: seqset,
			Item:   imap.FormatFlagsOp(op.op, true),
			Value:  value,
		}}
		if err := s.execute(ctx, "store", store, nil); err != nil {
			return err
		}
	}

	s.l.WithFields(logrus.Fields{"folder": s.selected, "uid": uid, "add": add, "remove": remove}).Debug("Stored flags")
	return nil
}

func (s *Session) FetchBody(ctx context.Context, uid uint32) ([]byte, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	messages, err := s.uidFetch(ctx, seqset, []imap.FetchItem{imap.FetchUid, section.FetchItem()}, nil)
	if err != nil {
		return nil, err
	}

	for _, msg := range messages {
		if msg.Uid != uid {
			continue
		}
		body, err := readBody(msg)
		if err != nil {
			return nil, domain.NewError(domain.KindProtocol, "fetch body", err)
		}
		return body, nil
	}

	return nil, domain.NewError(domain.KindProtocol, "fetch body", fmt.Errorf("message %d not found in %s", uid, s.selected))
}

// uidFetch runs UID FETCH and collects the parsed messages. Unsolicited FETCH
// responses without a UID are dropped.
func (s *Session) uidFetch(ctx context.Context, seqset *imap.SeqSet, items []imap.FetchItem, modifiers []interface{}) ([]*imap.Message, error) {
	if err := s.requireSelected("fetch"); err != nil {
		return nil, err
	}

	fetch := (&commands.Fetch{SeqSet: seqset, Items: items}).Command()
	if len(modifiers) > 0 {
		fetch.Arguments = append(fetch.Arguments, modifiers)
	}

	messages := []*imap.Message{}
	cmd := &commands.Uid{Cmd: commandFunc(func() *imap.Command { return fetch })}
	err := s.execute(ctx, "fetch", cmd, func(resp imap.Resp) error {
		msg, ok, err := parseFetch(resp)
		if err != nil {
			return err
		}
		if ok && msg.Uid != 0 {
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return messages, nil
}

func (s *Session) requireSelected(op string) error {
	if s.selected == "" {
		return domain.NewError(domain.KindProtocol, op, errors.New("no folder selected"))
	}
	return nil
}

func (s *Session) Poll(ctx context.Context) ([]*domain.Notice, error) {
	notices := []*domain.Notice{}
	err := s.execute(ctx, "noop", &commands.Noop{}, func(resp imap.Resp) error {
		notice, ok, err := parseNotice(resp)
		if err != nil {
			return err
		}
		if ok {
			notices = append(notices, notice)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return notices, nil
}

// Logout ends the session and closes the connection, also when the server
// does not answer.
func (s *Session) Logout() error {
	defer s.conn.Close()

	if s.conn.broken != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
	defer cancel()

	err := s.execute(ctx, "logout", &commands.Logout{}, nil)
	if err != nil && domain.KindOf(err) != domain.KindTransport {
		return fmt.Errorf("could not logout: %w", err)
	}

	s.l.Debug("Logged out")
	return nil
}

func (s *Session) Close() error {
	return s.conn.Close()
}

func stringFields(fields []interface{}) []string {
	result := make([]string, 0, len(fields))
	for _, f := range fields {
		if str, err := imap.ParseString(f); err == nil {
			result = append(result, str)
		}
	}
	return result
}

func parseUint64(f interface{}) (uint64, error) {
	str, err := imap.ParseString(f)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(str, 10, 64)
}

func hasAttribute(attributes []string, attribute string) bool {
	for _, a := range attributes {
		if strings.EqualFold(a, attribute) {
			return true
		}
	}
	return false
}

var specialUse = []struct {
	attribute string
	role      domain.FolderRole
}{
	{`\Sent`, domain.RoleSent},
	{`\Drafts`, domain.RoleDrafts},
	{`\Trash`, domain.RoleTrash},
	{`\Junk`, domain.RoleSpam},
	{`\Archive`, domain.RoleArchive},
}

var wellKnownNames = map[string]domain.FolderRole{
	"sent":          domain.RoleSent,
	"sent items":    domain.RoleSent,
	"sent mail":     domain.RoleSent,
	"sent messages": domain.RoleSent,
	"drafts":        domain.RoleDrafts,
	"trash":         domain.RoleTrash,
	"deleted items": domain.RoleTrash,
	"bin":           domain.RoleTrash,
	"spam":          domain.RoleSpam,
	"junk":          domain.RoleSpam,
	"junk e-mail":   domain.RoleSpam,
	"archive":       domain.RoleArchive,
	"archives":      domain.RoleArchive,
}

func folderRole(info *imap.MailboxInfo) domain.FolderRole {
	if strings.EqualFold(info.Name, "INBOX") {
		return domain.RoleInbox
	}

	for _, su := range specialUse {
		if hasAttribute(info.Attributes, su.attribute) {
			return su.role
		}
	}

	name := info.Name
	if info.Delimiter != "" {
		if i := strings.LastIndex(name, info.Delimiter); i >= 0 {
			name = name[i+len(info.Delimiter):]
		}
	}
	return wellKnownNames[strings.ToLower(name)]
}
