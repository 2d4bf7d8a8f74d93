package smtp

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"net"
	"net/mail"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"clubmailer/internal/models"
)

// DefaultTimeout bounds every individual protocol step
const DefaultTimeout = 30 * time.Second

// Options tunes how a session is opened
type Options struct {
	Timeout   time.Duration
	LocalName string
	TLSConfig *tls.Config
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.LocalName == "" {
		o.LocalName = "localhost"
	}
	return o
}

func (o Options) tlsConfig(host string) *tls.Config {
	if o.TLSConfig != nil {
		cfg := o.TLSConfig.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}
		return cfg
	}
	return &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
}

// Session is one SMTP connection reused for many recipients. It is not safe
// for concurrent use.
type Session struct {
	conn         net.Conn
	text         *textproto.Conn
	host         string
	mode         models.SecureMode
	opts         Options
	ext          map[string]string
	envelopeFrom string
	ready        bool
	broken       bool
}

// Open dials the server and reads the 220 greeting. With SecureModeSSL the
// TLS handshake happens before the greeting.
func Open(ctx context.Context, host string, port int, mode models.SecureMode, opts Options) (*Session, error) {
	opts = opts.withDefaults()
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	netDialer := &net.Dialer{Timeout: opts.Timeout}
	var conn net.Conn
	var err error
	if mode == models.SecureModeSSL {
		tlsDialer := &tls.Dialer{NetDialer: netDialer, Config: opts.tlsConfig(host)}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = netDialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, &ConnectError{Stage: StageConnect, Err: errors.Wrapf(err, "dial %s", addr)}
	}

	s := &Session{
		conn: conn,
		text: textproto.NewConn(conn),
		host: host,
		mode: mode,
		opts: opts,
	}

	s.setDeadline(ctx)
	if _, _, err := s.text.ReadResponse(220); err != nil {
		s.text.Close()
		return nil, connectError(StageGreeting, err)
	}
	return s, nil
}

// Handshake runs EHLO, optional STARTTLS and optional AUTH LOGIN. On success
// the session is ready to send.
func (s *Session) Handshake(ctx context.Context, creds models.SMTPCredentials) error {
	if err := s.ehlo(ctx); err != nil {
		s.broken = true
		return connectError(StageEHLO, err)
	}

	if s.mode == models.SecureModeTLS {
		if _, ok := s.ext["STARTTLS"]; ok {
			if err := s.startTLS(ctx); err != nil {
				s.broken = true
				return err
			}
		}
	}

	if creds.Username != "" {
		if err := s.authLogin(ctx, creds.Username, creds.Password); err != nil {
			s.broken = true
			return err
		}
		s.envelopeFrom = creds.Username
	}

	s.ready = true
	return nil
}

// Extension reports whether the server advertised the EHLO keyword
func (s *Session) Extension(name string) (string, bool) {
	params, ok := s.ext[strings.ToUpper(name)]
	return params, ok
}

func (s *Session) ehlo(ctx context.Context) error {
	_, msg, err := s.cmd(ctx, 250, "EHLO %s", s.opts.LocalName)
	if err != nil {
		return err
	}
	ext := make(map[string]string)
	lines := strings.Split(msg, "\n")
	for _, line := range lines[1:] {
		keyword, params, _ := strings.Cut(line, " ")
		ext[strings.ToUpper(keyword)] = params
	}
	s.ext = ext
	return nil
}

func (s *Session) startTLS(ctx context.Context) error {
	if _, _, err := s.cmd(ctx, 220, "STARTTLS"); err != nil {
		return connectError(StageStartTLS, err)
	}

	tlsConn := tls.Client(s.conn, s.opts.tlsConfig(s.host))
	s.setDeadline(ctx)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return connectError(StageStartTLS, errors.Wrap(err, "tls handshake"))
	}
	s.conn = tlsConn
	s.text = textproto.NewConn(tlsConn)

	if err := s.ehlo(ctx); err != nil {
		return connectError(StageEHLO, err)
	}
	return nil
}

func (s *Session) authLogin(ctx context.Context, username, password string) error {
	if _, _, err := s.cmd(ctx, 334, "AUTH LOGIN"); err != nil {
		return authError(err)
	}
	if _, _, err := s.cmd(ctx, 334, "%s", base64.StdEncoding.EncodeToString([]byte(username))); err != nil {
		return authError(err)
	}
	if _, _, err := s.cmd(ctx, 235, "%s", base64.StdEncoding.EncodeToString([]byte(password))); err != nil {
		return authError(err)
	}
	return nil
}

// Send delivers one message. A *RejectedError leaves the session usable for
// the next recipient; a *TransmissionError marks it broken.
func (s *Session) Send(ctx context.Context, msg *Message) error {
	if !s.ready {
		return &TransmissionError{Stage: StageMail, Err: errors.New("handshake not completed")}
	}
	if s.broken {
		return &TransmissionError{Stage: StageMail, Err: errSessionBroken}
	}
	if err := ctx.Err(); err != nil {
		return &TransmissionError{Stage: StageMail, Err: err}
	}

	from := s.envelopeFrom
	if from == "" {
		from = msg.FromEmail
	}
	if !validEnvelopeSender(from) {
		return &RejectedError{Stage: StageMail, Text: "invalid envelope sender " + strconv.Quote(from)}
	}
	if !validAddress(msg.To) {
		return &RejectedError{Stage: StageRcpt, Text: "invalid recipient " + strconv.Quote(msg.To)}
	}

	content := msg.Build()

	if _, _, err := s.cmd(ctx, 250, "MAIL FROM:<%s>", from); err != nil {
		return s.abort(ctx, StageMail, err)
	}
	if _, _, err := s.cmd(ctx, 25, "RCPT TO:<%s>", msg.To); err != nil {
		return s.abort(ctx, StageRcpt, err)
	}
	if _, _, err := s.cmd(ctx, 354, "DATA"); err != nil {
		return s.abort(ctx, StageData, err)
	}

	s.setDeadline(ctx)
	if err := s.writeData(content); err != nil {
		s.broken = true
		return &TransmissionError{Stage: StageContent, Err: err}
	}
	if _, _, err := s.text.ReadResponse(250); err != nil {
		if code, text, ok := replyOf(err); ok {
			return &RejectedError{Stage: StageDataFinal, Code: code, Text: text}
		}
		s.broken = true
		return &TransmissionError{Stage: StageDataFinal, Err: err}
	}
	return nil
}

// Close sends QUIT when the session is still healthy and releases the
// connection. It is safe to call more than once.
func (s *Session) Close() error {
	if s.text == nil {
		return nil
	}
	if !s.broken {
		s.setDeadline(context.Background())
		if err := s.text.PrintfLine("QUIT"); err == nil {
			s.text.ReadResponse(221)
		}
	}
	err := s.text.Close()
	s.text = nil
	s.conn = nil
	s.ready = false
	return err
}

// abort turns a failed transaction step into a per-recipient error and
// resets the transaction so the session can carry on.
func (s *Session) abort(ctx context.Context, stage Stage, err error) error {
	code, text, ok := replyOf(err)
	if !ok {
		s.broken = true
		return &TransmissionError{Stage: stage, Err: err}
	}
	if _, _, rerr := s.cmd(ctx, 250, "RSET"); rerr != nil {
		s.broken = true
	}
	return &RejectedError{Stage: stage, Code: code, Text: text}
}

func (s *Session) cmd(ctx context.Context, expect int, format string, args ...any) (int, string, error) {
	s.setDeadline(ctx)
	if err := s.text.PrintfLine(format, args...); err != nil {
		return 0, "", err
	}
	return s.text.ReadResponse(expect)
}

func (s *Session) writeData(content []byte) error {
	if _, err := s.text.W.Write(content); err != nil {
		return err
	}
	if _, err := s.text.W.WriteString(".\r\n"); err != nil {
		return err
	}
	return s.text.W.Flush()
}

func (s *Session) setDeadline(ctx context.Context) {
	deadline := time.Now().Add(s.opts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	s.conn.SetDeadline(deadline)
}

// validEnvelopeSender only keeps the reverse-path from breaking the command
// line; whether it is acceptable is up to the server.
func validEnvelopeSender(from string) bool {
	return from != "" && !strings.ContainsAny(from, "<>\r\n")
}

func validAddress(addr string) bool {
	if addr == "" || strings.ContainsAny(addr, "<>\r\n") {
		return false
	}
	parsed, err := mail.ParseAddress(addr)
	return err == nil && parsed.Address == addr
}
