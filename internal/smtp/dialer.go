package smtp

import (
	"context"

	"github.com/rs/zerolog"

	"clubmailer/internal/logger"
	"clubmailer/internal/models"
)

// Transport sends messages over an established, authenticated session
type Transport interface {
	Send(ctx context.Context, msg *Message) error
	Close() error
}

// Opener establishes a Transport for a tenant's credentials
type Opener interface {
	Open(ctx context.Context, creds models.SMTPCredentials) (Transport, error)
}

// Dialer opens real SMTP sessions
type Dialer struct {
	Options Options
}

// NewDialer creates a new Dialer
func NewDialer(opts Options) *Dialer {
	return &Dialer{Options: opts}
}

// Open connects and completes the handshake. Any failure is a
// *ConnectError or *AuthError and no connection is left open.
func (d *Dialer) Open(ctx context.Context, creds models.SMTPCredentials) (Transport, error) {
	s, err := Open(ctx, creds.Host, creds.Port, creds.SecureMode, d.Options)
	if err != nil {
		return nil, err
	}
	if err := s.Handshake(ctx, creds); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// SendMail opens a session, sends a single message and closes it
func SendMail(ctx context.Context, opener Opener, creds models.SMTPCredentials, msg *Message) error {
	t, err := opener.Open(ctx, creds)
	if err != nil {
		return err
	}
	defer t.Close()
	return t.Send(ctx, msg)
}

// DryRunDialer accepts every message without touching the network
type DryRunDialer struct {
	Logger zerolog.Logger
}

// Open implements Opener
func (d *DryRunDialer) Open(ctx context.Context, creds models.SMTPCredentials) (Transport, error) {
	d.Logger.Info().
		Str("host", creds.Host).
		Int("port", creds.Port).
		Msg("dry run: session opened")
	return &dryRunTransport{log: d.Logger}, nil
}

type dryRunTransport struct {
	log  zerolog.Logger
	sent int
}

func (t *dryRunTransport) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return &TransmissionError{Stage: StageMail, Err: err}
	}
	if !validAddress(msg.To) {
		return &RejectedError{Stage: StageRcpt, Text: "invalid recipient"}
	}
	t.sent++
	t.log.Info().
		Str("to", logger.RedactEmail(msg.To)).
		Str("subject", msg.Subject).
		Msg("dry run: message not sent")
	return nil
}

func (t *dryRunTransport) Close() error {
	t.log.Debug().Int("sent", t.sent).Msg("dry run: session closed")
	return nil
}
