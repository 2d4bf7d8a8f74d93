package smtp

import (
	"fmt"
	"net/textproto"

	"github.com/pkg/errors"
)

// Stage names the protocol step an error happened in
type Stage string

const (
	StageConnect   Stage = "connect"
	StageGreeting  Stage = "greeting"
	StageEHLO      Stage = "ehlo"
	StageStartTLS  Stage = "starttls"
	StageAuth      Stage = "auth"
	StageMail      Stage = "mail"
	StageRcpt      Stage = "rcpt"
	StageData      Stage = "data"
	StageContent   Stage = "content"
	StageDataFinal Stage = "data-final"
)

var errSessionBroken = errors.New("session is no longer usable")

// ConnectError is fatal to the whole session: the transport could not be
// established or the server refused the handshake.
type ConnectError struct {
	Stage Stage
	Code  int
	Text  string
	Err   error
}

func (e *ConnectError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("smtp connect failed at %s: %d %s", e.Stage, e.Code, e.Text)
	}
	return fmt.Sprintf("smtp connect failed at %s: %v", e.Stage, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// AuthError is fatal to the whole session: AUTH LOGIN was not accepted.
type AuthError struct {
	Code int
	Text string
	Err  error
}

func (e *AuthError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("smtp auth failed: %d %s", e.Code, e.Text)
	}
	return fmt.Sprintf("smtp auth failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RejectedError is scoped to one recipient. The session stays usable.
type RejectedError struct {
	Stage Stage
	Code  int
	Text  string
}

func (e *RejectedError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("smtp %s rejected: %d %s", e.Stage, e.Code, e.Text)
	}
	return fmt.Sprintf("smtp %s rejected: %s", e.Stage, e.Text)
}

// TransmissionError is scoped to one recipient but means the transport
// failed mid-conversation; later sends on the same session fail fast.
type TransmissionError struct {
	Stage Stage
	Err   error
}

func (e *TransmissionError) Error() string {
	return fmt.Sprintf("smtp transmission failed at %s: %v", e.Stage, e.Err)
}

func (e *TransmissionError) Unwrap() error { return e.Err }

// IsSessionFatal reports whether err makes the whole session unusable
func IsSessionFatal(err error) bool {
	var ce *ConnectError
	var ae *AuthError
	return errors.As(err, &ce) || errors.As(err, &ae)
}

// replyOf extracts the status code and text of a protocol-level reply
func replyOf(err error) (int, string, bool) {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code, tpErr.Msg, true
	}
	return 0, "", false
}

func connectError(stage Stage, err error) *ConnectError {
	if code, text, ok := replyOf(err); ok {
		return &ConnectError{Stage: stage, Code: code, Text: text, Err: err}
	}
	return &ConnectError{Stage: stage, Err: err}
}

func authError(err error) *AuthError {
	if code, text, ok := replyOf(err); ok {
		return &AuthError{Code: code, Text: text, Err: err}
	}
	return &AuthError{Err: err}
}
