package smtp

import (
	"encoding/base64"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMessage_Build(t *testing.T) {
	msg := &Message{
		FromName:  "Chess Club",
		FromEmail: "news@example.com",
		To:        "member@example.org",
		Subject:   "Weekly update",
		HTMLBody:  "<p>Hello</p>\n<p>Bye</p>",
		Date:      time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	raw := string(msg.Build())

	assert.Contains(t, raw, "From: \"Chess Club\" <news@example.com>\r\n")
	assert.Contains(t, raw, "To: <member@example.org>\r\n")
	assert.Contains(t, raw, "Subject: Weekly update\r\n")
	assert.Contains(t, raw, "Date: Fri, 01 Mar 2024 10:00:00 +0000\r\n")
	assert.Contains(t, raw, "MIME-Version: 1.0\r\n")
	assert.Contains(t, raw, "Content-Type: text/html; charset=UTF-8\r\n")
	assert.Contains(t, raw, "Content-Transfer-Encoding: quoted-printable\r\n")
	assert.Contains(t, raw, "\r\n\r\n<p>Hello</p>\r\n<p>Bye</p>\r\n")
	assert.Regexp(t, regexp.MustCompile(`Message-ID: <[0-9a-f-]{36}@example\.com>\r\n`), raw)
	assert.True(t, strings.HasSuffix(raw, "\r\n"))
	assert.NotContains(t, strings.ReplaceAll(raw, "\r\n", ""), "\n")
}

func TestMessage_BuildKeepsMessageID(t *testing.T) {
	msg := &Message{FromEmail: "a@example.com", To: "b@example.org", MessageID: "<fixed@example.com>"}
	assert.Contains(t, string(msg.Build()), "Message-ID: <fixed@example.com>\r\n")
}

func TestMessage_ExtraHeadersSanitized(t *testing.T) {
	msg := &Message{
		FromEmail: "a@example.com",
		To:        "b@example.org",
		Subject:   "Hi\r\nBcc: victim@example.org",
		Headers:   map[string]string{"X-Campaign-ID": "42"},
	}
	raw := string(msg.Build())
	assert.Contains(t, raw, "X-Campaign-ID: 42\r\n")
	assert.NotContains(t, raw, "\r\nBcc:")
}

func TestMessage_NonASCIIHeaders(t *testing.T) {
	msg := &Message{
		FromName:  "Club Échecs",
		FromEmail: "news@example.com",
		To:        "b@example.org",
		Subject:   "Café ☕",
	}
	raw := string(msg.Build())
	assert.Contains(t, raw, "Subject: =?UTF-8?B?"+base64.StdEncoding.EncodeToString([]byte("Café ☕"))+"?=\r\n")
	assert.Contains(t, raw, "From: =?UTF-8?B?"+base64.StdEncoding.EncodeToString([]byte("Club Échecs"))+"?= <news@example.com>\r\n")
}

func TestEncodeHeader_SplitsLongValues(t *testing.T) {
	long := strings.Repeat("é", 60)
	encoded := encodeHeader(long)

	words := strings.Split(encoded, "\r\n ")
	assert.Greater(t, len(words), 1)

	var decoded strings.Builder
	for _, w := range words {
		assert.LessOrEqual(t, len(w), 75)
		assert.True(t, strings.HasPrefix(w, "=?UTF-8?B?"))
		b, err := base64.StdEncoding.DecodeString(strings.TrimSuffix(strings.TrimPrefix(w, "=?UTF-8?B?"), "?="))
		assert.NoError(t, err)
		decoded.Write(b)
	}
	assert.Equal(t, long, decoded.String())
}

func TestEncodeHeader_ASCIIUnchanged(t *testing.T) {
	assert.Equal(t, "Plain subject", encodeHeader("Plain subject"))
}

func TestNormalizeCRLF(t *testing.T) {
	assert.Equal(t, "a\r\nb\r\nc\r\nd", string(normalizeCRLF([]byte("a\nb\r\nc\rd"))))
}

func TestDotStuff(t *testing.T) {
	in := ".start\r\nmiddle\r\n.\r\n..two\r\nend.\r\n"
	assert.Equal(t, "..start\r\nmiddle\r\n..\r\n...two\r\nend.\r\n", string(dotStuff([]byte(in))))
}

func TestFormatAddress(t *testing.T) {
	assert.Equal(t, "<a@example.com>", formatAddress("", "a@example.com"))
	assert.Equal(t, `"Say \"hi\"" <a@example.com>`, formatAddress(`Say "hi"`, "a@example.com"))
}

func TestNewMessageID(t *testing.T) {
	a := NewMessageID("x@club.org")
	b := NewMessageID("x@club.org")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasSuffix(a, "@club.org>"))
	assert.True(t, strings.HasSuffix(NewMessageID("broken"), "@localhost>"))
}
