package smtp

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime/quotedprintable"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// maxEncodedChunk keeps each RFC 2047 encoded-word under 75 characters
const maxEncodedChunk = 45

// Message is one HTML email for one recipient
type Message struct {
	FromName  string
	FromEmail string
	To        string
	Subject   string
	HTMLBody  string
	Headers   map[string]string
	MessageID string
	Date      time.Time
}

// Build renders the DATA payload: headers and a quoted-printable HTML body,
// CRLF line endings, dot-stuffed. The terminating "." line is not included.
func (m *Message) Build() []byte {
	if m.MessageID == "" {
		m.MessageID = NewMessageID(m.FromEmail)
	}
	date := m.Date
	if date.IsZero() {
		date = time.Now()
	}

	var buf bytes.Buffer
	writeHeader(&buf, "From", formatAddress(m.FromName, m.FromEmail))
	writeHeader(&buf, "To", "<"+m.To+">")
	writeHeader(&buf, "Subject", encodeHeader(sanitizeHeader(m.Subject)))
	writeHeader(&buf, "Date", date.Format(time.RFC1123Z))
	writeHeader(&buf, "Message-ID", m.MessageID)
	writeHeader(&buf, "MIME-Version", "1.0")
	writeHeader(&buf, "Content-Type", "text/html; charset=UTF-8")
	writeHeader(&buf, "Content-Transfer-Encoding", "quoted-printable")

	keys := make([]string, 0, len(m.Headers))
	for k := range m.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeHeader(&buf, sanitizeHeader(k), encodeHeader(sanitizeHeader(m.Headers[k])))
	}
	buf.WriteString("\r\n")

	var body bytes.Buffer
	qp := quotedprintable.NewWriter(&body)
	qp.Write(normalizeCRLF([]byte(m.HTMLBody)))
	qp.Close()
	buf.Write(normalizeCRLF(body.Bytes()))

	out := buf.Bytes()
	if !bytes.HasSuffix(out, []byte("\r\n")) {
		out = append(out, '\r', '\n')
	}
	return dotStuff(out)
}

// NewMessageID returns a unique Message-ID scoped to the sender's domain
func NewMessageID(fromEmail string) string {
	domain := "localhost"
	if i := strings.LastIndexByte(fromEmail, '@'); i >= 0 && i < len(fromEmail)-1 {
		domain = fromEmail[i+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

func writeHeader(buf *bytes.Buffer, name, value string) {
	buf.WriteString(name)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

func formatAddress(name, addr string) string {
	name = sanitizeHeader(name)
	if name == "" {
		return "<" + addr + ">"
	}
	if !isPrintableASCII(name) {
		return encodeHeader(name) + " <" + addr + ">"
	}
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(name)
	return `"` + escaped + `" <` + addr + ">"
}

// encodeHeader applies RFC 2047 base64 encoding when s is not plain ASCII
func encodeHeader(s string) string {
	if isPrintableASCII(s) {
		return s
	}
	var words []string
	for len(s) > 0 {
		n := 0
		for n < len(s) {
			_, size := utf8.DecodeRuneInString(s[n:])
			if n+size > maxEncodedChunk {
				break
			}
			n += size
		}
		words = append(words, "=?UTF-8?B?"+base64.StdEncoding.EncodeToString([]byte(s[:n]))+"?=")
		s = s[n:]
	}
	return strings.Join(words, "\r\n ")
}

func isPrintableASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", "", "\n", " ").Replace(strings.TrimSpace(s))
}

// normalizeCRLF converts bare CR and bare LF line endings to CRLF
func normalizeCRLF(b []byte) []byte {
	b = bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
	b = bytes.ReplaceAll(b, []byte("\r"), []byte("\n"))
	return bytes.ReplaceAll(b, []byte("\n"), []byte("\r\n"))
}

// dotStuff doubles a leading "." on every line of CRLF-terminated content
func dotStuff(b []byte) []byte {
	var out bytes.Buffer
	out.Grow(len(b) + 16)
	for _, line := range bytes.SplitAfter(b, []byte("\r\n")) {
		if len(line) > 0 && line[0] == '.' {
			out.WriteByte('.')
		}
		out.Write(line)
	}
	return out.Bytes()
}
