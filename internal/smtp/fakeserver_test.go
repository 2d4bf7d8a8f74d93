package smtp

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"fmt"
	"math/big"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type receivedMessage struct {
	From string
	To   string
	Data string
}

type fakeServer struct {
	t  *testing.T
	ln net.Listener

	banner            string
	advertiseStartTLS bool
	startTLSReply     string
	username          string
	password          string
	rejectRcpt        map[string]string
	rejectData        map[string]string

	// tlsConfig enables STARTTLS upgrades; with implicitTLS every accepted
	// connection is TLS from the first byte.
	tlsConfig   *tls.Config
	implicitTLS bool

	mu             sync.Mutex
	conns          int
	commands       []string
	secureCommands []string
	messages       []receivedMessage
	wg             sync.WaitGroup
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeServer{
		t:             t,
		ln:            ln,
		banner:        "220 fake.local ESMTP ready",
		startTLSReply: "454 4.7.0 TLS not available",
		rejectRcpt:    map[string]string{},
		rejectData:    map[string]string{},
	}
	t.Cleanup(func() {
		ln.Close()
		s.wg.Wait()
	})
	return s
}

func (s *fakeServer) start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.ln.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.conns++
			s.mu.Unlock()
			secure := false
			if s.implicitTLS {
				conn = tls.Server(conn, s.tlsConfig)
				secure = true
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handle(conn, secure)
			}()
		}
	}()
}

func (s *fakeServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

func (s *fakeServer) received() []receivedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]receivedMessage(nil), s.messages...)
}

func (s *fakeServer) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *fakeServer) seenOverTLS() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.secureCommands...)
}

func (s *fakeServer) handle(conn net.Conn, secure bool) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	reply := func(line string) {
		fmt.Fprintf(conn, "%s\r\n", line)
	}
	readLine := func() (string, bool) {
		line, err := r.ReadString('\n')
		if err != nil {
			return "", false
		}
		return strings.TrimRight(line, "\r\n"), true
	}

	reply(s.banner)
	if !strings.HasPrefix(s.banner, "220") {
		return
	}

	var from, to string
	for {
		line, ok := readLine()
		if !ok {
			return
		}
		verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
		s.mu.Lock()
		s.commands = append(s.commands, verb)
		if secure {
			s.secureCommands = append(s.secureCommands, verb)
		}
		s.mu.Unlock()

		switch {
		case verb == "EHLO":
			reply("250-fake.local greets you")
			if s.advertiseStartTLS && !secure {
				reply("250-STARTTLS")
			}
			reply("250-AUTH LOGIN PLAIN")
			reply("250 8BITMIME")
		case verb == "STARTTLS":
			if s.tlsConfig == nil || secure {
				reply(s.startTLSReply)
				continue
			}
			reply("220 2.0.0 Ready to start TLS")
			tlsConn := tls.Server(conn, s.tlsConfig)
			if err := tlsConn.Handshake(); err != nil {
				return
			}
			conn, r, secure = tlsConn, bufio.NewReader(tlsConn), true
			from, to = "", ""
		case strings.HasPrefix(strings.ToUpper(line), "AUTH LOGIN"):
			reply("334 VXNlcm5hbWU6")
			user, ok := readLine()
			if !ok {
				return
			}
			reply("334 UGFzc3dvcmQ6")
			pass, ok := readLine()
			if !ok {
				return
			}
			u, _ := base64.StdEncoding.DecodeString(user)
			p, _ := base64.StdEncoding.DecodeString(pass)
			if string(u) == s.username && string(p) == s.password {
				reply("235 2.7.0 Authentication successful")
			} else {
				reply("535 5.7.8 Authentication credentials invalid")
			}
		case verb == "MAIL":
			from = extractPath(line)
			reply("250 2.1.0 OK")
		case verb == "RCPT":
			to = extractPath(line)
			if rej, ok := s.rejectRcpt[to]; ok {
				reply(rej)
				continue
			}
			reply("250 2.1.5 OK")
		case verb == "DATA":
			reply("354 End data with <CR><LF>.<CR><LF>")
			var data strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				data.WriteString(l)
			}
			if rej, ok := s.rejectData[to]; ok {
				reply(rej)
				continue
			}
			s.mu.Lock()
			s.messages = append(s.messages, receivedMessage{From: from, To: to, Data: data.String()})
			s.mu.Unlock()
			reply("250 2.0.0 queued")
		case verb == "RSET":
			from, to = "", ""
			reply("250 2.0.0 OK")
		case verb == "QUIT":
			reply("221 2.0.0 Bye")
			return
		default:
			reply("502 5.5.2 Command not recognized")
		}
	}
}

func extractPath(line string) string {
	start := strings.IndexByte(line, '<')
	end := strings.LastIndexByte(line, '>')
	if start < 0 || end <= start {
		return ""
	}
	return line[start+1 : end]
}

// newTestTLS returns a server config with a self-signed certificate for
// 127.0.0.1 and a client config that trusts it.
func newTestTLS(t *testing.T) (server, client *tls.Config) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "fake.local"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(leaf)

	server = &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}},
		MinVersion:   tls.VersionTLS12,
	}
	client = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	return server, client
}
