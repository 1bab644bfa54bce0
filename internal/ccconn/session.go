package ccconn

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/lburgey/ncdc-core/internal/ccconn/dialect"
	"github.com/lburgey/ncdc-core/internal/ccerr"
	"github.com/lburgey/ncdc-core/internal/tlstrust"
)

// Role is everything a Session needs once it knows (or has resolved) which
// peer is on the other end of the socket: which side of the transfer it
// plays, the collaborator that drives that side, and the keyprint to check
// the TLS certificate against, per spec.md §4.F/§5.
type Role struct {
	Direction  TransferDirection
	Downloader *Downloader // set when Direction == Download
	Uploader   *Uploader   // set when Direction == Upload
	Keyprint   string      // expected peer TLS fingerprint; empty skips the check

	// FileID/FileType identify the resource a Downloader role requests.
	// Meaningless for an Upload role, which learns this from the peer's GET.
	FileID   string
	FileType dialect.FileType
}

// Config carries everything a Session needs to drive one CC end-to-end.
type Config struct {
	Conn net.Conn

	// Dialed is true when this side originated the TCP connection (the
	// active side of spec.md §4.F's Conn state), which also means this
	// side picks the wire dialect and speaks first. An accepted connection
	// instead sniffs the peer's first line to learn the dialect.
	Dialed  bool
	Dialect dialect.Dialect // required when Dialed

	LocalNick  string // ADC CID / NMDC nick this side announces
	LocalToken string // ADC active-mode token; empty when passive

	// TLS, set non-nil, makes the Session peek the first byte for a TLS
	// record and, if found, run a server-side handshake before anything
	// else touches the wire.
	TLS *tls.Config

	EstBytesPerSec int64

	// Role is used directly when Resolve is nil (the dialing side already
	// knows who it's calling and why). Resolve is used for accepted
	// connections, which only learn the peer's identity during the
	// handshake; it is called with the identity string the peer announced.
	Role    Role
	Resolve func(peerUID string) (Role, error)

	Registry *Registry
	Timeout  time.Duration

	// OnDisconnect runs once, after the socket is closed and the CC has
	// reached Disconn (e.g. hublink.Adapter.MarkDisconnected).
	OnDisconnect func()
	Logf         func(msg string, args ...any)
}

// errSessionDone signals the Idle loop that there is nothing further to
// fetch for this Dl right now and the Session should close out cleanly.
var errSessionDone = fmt.Errorf("ccconn: nothing left to request")

// Session drives one CC through spec.md §4.F's state machine: Conn ->
// Handshake -> Idle -> Transfer -> Disconn. Dialect sniffing, handshake
// sequencing, and the Idle/Transfer request loop all live here; Registry,
// Throttler, Uploader, and Downloader only implement the individual
// decisions the loop calls out to.
type Session struct {
	cfg Config
	CC  *CC

	conn net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer

	dial dialect.Dialect

	peerUID   string
	peerLock  string
	peerPk    string
	peerCert  *x509.Certificate
	localLock string

	role Role
}

// NewSession builds a Session for one accepted or dialed socket. id should
// be unique per connection (e.g. a counter or uuid); it is only used as the
// Registry's map key, not as the peer's identity.
func NewSession(id string, cfg Config) *Session {
	return &Session{
		cfg:  cfg,
		CC:   New(id),
		conn: cfg.Conn,
	}
}

// Run drives the Session to completion: TLS upgrade, handshake, role
// resolution, and the Idle/Transfer loop until the peer disconnects, ctx is
// cancelled, or a fatal error occurs. It always leaves the CC in Disconn
// and the socket closed before returning.
func (s *Session) Run(ctx context.Context) error {
	s.CC.SetState(Conn)
	if s.cfg.Registry != nil {
		s.cfg.Registry.Add(s.CC)
	}

	defer s.teardown()

	if err := s.maybeUpgradeTLS(ctx); err != nil {
		return err
	}

	s.CC.SetState(Handshake)
	if err := s.handshake(); err != nil {
		return err
	}

	if err := s.resolveRole(); err != nil {
		return err
	}
	s.CC.Direction = s.role.Direction

	if s.cfg.Registry != nil {
		if err := s.cfg.Registry.Identify(s.CC, s.peerUID, s.role.Direction); err != nil {
			return err
		}
	}

	if s.peerCert != nil && s.role.Keyprint != "" {
		if err := tlstrust.VerifyPeerKeyprint(s.peerCert, s.role.Keyprint); err != nil {
			return ccerr.Protocol(true, fmt.Errorf("ccconn: %w", err))
		}
	}

	s.CC.SetState(Idle)
	return s.loop(ctx)
}

func (s *Session) teardown() {
	if s.cfg.Registry != nil {
		s.cfg.Registry.MarkDisconn(s.CC, time.Now())
	} else {
		s.CC.SetState(Disconn)
	}
	s.conn.Close()
	if s.cfg.OnDisconnect != nil {
		s.cfg.OnDisconnect()
	}
}

func (s *Session) logf(msg string, args ...any) {
	if s.cfg.Logf != nil {
		s.cfg.Logf(msg, args...)
	}
}

// resolveRole fills s.role either from the static Config.Role (the dialing
// side, which already knows what it's here for) or by calling Resolve with
// the identity the peer just announced (the accepting side).
func (s *Session) resolveRole() error {
	if s.cfg.Resolve == nil {
		s.role = s.cfg.Role
		return nil
	}
	role, err := s.cfg.Resolve(s.peerUID)
	if err != nil {
		return ccerr.Protocol(true, fmt.Errorf("ccconn: resolve role for %s: %w", s.peerUID, err))
	}
	s.role = role
	return nil
}

// peekedConn lets a still-buffered bufio.Reader feed a tls.Server: Peek
// pulls bytes off the socket into br's buffer without consuming them from
// the stream's logical position, but crypto/tls reads straight from the
// net.Conn it's given, so that net.Conn's Read must go through br too.
type peekedConn struct {
	net.Conn
	br *bufio.Reader
}

func (p *peekedConn) Read(b []byte) (int, error) { return p.br.Read(b) }

func (s *Session) maybeUpgradeTLS(ctx context.Context) error {
	s.br = bufio.NewReader(s.conn)
	s.bw = bufio.NewWriter(s.conn)

	if s.cfg.TLS == nil {
		return nil
	}

	first, err := s.br.Peek(1)
	if err != nil {
		return ccerr.Network(fmt.Errorf("ccconn: peek: %w", err))
	}
	if !dialect.IsTLSRecordByte(first[0]) {
		return nil
	}

	if s.cfg.Timeout > 0 {
		_ = s.conn.SetDeadline(time.Now().Add(s.cfg.Timeout))
	}
	tlsConn := tls.Server(&peekedConn{Conn: s.conn, br: s.br}, s.cfg.TLS)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return ccerr.Network(fmt.Errorf("ccconn: tls handshake: %w", err))
	}
	if s.cfg.Timeout > 0 {
		_ = s.conn.SetDeadline(time.Time{})
	}

	certs := tlsConn.ConnectionState().PeerCertificates
	if len(certs) > 0 {
		s.peerCert = certs[0]
	}

	s.conn = tlsConn
	s.br = bufio.NewReader(s.conn)
	s.bw = bufio.NewWriter(s.conn)
	return nil
}

// handshake runs spec.md §4.F's Handshake state: whichever side dialed out
// announces first (it already knows which dialect to speak and who it's
// calling); the accepting side reads first, sniffing the dialect off the
// peer's leading byte.
func (s *Session) handshake() error {
	if s.cfg.Dialed {
		s.dial = s.cfg.Dialect
		s.CC.Dialect = s.dial.String()
		if err := s.sendAnnounce(); err != nil {
			return err
		}
		if err := s.recvAnnounce(); err != nil {
			return err
		}
	} else {
		if err := s.recvAnnounce(); err != nil {
			return err
		}
		if err := s.sendAnnounce(); err != nil {
			return err
		}
	}

	if s.dial == dialect.NMDC {
		return s.exchangeNMDCKey()
	}
	return nil
}

var adcFeatures = []string{"ADBASE", "ADTIGR"}

func (s *Session) sendAnnounce() error {
	switch s.dial {
	case dialect.ADC:
		if err := s.writeLine(dialect.FormatADCSup(adcFeatures)); err != nil {
			return err
		}
		return s.writeLine(dialect.FormatADCInf(s.cfg.LocalNick, s.cfg.LocalToken))
	case dialect.NMDC:
		if err := s.writeLine(dialect.FormatNMDCMyNick(s.cfg.LocalNick)); err != nil {
			return err
		}
		lock, pk := nmdcGenerateLock()
		s.localLock = lock
		if err := s.writeLine(dialect.FormatNMDCLock(lock, pk)); err != nil {
			return err
		}
		dir := "Upload"
		if s.cfg.Role.Direction == Download || s.cfg.Resolve != nil {
			// Accepting side doesn't know its role yet at announce time in
			// the general case; NMDC direction is only used by peers to
			// break upload/upload ties (whoever has the higher DirNum
			// wins), so an approximate value here is harmless.
			dir = "Download"
		}
		return s.writeLine(dialect.FormatNMDCDirection(dir, nmdcDirNum()))
	default:
		return ccerr.Protocol(false, fmt.Errorf("ccconn: no dialect chosen for outgoing handshake"))
	}
}

func (s *Session) recvAnnounce() error {
	required := map[string]bool{}
	seen := map[string]bool{}

	for {
		line, err := s.readLine()
		if err != nil {
			return err
		}

		if len(required) == 0 {
			if s.dial == dialect.ADC {
				required = map[string]bool{"CSUP": true, "CINF": true}
			} else {
				required = map[string]bool{"MyNick": true, "Lock": true, "Direction": true}
			}
		}

		if s.dial == dialect.ADC {
			kind, _, _, _, hs, err := dialect.ParseADCLine(line)
			if err != nil {
				return ccerr.Protocol(true, err)
			}
			if kind != "handshake" {
				return ccerr.Protocol(true, fmt.Errorf("ccconn: expected handshake, got %q", line))
			}
			if len(hs.Features) > 0 {
				seen["CSUP"] = true
			}
			if hs.CID != "" {
				s.peerUID = hs.CID
				seen["CINF"] = true
			}
		} else {
			kind, _, _, _, hs, err := dialect.ParseNMDCLine(line)
			if err != nil {
				return ccerr.Protocol(true, err)
			}
			if kind != "handshake" {
				return ccerr.Protocol(true, fmt.Errorf("ccconn: expected handshake, got %q", line))
			}
			for k, v := range hs {
				switch k {
				case "MyNick":
					s.peerUID = v
					seen["MyNick"] = true
				case "Lock":
					lock, pk := splitNMDCLock(v)
					s.peerLock, s.peerPk = lock, pk
					seen["Lock"] = true
				case "Direction":
					seen["Direction"] = true
				case "Supports":
					seen["Supports"] = true
				}
			}
		}

		done := true
		for k := range required {
			if !seen[k] {
				done = false
				break
			}
		}
		if done {
			return nil
		}
	}
}

// exchangeNMDCKey sends the $Key computed from the peer's announced $Lock
// and reads the peer's own $Key back. The lock-to-key transform itself
// (nmdcLock2Key) is the standard, publicly documented NMDC cipher; there is
// no slot-throttle-style pack file to ground it on, so this is implemented
// directly from the well-known algorithm rather than adapted from a
// specific source (see DESIGN.md).
func (s *Session) exchangeNMDCKey() error {
	key := nmdcLock2Key(s.peerLock)
	if err := s.writeLine(dialect.FormatNMDCKey(key)); err != nil {
		return err
	}

	line, err := s.readLine()
	if err != nil {
		return err
	}
	kind, _, _, _, hs, err := dialect.ParseNMDCLine(line)
	if err != nil {
		return ccerr.Protocol(true, err)
	}
	if kind != "handshake" {
		return ccerr.Protocol(true, fmt.Errorf("ccconn: expected $Key, got %q", line))
	}
	if _, ok := hs["Key"]; !ok {
		return ccerr.Protocol(true, fmt.Errorf("ccconn: expected $Key, got %q", line))
	}
	return nil
}

func splitNMDCLock(rest string) (lock, pk string) {
	if i := strings.Index(rest, " Pk="); i >= 0 {
		return rest[:i], rest[i+4:]
	}
	return rest, ""
}

func nmdcGenerateLock() (lock, pk string) {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return "EXTENDEDPROTOCOL" + hex.EncodeToString(buf), "ncdc-core"
}

func nmdcDirNum() int {
	var b [2]byte
	_, _ = rand.Read(b[:])
	return int(b[0])<<8 | int(b[1])
}

// nmdcLock2Key implements the DC++ NMDC "lock to key" transform: a fixed,
// publicly documented XOR/rotate cipher over the peer's announced lock
// string, with six special byte values escaped because they collide with
// the wire's own delimiters ('$', '|', and friends).
func nmdcLock2Key(lock string) string {
	l := []byte(lock)
	n := len(l)
	if n == 0 {
		return ""
	}

	last := l[n-1]
	secondLast := l[0]
	if n >= 2 {
		secondLast = l[n-2]
	}

	key := make([]byte, n)
	key[0] = l[0] ^ last ^ secondLast ^ 5
	for i := 1; i < n; i++ {
		key[i] = l[i] ^ l[i-1]
	}
	for i := range key {
		key[i] = (key[i] << 4) | (key[i] >> 4)
	}

	var out strings.Builder
	for _, b := range key {
		switch b {
		case 0x00, 0x05, 0x24, 0x60, 0x7c, 0x7e:
			fmt.Fprintf(&out, "/%%DCN%03d%%/", b)
		default:
			out.WriteByte(b)
		}
	}
	return out.String()
}

// loop runs spec.md §4.F's Idle/Transfer cycle until there's nothing left
// to do or an error ends the session.
func (s *Session) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var err error
		if s.role.Direction == Download {
			err = s.downloadRound()
		} else {
			err = s.uploadRound()
		}
		if err == errSessionDone {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (s *Session) downloadRound() error {
	get, ok, err := s.role.Downloader.NextRequest(s.role.FileID, s.role.FileType, s.cfg.EstBytesPerSec)
	if err != nil {
		return err
	}
	if !ok {
		return errSessionDone
	}

	if err := s.writeLine(s.formatGet(get)); err != nil {
		return err
	}

	line, err := s.readLine()
	if err != nil {
		return err
	}
	kind, _, send, status, err := s.parseLine(line)
	if err != nil {
		return err
	}
	if kind == "status" {
		return s.handleDownloadStatus(status)
	}
	if kind != "send" {
		return ccerr.Protocol(true, fmt.Errorf("ccconn: expected SND, got %q", line))
	}
	if err := s.role.Downloader.AcceptHeader(get, send); err != nil {
		return err
	}

	s.CC.SetState(Transfer)
	remaining := send.Bytes
	buf := make([]byte, 32*1024)
	for remaining > 0 {
		n := int64(len(buf))
		if n > remaining {
			n = remaining
		}
		if s.cfg.Timeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.Timeout))
		}
		if _, err := io.ReadFull(s.br, buf[:n]); err != nil {
			s.CC.SetState(Idle)
			return ccerr.Network(fmt.Errorf("ccconn: read body: %w", err))
		}
		if err := s.role.Downloader.RecvBody(buf[:n]); err != nil {
			s.CC.SetState(Idle)
			return err
		}
		remaining -= n
	}
	s.role.Downloader.Complete()
	s.CC.SetState(Idle)
	return nil
}

func (s *Session) handleDownloadStatus(st dialect.Status) error {
	switch st.Code {
	case dialect.StatusThrottled, dialect.StatusSlotsFull:
		time.Sleep(time.Second)
		return nil
	case dialect.StatusNoFile, dialect.StatusNoPart:
		return ccerr.NoFile(st.Msg)
	default:
		if st.IsFatal() {
			return ccerr.Protocol(true, fmt.Errorf("ccconn: fatal status %d %s", st.Code, st.Msg))
		}
		return ccerr.Protocol(true, fmt.Errorf("ccconn: status %q", st.Msg))
	}
}

func (s *Session) uploadRound() error {
	if s.cfg.Timeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.Timeout))
	}
	line, err := s.readLine()
	if err != nil {
		return err
	}
	kind, get, _, _, err := s.parseLine(line)
	if err != nil {
		return err
	}
	if kind != "get" {
		return ccerr.Protocol(true, fmt.Errorf("ccconn: expected GET, got %q", line))
	}

	send, status, granted, err := s.role.Uploader.Admit(get, time.Now())
	if err != nil {
		return err
	}
	if status.Code != 0 || status.Msg != "" {
		return s.writeLine(s.formatStatus(status))
	}
	if granted {
		s.CC.GrantSlot()
		s.role.Uploader.Granted = true
	}

	body, closer, err := s.openUploadBody(get, send)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	if err := s.writeLine(s.formatSend(send)); err != nil {
		return err
	}

	s.CC.SetState(Transfer)
	defer s.CC.SetState(Idle)

	if _, err := io.Copy(s.bw, body); err != nil {
		return ccerr.Network(fmt.Errorf("ccconn: write body: %w", err))
	}
	return s.bw.Flush()
}

func (s *Session) openUploadBody(get dialect.Get, send dialect.Send) (io.Reader, io.Closer, error) {
	if get.Type == dialect.TypeList {
		data, err := s.role.Uploader.Share.FileList(context.Background(), get.ID)
		if err != nil {
			return nil, nil, ccerr.IO(fmt.Errorf("ccconn: build file list: %w", err))
		}
		return bytes.NewReader(data), nil, nil
	}
	if get.Type == dialect.TypeTTHL {
		// TODO: serve tthl leaf bytes once a ShareIndex accessor exposes
		// raw leaf bytes for transfer; dlqueue.HashTreeStore only exposes
		// Leaf lookups for verification, not a byte stream to send.
		return nil, nil, ccerr.Protocol(true, fmt.Errorf("ccconn: tthl transfer not implemented"))
	}

	entry, ok := s.role.Uploader.Share.ResolvePath(get.ID)
	if !ok {
		return nil, nil, ccerr.NoFile(get.ID)
	}
	f, err := os.Open(entry.LocalPath)
	if err != nil {
		return nil, nil, ccerr.IO(fmt.Errorf("ccconn: open share file: %w", err))
	}
	if _, err := f.Seek(send.Start, io.SeekStart); err != nil {
		f.Close()
		return nil, nil, ccerr.IO(fmt.Errorf("ccconn: seek: %w", err))
	}
	return io.LimitReader(f, send.Bytes), f, nil
}

func (s *Session) formatGet(g dialect.Get) string {
	if s.dial == dialect.ADC {
		return dialect.FormatADCGet(g)
	}
	return dialect.FormatNMDCGet(g)
}

func (s *Session) formatSend(snd dialect.Send) string {
	if s.dial == dialect.ADC {
		return dialect.FormatADCSend(snd)
	}
	return dialect.FormatNMDCSend(snd)
}

func (s *Session) formatStatus(st dialect.Status) string {
	if s.dial == dialect.ADC {
		return dialect.FormatADCStatus(st)
	}
	if st.Code == dialect.StatusSlotsFull {
		return dialect.FormatNMDCMaxedOut()
	}
	return dialect.FormatNMDCError(st.Msg)
}

func (s *Session) parseLine(line string) (kind string, get dialect.Get, send dialect.Send, status dialect.Status, err error) {
	if s.dial == dialect.ADC {
		k, g, sn, st, _, e := dialect.ParseADCLine(line)
		return k, g, sn, st, e
	}
	k, g, sn, st, _, e := dialect.ParseNMDCLine(line)
	return k, g, sn, st, e
}

// readLine reads one handshake/protocol line, sniffing the dialect off the
// leading byte the first time it's called on an accepted connection.
func (s *Session) readLine() (string, error) {
	first, err := s.br.Peek(1)
	if err != nil {
		return "", ccerr.Network(fmt.Errorf("ccconn: read: %w", err))
	}

	d, ok := dialect.Detect(first[0])
	if !ok {
		return "", ccerr.Protocol(true, fmt.Errorf("ccconn: unrecognized leading byte %q", first[0]))
	}
	if s.dial == dialect.Unknown {
		s.dial = d
		s.CC.Dialect = d.String()
	} else if d != s.dial {
		return "", ccerr.Protocol(true, fmt.Errorf("ccconn: dialect switched mid-session from %s to %s", s.dial, d))
	}

	if s.cfg.Timeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.Timeout))
	}

	if d == dialect.NMDC {
		line, err := s.br.ReadString('|')
		if err != nil {
			return "", ccerr.Network(fmt.Errorf("ccconn: read nmdc line: %w", err))
		}
		return strings.TrimSuffix(line, "|"), nil
	}

	line, err := s.br.ReadString('\n')
	if err != nil {
		return "", ccerr.Network(fmt.Errorf("ccconn: read adc line: %w", err))
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (s *Session) writeLine(line string) error {
	if s.cfg.Timeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.Timeout))
	}
	term := "\n"
	if s.dial == dialect.NMDC {
		// FormatNMDC* helpers already append the trailing '|'.
		term = ""
	}
	if _, err := s.bw.WriteString(line + term); err != nil {
		return ccerr.Network(fmt.Errorf("ccconn: write: %w", err))
	}
	return s.bw.Flush()
}
