package ftptest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// maxCommandLength bounds a single command line.
const maxCommandLength = 4096

// dataTimeout bounds how long a data connection may take to appear.
const dataTimeout = 10 * time.Second

type session struct {
	server *Server
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	fs     *rootFS

	user       string
	loggedIn   bool
	renameFrom string
	xferType   string

	pasvList   net.Listener
	activeAddr string
}

var commandHandlers = map[string]func(*session, string){
	"PWD":  (*session).handlePWD,
	"CWD":  (*session).handleCWD,
	"CDUP": (*session).handleCDUP,
	"MKD":  (*session).handleMKD,
	"RMD":  (*session).handleRMD,
	"DELE": (*session).handleDELE,
	"RNFR": (*session).handleRNFR,
	"RNTO": (*session).handleRNTO,
	"SIZE": (*session).handleSIZE,
	"TYPE": (*session).handleTYPE,
	"PASV": (*session).handlePASV,
	"PORT": (*session).handlePORT,
	"LIST": (*session).handleLIST,
	"NLST": (*session).handleNLST,
	"RETR": (*session).handleRETR,
	"STOR": (*session).handleSTOR,
}

func newSession(server *Server, conn net.Conn, fs *rootFS) *session {
	return &session{
		server:   server,
		conn:     conn,
		reader:   bufio.NewReader(conn),
		writer:   bufio.NewWriter(conn),
		fs:       fs,
		xferType: "A",
	}
}

func (s *session) serve() {
	defer s.close()

	s.replyLines(220, s.server.greeting)
	for {
		line, err := s.readCommand()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.server.logger.Debug("read error", "remote_addr", s.conn.RemoteAddr().String(), "error", err)
			}
			return
		}
		if !s.handleCommand(line) {
			return
		}
	}
}

func (s *session) readCommand() (string, error) {
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	if len(line) > maxCommandLength {
		return "", errors.New("command too long")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (s *session) close() {
	if s.pasvList != nil {
		s.pasvList.Close()
	}
	s.fs.root.Close()
	s.conn.Close()
}

// handleCommand dispatches one line. It returns false when the session should end.
func (s *session) handleCommand(line string) bool {
	if line == "" {
		return true
	}
	verb, arg, _ := strings.Cut(line, " ")
	verb = strings.ToUpper(verb)

	logArg := arg
	if verb == "PASS" {
		logArg = "***"
	}
	s.server.logger.Debug("command received", "cmd", verb, "arg", logArg)

	switch verb {
	case "USER":
		s.user = arg
		s.loggedIn = false
		s.reply(331, "User name okay, need password.")
	case "PASS":
		if want, ok := s.server.users[s.user]; ok && want == arg {
			s.loggedIn = true
			s.reply(230, "User logged in, proceed.")
		} else {
			s.reply(530, "Login incorrect.")
		}
	case "QUIT":
		s.reply(221, "Goodbye.")
		return false
	case "NOOP":
		s.reply(200, "OK.")
	case "SYST":
		s.reply(215, "UNIX Type: L8")
	case "FEAT":
		s.replyLines(211, []string{"Features:", " SIZE", " PASV", "End"})
	default:
		handler, ok := commandHandlers[verb]
		if !ok {
			s.reply(502, "Command not implemented.")
			return true
		}
		if !s.loggedIn {
			s.reply(530, "Please login with USER and PASS.")
			return true
		}
		handler(s, arg)
	}
	return true
}

func (s *session) reply(code int, message string) {
	fmt.Fprintf(s.writer, "%d %s\r\n", code, message)
	s.writer.Flush()
}

// replyLines sends a multi-line reply: "DDD-first", the middle lines as they
// are, and "DDD last".
func (s *session) replyLines(code int, lines []string) {
	if len(lines) == 1 {
		s.reply(code, lines[0])
		return
	}
	for i, l := range lines {
		switch {
		case i == 0:
			fmt.Fprintf(s.writer, "%d-%s\r\n", code, l)
		case i == len(lines)-1:
			fmt.Fprintf(s.writer, "%d %s\r\n", code, l)
		default:
			fmt.Fprintf(s.writer, "%s\r\n", l)
		}
	}
	s.writer.Flush()
}

// replyError maps a filesystem error to a 550 reply.
func (s *session) replyError(err error) {
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.reply(550, "File not found.")
	case errors.Is(err, os.ErrExist):
		s.reply(550, "File already exists.")
	case errors.Is(err, os.ErrPermission):
		s.reply(550, "Permission denied.")
	default:
		s.reply(550, "Action failed: "+err.Error())
	}
}

func (s *session) handlePWD(string) {
	s.reply(257, quote(s.fs.cwd)+" is the current directory.")
}

func (s *session) handleCWD(arg string) {
	if err := s.fs.chdir(arg); err != nil {
		s.replyError(err)
		return
	}
	s.reply(250, "Directory changed to "+s.fs.cwd)
}

func (s *session) handleCDUP(string) {
	s.handleCWD("..")
}

func (s *session) handleMKD(arg string) {
	created, err := s.fs.mkdir(arg)
	if err != nil {
		s.replyError(err)
		return
	}
	s.reply(257, quote(created)+" created.")
}

func (s *session) handleRMD(arg string) {
	if err := s.fs.remove(arg, true); err != nil {
		s.replyError(err)
		return
	}
	s.reply(250, "Directory removed.")
}

func (s *session) handleDELE(arg string) {
	if err := s.fs.remove(arg, false); err != nil {
		s.replyError(err)
		return
	}
	s.reply(250, "File deleted.")
}

func (s *session) handleRNFR(arg string) {
	if _, err := s.fs.stat(arg); err != nil {
		s.replyError(err)
		return
	}
	s.renameFrom = arg
	s.reply(350, "Ready for RNTO.")
}

func (s *session) handleRNTO(arg string) {
	if s.renameFrom == "" {
		s.reply(503, "Bad sequence of commands.")
		return
	}
	from := s.renameFrom
	s.renameFrom = ""
	if err := s.fs.rename(from, arg); err != nil {
		s.replyError(err)
		return
	}
	s.reply(250, "Rename successful.")
}

func (s *session) handleSIZE(arg string) {
	info, err := s.fs.stat(arg)
	if err != nil {
		s.replyError(err)
		return
	}
	if info.IsDir() {
		s.reply(550, "Not a regular file.")
		return
	}
	s.reply(213, strconv.FormatInt(info.Size(), 10))
}

func (s *session) handleTYPE(arg string) {
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "A", "A N":
		s.xferType = "A"
		s.reply(200, "Type set to A.")
	case "I", "L 8":
		s.xferType = "I"
		s.reply(200, "Type set to I.")
	default:
		s.reply(504, "Type not supported.")
	}
}

func (s *session) handlePASV(string) {
	if s.pasvList != nil {
		s.pasvList.Close()
		s.pasvList = nil
	}
	s.activeAddr = ""

	host, _, _ := net.SplitHostPort(s.conn.LocalAddr().String())
	ip := net.ParseIP(host).To4()
	if ip == nil {
		s.reply(425, "Passive mode needs IPv4.")
		return
	}
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		s.reply(425, "Can't open passive connection.")
		return
	}
	s.pasvList = l

	port := l.Addr().(*net.TCPAddr).Port
	s.reply(227, fmt.Sprintf("Entering Passive Mode (%d,%d,%d,%d,%d,%d).",
		ip[0], ip[1], ip[2], ip[3], port/256, port%256))
}

func (s *session) handlePORT(arg string) {
	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}
	var b [6]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v < 0 || v > 255 {
			s.reply(501, "Invalid PORT argument.")
			return
		}
		b[i] = v
	}

	ip := net.IPv4(byte(b[0]), byte(b[1]), byte(b[2]), byte(b[3]))
	remote, _, _ := net.SplitHostPort(s.conn.RemoteAddr().String())
	if !ip.Equal(net.ParseIP(remote)) {
		s.reply(500, "Illegal PORT command.")
		return
	}

	if s.pasvList != nil {
		s.pasvList.Close()
		s.pasvList = nil
	}
	s.activeAddr = net.JoinHostPort(ip.String(), strconv.Itoa(b[4]*256+b[5]))
	s.reply(200, "PORT command successful.")
}

// openData returns the data connection negotiated by the last PASV or PORT.
func (s *session) openData() (net.Conn, error) {
	switch {
	case s.pasvList != nil:
		l := s.pasvList
		s.pasvList = nil
		defer l.Close()
		if tl, ok := l.(*net.TCPListener); ok {
			_ = tl.SetDeadline(time.Now().Add(dataTimeout))
		}
		return l.Accept()
	case s.activeAddr != "":
		addr := s.activeAddr
		s.activeAddr = ""
		return net.DialTimeout("tcp", addr, dataTimeout)
	}
	return nil, errors.New("no data connection negotiated")
}

// withData opens the data connection, sends 150, runs fn and replies 226, or
// 426 when fn fails.
func (s *session) withData(what string, fn func(net.Conn) error) {
	conn, err := s.openData()
	if err != nil {
		s.reply(425, "Can't open data connection.")
		return
	}
	s.reply(150, "Opening data connection for "+what+".")

	err = fn(conn)
	if cerr := conn.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.server.logger.Debug("transfer failed", "cmd", what, "error", err)
		s.reply(426, "Connection closed; transfer aborted.")
		return
	}
	s.reply(226, "Transfer complete.")
}

func (s *session) handleLIST(arg string) {
	infos, err := s.fs.list(listPath(arg))
	if err != nil {
		s.replyError(err)
		return
	}
	s.withData("LIST", func(conn net.Conn) error {
		w := bufio.NewWriter(conn)
		for _, fi := range infos {
			fmt.Fprintf(w, "%s 1 owner group %d %s %s\r\n",
				fi.Mode().String(), fi.Size(), fi.ModTime().Format("Jan 02 15:04"), fi.Name())
		}
		return w.Flush()
	})
}

func (s *session) handleNLST(arg string) {
	infos, err := s.fs.list(listPath(arg))
	if err != nil {
		s.replyError(err)
		return
	}
	s.withData("NLST", func(conn net.Conn) error {
		w := bufio.NewWriter(conn)
		for _, fi := range infos {
			fmt.Fprintf(w, "%s\r\n", fi.Name())
		}
		return w.Flush()
	})
}

func (s *session) handleRETR(arg string) {
	f, err := s.fs.open(arg, os.O_RDONLY)
	if err != nil {
		s.replyError(err)
		return
	}
	defer f.Close()
	if info, err := f.Stat(); err == nil && info.IsDir() {
		s.reply(550, "Not a regular file.")
		return
	}

	s.withData("RETR", func(conn net.Conn) error {
		n, err := io.Copy(conn, f)
		s.server.logger.Debug("transfer_complete", "operation", "RETR", "path", arg, "bytes", n)
		return err
	})
}

func (s *session) handleSTOR(arg string) {
	f, err := s.fs.open(arg, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		s.replyError(err)
		return
	}
	defer f.Close()

	s.withData("STOR", func(conn net.Conn) error {
		n, err := io.Copy(f, conn)
		s.server.logger.Debug("transfer_complete", "operation", "STOR", "path", arg, "bytes", n)
		return err
	})
}

// listPath drops ls-style flags such as "-la" that some clients send.
func listPath(arg string) string {
	var kept []string
	for _, f := range strings.Fields(arg) {
		if !strings.HasPrefix(f, "-") {
			kept = append(kept, f)
		}
	}
	if len(kept) == 0 {
		return "."
	}
	return strings.Join(kept, " ")
}

// quote wraps a path in double quotes, doubling embedded quotes.
func quote(p string) string {
	return `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
}
