// Command ftpgate is a small FTP client whose uploads pass through a scan
// agent first. A file is only stored on the server when the agent reports
// it clean.
//
// Usage:
//
//	ftpgate [flags] put <local> [remote]
//	ftpgate [flags] get <remote> [local]
//	ftpgate [flags] ls [path]
//	ftpgate [flags] pwd | mkdir <dir> | rmdir <dir> | rm <file> | mv <from> <to> | size <file>
//	ftpgate [flags] scan <local>
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/gonzalop/ftpgate"
	"github.com/gonzalop/ftpgate/scanagent"
)

var errBlocked = errors.New("upload blocked by scan")

// config is the parsed command line.
type config struct {
	addr     string
	user     string
	pass     string
	active   bool
	ascii    bool
	scanAddr string
	noScan   bool
	timeout  time.Duration
	limit    int64
	debug    bool
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseFlags(args []string) (*config, []string, error) {
	fs := flag.NewFlagSet("ftpgate", flag.ContinueOnError)
	cfg := &config{}
	fs.StringVar(&cfg.addr, "addr", envOr("FTPGATE_ADDR", "localhost:21"), "FTP server address (host:port)")
	fs.StringVar(&cfg.user, "user", envOr("FTPGATE_USER", "anonymous"), "FTP user")
	fs.StringVar(&cfg.pass, "pass", os.Getenv("FTPGATE_PASS"), "FTP password (prompted when empty)")
	fs.BoolVar(&cfg.active, "active", false, "use active mode (PORT) instead of passive")
	fs.BoolVar(&cfg.ascii, "ascii", false, "transfer files in ASCII mode")
	fs.StringVar(&cfg.scanAddr, "scan", os.Getenv("FTPGATE_SCAN_ADDR"), "scan agent address (host:port)")
	fs.BoolVar(&cfg.noScan, "no-scan", false, "upload without scanning")
	fs.DurationVar(&cfg.timeout, "timeout", 60*time.Second, "network timeout")
	fs.Int64Var(&cfg.limit, "limit", 0, "bandwidth limit in bytes per second (0 = unlimited)")
	fs.BoolVar(&cfg.debug, "debug", false, "log protocol traffic to stderr")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: ftpgate [flags] <put|get|ls|pwd|mkdir|rmdir|rm|mv|size|scan> [args]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return nil, nil, errors.New("missing command")
	}
	return cfg, fs.Args(), nil
}

func main() {
	cfg, args, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	level := slog.LevelWarn
	if cfg.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	out := newUI(os.Stdout)

	if err := run(context.Background(), cfg, args, logger, out); err != nil {
		if !errors.Is(err, errBlocked) {
			out.fail("%v", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config, args []string, logger *slog.Logger, out *ui) error {
	cmd, args := args[0], args[1:]

	if cmd == "scan" {
		if len(args) != 1 {
			return errors.New("usage: scan <local>")
		}
		sc, err := newScanClient(cfg, logger)
		if err != nil {
			return err
		}
		if sc == nil {
			return errors.New("no scan agent configured (use -scan or FTPGATE_SCAN_ADDR)")
		}
		return gate(ctx, sc, args[0], out)
	}

	client, err := login(cfg, logger)
	if err != nil {
		return err
	}
	defer client.Quit()

	switch cmd {
	case "put":
		if len(args) < 1 || len(args) > 2 {
			return errors.New("usage: put <local> [remote]")
		}
		remote := path.Base(filepath.ToSlash(args[0]))
		if len(args) == 2 {
			remote = args[1]
		}
		return put(ctx, cfg, logger, client, args[0], remote, out)

	case "get":
		if len(args) < 1 || len(args) > 2 {
			return errors.New("usage: get <remote> [local]")
		}
		local := path.Base(args[0])
		if len(args) == 2 {
			local = args[1]
		}
		return get(cfg, client, args[0], local, out)

	case "ls":
		dir := ""
		if len(args) > 0 {
			dir = args[0]
		}
		entries, err := client.Entries(dir)
		if err != nil {
			return err
		}
		return out.entries(entries)

	case "pwd":
		dir, err := client.CurrentDir()
		if err != nil {
			return err
		}
		out.plain(dir)
		return nil

	case "mkdir":
		if len(args) != 1 {
			return errors.New("usage: mkdir <dir>")
		}
		created, err := client.MakeDir(args[0])
		if err != nil {
			return err
		}
		out.ok("created %s", created)
		return nil

	case "rmdir":
		if len(args) != 1 {
			return errors.New("usage: rmdir <dir>")
		}
		if err := client.RemoveDir(args[0]); err != nil {
			return err
		}
		out.ok("removed %s", args[0])
		return nil

	case "rm":
		if len(args) != 1 {
			return errors.New("usage: rm <file>")
		}
		if err := client.Delete(args[0]); err != nil {
			return err
		}
		out.ok("deleted %s", args[0])
		return nil

	case "mv":
		if len(args) != 2 {
			return errors.New("usage: mv <from> <to>")
		}
		if err := client.Rename(args[0], args[1]); err != nil {
			return err
		}
		out.ok("renamed %s to %s", args[0], args[1])
		return nil

	case "size":
		if len(args) != 1 {
			return errors.New("usage: size <file>")
		}
		n, err := client.Size(args[0])
		if err != nil {
			return err
		}
		out.plain(fmt.Sprintf("%d", n))
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func login(cfg *config, logger *slog.Logger) (*ftpgate.Client, error) {
	opts := []ftpgate.Option{
		ftpgate.WithTimeout(cfg.timeout),
		ftpgate.WithLogger(logger),
		ftpgate.WithBandwidthLimit(cfg.limit),
	}
	if cfg.active {
		opts = append(opts, ftpgate.WithActiveMode())
	}

	client, err := ftpgate.Dial(cfg.addr, opts...)
	if err != nil {
		return nil, err
	}

	pass := cfg.pass
	if pass == "" {
		if pass, err = readPassword(cfg.user); err != nil {
			client.Close()
			return nil, err
		}
	}
	if err := client.Login(cfg.user, pass); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// readPassword prompts on the terminal, or reads one line from a pipe.
func readPassword(user string) (string, error) {
	if user == "anonymous" || user == "ftp" {
		return "anonymous@", nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	fmt.Fprintf(os.Stderr, "Password for %s: ", user)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

func newScanClient(cfg *config, logger *slog.Logger) (*scanagent.Client, error) {
	if cfg.scanAddr == "" {
		return nil, nil
	}
	return scanagent.NewClient(cfg.scanAddr,
		scanagent.WithClientLogger(logger),
		scanagent.WithUploadLimit(cfg.limit),
	)
}

// gate scans local and reports errBlocked unless the agent calls it clean.
func gate(ctx context.Context, sc *scanagent.Client, local string, out *ui) error {
	clean, msg := sc.Check(ctx, local)
	if !clean {
		out.fail("%s: %s", local, msg)
		return errBlocked
	}
	out.ok("%s: %s", local, msg)
	return nil
}

func put(ctx context.Context, cfg *config, logger *slog.Logger, client *ftpgate.Client, local, remote string, out *ui) error {
	if !cfg.noScan {
		sc, err := newScanClient(cfg, logger)
		if err != nil {
			return err
		}
		if sc == nil {
			return errors.New("no scan agent configured (use -scan, FTPGATE_SCAN_ADDR or -no-scan)")
		}
		if err := gate(ctx, sc, local, out); err != nil {
			return err
		}
	}

	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()

	pr := &ftpgate.ProgressReader{Reader: f}
	start := time.Now()
	if cfg.ascii {
		err = client.StoreLines(remote, pr)
	} else {
		err = client.Store(remote, pr)
	}
	if err != nil {
		return err
	}
	out.ok("stored %s (%s in %v)", remote, formatSize(pr.Total()), time.Since(start).Round(time.Millisecond))
	return nil
}

func get(cfg *config, client *ftpgate.Client, remote, local string, out *ui) error {
	start := time.Now()
	var n int64
	if cfg.ascii {
		f, err := os.Create(local)
		if err != nil {
			return err
		}
		pw := &ftpgate.ProgressWriter{Writer: f}
		err = client.RetrieveText(remote, pw)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(local)
			return err
		}
		n = pw.Total()
	} else {
		if err := client.RetrieveFile(remote, local); err != nil {
			return err
		}
		if info, err := os.Stat(local); err == nil {
			n = info.Size()
		}
	}
	out.ok("retrieved %s (%s in %v)", local, formatSize(n), time.Since(start).Round(time.Millisecond))
	return nil
}
