package cmd

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

	"github.com/fzft/go-reactor/deps/linenoise"
	"github.com/mattn/go-isatty"
	"go.uber.org/multierr"
)

var (
	CliHisFileEnv     = "REACTORCLI_HISTFILE"
	CliHisFileDefault = ".reactorcli_history"

	CliDefaultTimeout = 5 * time.Second
)

type CliConnectFlag int

const (
	CCForce CliConnectFlag = 1 << iota // Re-connect if already connected.
	CCQuiet                            // Don't show non-error messages.
)

var errNotConnected = errors.New("not connected")

type CliConnInfo struct {
	hostIp   string
	hostPort int
}

type CliConfig struct {
	connInfo    *CliConnInfo
	timeout     time.Duration
	interactive bool
	prompt      string
}

// Cli is a line client for the echo server: every line is sent with a
// trailing newline and the echoed line is printed.
type Cli struct {
	config *CliConfig
	conn   net.Conn
	reader *bufio.Reader
	out    io.Writer
	errOut io.Writer
}

// NewCli parses addr as host:port. Nothing is dialed until Run.
func NewCli(addr string, out, errOut io.Writer) (*Cli, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("parse address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parse port %q: %w", portStr, err)
	}
	if host == "" {
		host = "127.0.0.1"
	}
	cli := &Cli{
		config: &CliConfig{
			connInfo: &CliConnInfo{hostIp: host, hostPort: port},
			timeout:  CliDefaultTimeout,
		},
		out:    out,
		errOut: errOut,
	}
	cli.cliRefreshPrompt()
	return cli, nil
}

func Version(gitSHA1, gitDirty string) string {
	version := "reactor-cli"
	// Add git commit and working tree status when available
	if sha1Int, err := strconv.ParseUint(gitSHA1, 16, 64); err == nil && sha1Int != 0 {
		version = fmt.Sprintf("%s (git:%s", version, gitSHA1)
		if dirtyInt, err := strconv.ParseInt(gitDirty, 10, 64); err == nil && dirtyInt != 0 {
			version = fmt.Sprintf("%s-dirty", version)
		}
		version = fmt.Sprintf("%s)", version)
	}
	return version
}

func Usage(w io.Writer, gitSHA1, gitDirty string) {
	fmt.Fprintf(w, `%s

Usage: reactor cli [host:port]
  Reads lines from the terminal (or from stdin when it is not a tty), sends
  each one to the server and prints the echoed reply.
`, Version(gitSHA1, gitDirty))
}

// Run starts a line editor when stdin is a terminal and otherwise pipes
// stdin to the server line by line.
func (cli *Cli) Run() error {
	if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return cli.repl()
	}
	if err := cli.connect(0); err != nil {
		return err
	}
	return multierr.Append(cli.Pipe(os.Stdin), cli.Close())
}

func (cli *Cli) Close() error {
	if cli.conn == nil {
		return nil
	}
	err := cli.conn.Close()
	cli.conn = nil
	cli.reader = nil
	return err
}

// connect to the echo server
// flag: CCForce: The connection is performed even if there is already
// *                a connected socket.
// *    CCQuiet: Don't print errors if connection fails
func (cli *Cli) connect(flag CliConnectFlag) error {
	if cli.conn != nil && flag&CCForce == 0 {
		return nil
	}
	if cli.conn != nil {
		_ = cli.Close()
	}

	addr := net.JoinHostPort(cli.config.connInfo.hostIp, strconv.Itoa(cli.config.connInfo.hostPort))
	conn, err := net.DialTimeout("tcp", addr, cli.config.timeout)
	if err != nil {
		if flag&CCQuiet == 0 {
			fmt.Fprintf(cli.errOut, "Could not connect to %s: %s\n", addr, err)
		}
		return err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.SetKeepAlive(true); err != nil {
			fmt.Fprintf(cli.errOut, "Failed to set SO_KEEPALIVE: %s\n", err)
		}
	}
	cli.conn = conn
	cli.reader = bufio.NewReader(conn)
	return nil
}

// SendLine writes line plus a newline and waits for one echoed line.
func (cli *Cli) SendLine(line string) (string, error) {
	if cli.conn == nil {
		return "", errNotConnected
	}
	if err := cli.conn.SetDeadline(time.Now().Add(cli.config.timeout)); err != nil {
		return "", err
	}
	if _, err := io.WriteString(cli.conn, line+"\n"); err != nil {
		return "", err
	}
	reply, err := cli.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(reply, "\n"), nil
}

// Pipe sends every line of in and prints each reply to out.
func (cli *Cli) Pipe(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		reply, err := cli.SendLine(scanner.Text())
		if err != nil {
			return err
		}
		fmt.Fprintln(cli.out, reply)
	}
	return scanner.Err()
}

func (cli *Cli) repl() error {
	var historyFile string

	line := linenoise.New()
	defer line.Close()

	cli.config.interactive = true
	historyFile = getDotfilePath(CliHisFileEnv, CliHisFileDefault)
	if historyFile != "" {
		if err := line.HistoryLoad(historyFile); err != nil {
			fmt.Fprintf(cli.errOut, "Failed to load history: %s\n", err)
		}
	}

	_ = cli.connect(0)
	for {
		prompt := cli.config.prompt
		if cli.conn == nil {
			prompt = "not connected> "
		}
		input, err := line.Prompt(prompt)
		if err != nil {
			// io.EOF on ctrl-d, liner.ErrPromptAborted on ctrl-c
			break
		}

		argv := strings.Fields(input)
		if len(argv) == 0 {
			continue
		}
		line.AppendHistory(input)
		if historyFile != "" {
			_ = line.HistorySave(historyFile)
		}

		if c, ok := lookupCommand(argv); ok {
			if quit := cli.runCommand(line, c, argv); quit {
				break
			}
			continue
		}

		if err := cli.connect(CCQuiet); err != nil {
			fmt.Fprintf(cli.errOut, "(error) %s\n", errNotConnected)
			continue
		}
		reply, err := cli.SendLine(input)
		if err != nil {
			fmt.Fprintf(cli.errOut, "(error) %s\n", err)
			_ = cli.Close()
			continue
		}
		fmt.Fprintln(cli.out, reply)
	}
	return cli.Close()
}

func (cli *Cli) runCommand(line *linenoise.LineNoise, c cliCommand, argv []string) (quit bool) {
	switch c.name {
	case "quit", "exit":
		return true
	case "clear":
		_ = line.ClearScreen(cli.out)
	case "help":
		printHelp(cli.out)
	case "connect":
		port, err := strconv.Atoi(argv[2])
		if err != nil {
			fmt.Fprintf(cli.errOut, "Invalid port number\n")
			return false
		}
		cli.config.connInfo.hostIp = argv[1]
		cli.config.connInfo.hostPort = port
		cli.cliRefreshPrompt()
		_ = cli.connect(CCForce)
	}
	return false
}

func (cli *Cli) cliRefreshPrompt() {
	cli.config.prompt = fmt.Sprintf("%s> ",
		net.JoinHostPort(cli.config.connInfo.hostIp, strconv.Itoa(cli.config.connInfo.hostPort)))
}

func getDotfilePath(envOverride, dotFilename string) string {
	var dotPath string

	path := os.Getenv(envOverride)
	if path != "" {
		if path == "/dev/null" {
			return ""
		}
		dotPath = path
	} else {
		home := os.Getenv("HOME")
		if home != "" {
			dotPath = fmt.Sprintf("%s/%s", home, dotFilename)
		}
	}
	return dotPath
}
