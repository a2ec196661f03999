// Command shelly-cli is an interactive client for the shelly daemon. It
// reads lines, sends each as a request over UDP, and prints the reply.
package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/chzyer/readline"

	"github.com/XuanLee-HEALER/shelly/comm"
)

// responseWait bounds how long a request may sit with the agent after
// the daemon acknowledged it. Inference plus tool rounds can be slow.
const responseWait = 120 * time.Second

var cli struct {
	Target      string        `short:"t" default:"127.0.0.1:9700" help:"Daemon address."`
	Timeout     time.Duration `default:"5s" help:"How long to wait for a request ack before resending."`
	MaxRetries  int           `short:"m" default:"3" help:"Send attempts before giving up on a request."`
	HistoryFile string        `type:"path" help:"Readline history file (default ~/.shelly_history)."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("shelly-cli"),
		kong.Description("Interactive client for the shelly daemon."),
		kong.UsageOnError(),
	)

	if lang := os.Getenv("LANG"); lang != "" {
		l := strings.ToLower(lang)
		if !strings.Contains(l, "utf-8") && !strings.Contains(l, "utf8") {
			fmt.Fprintln(os.Stderr, "[warning] terminal locale is not UTF-8, non-ASCII output may not display correctly")
		}
	}

	target, err := net.ResolveUDPAddr("udp", cli.Target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid target %q: %v\n", cli.Target, err)
		os.Exit(1)
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bind failed: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	c := &client{
		conn:    conn,
		target:  target,
		ackWait: cli.Timeout,
		retries: cli.MaxRetries,
		seq:     1,
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		HistoryFile:     historyFile(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "readline init failed: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	fmt.Printf("shelly-cli (target %s)\n", target)
	fmt.Println("Type your message and press Enter. Ctrl+D to quit.")
	fmt.Println()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "[error] readline: %v\n", err)
			break
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		fmt.Print("[waiting...]")
		resp, err := c.exchange(input)
		fmt.Print("\x1b[2K\r")
		switch {
		case err != nil:
			fmt.Printf("[error] %v\n", err)
		case resp.IsError:
			fmt.Printf("[error] %s\n", resp.Content)
		default:
			fmt.Println(resp.Content)
		}
	}

	fmt.Println("Goodbye!")
}

// historyFile resolves the readline history path, defaulting to
// ~/.shelly_history.
func historyFile() string {
	if cli.HistoryFile != "" {
		return cli.HistoryFile
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shelly_history"
	}
	return filepath.Join(home, ".shelly_history")
}

type client struct {
	conn    *net.UDPConn
	target  *net.UDPAddr
	ackWait time.Duration
	retries int
	seq     uint32
}

// exchange sends one request and waits for its response, resending when
// no ack arrives in time. Packets from other senders and packets for
// other sequences are ignored while waiting. A response that arrives
// before the ack is accepted as-is: the daemon replays cached responses
// without a fresh ack when it sees a retransmit of an answered request.
func (c *client) exchange(content string) (comm.ResponsePayload, error) {
	seq := c.seq
	c.seq++

	pkt, err := comm.EncodeRequest(seq, comm.RequestPayload{Content: content})
	if err != nil {
		return comm.ResponsePayload{}, err
	}

	buf := make([]byte, comm.HeaderLen+comm.MaxPayload)
	for attempt := 0; attempt < c.retries; attempt++ {
		if _, err := c.conn.WriteToUDP(pkt, c.target); err != nil {
			return comm.ResponsePayload{}, fmt.Errorf("send request: %w", err)
		}

		deadline := time.Now().Add(c.ackWait)
		acked := false
		for {
			if err := c.conn.SetReadDeadline(deadline); err != nil {
				return comm.ResponsePayload{}, fmt.Errorf("set deadline: %w", err)
			}
			n, addr, err := c.conn.ReadFromUDP(buf)
			if err != nil {
				if acked {
					fmt.Fprintln(os.Stderr, "[warning] response timeout, retrying...")
				}
				break
			}
			if addr.String() != c.target.String() {
				continue
			}
			typ, got, err := comm.DecodeHeader(buf[:n])
			if err != nil || got != seq {
				continue
			}
			switch typ {
			case comm.MsgRequestAck:
				if !acked {
					acked = true
					deadline = time.Now().Add(responseWait)
				}
			case comm.MsgResponse:
				return comm.DecodeResponsePayload(buf[comm.HeaderLen:n])
			}
		}
	}
	return comm.ResponsePayload{}, errors.New("shelly is not responding")
}
