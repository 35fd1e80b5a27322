// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/udpapp/uap"
)

// VERSION is injected by build flags.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "uap-client"
	myApp.Usage = "UAP session client"
	myApp.Version = VERSION
	myApp.ArgsUsage = "<host> <port> [file]"
	myApp.Flags = []cli.Flag{
		cli.DurationFlag{
			Name:  "timeout",
			Value: DefaultTimeout,
			Usage: "state timeout bounding HELLO_WAIT, READY_TIMER, and CLOSING",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "log file path; default goes to stderr",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "",
			Usage: "config from a JSON file, overriding flags and positional args",
		},
	}
	myApp.Action = runClient
	if err := myApp.Run(os.Args); err != nil {
		log.Printf("%+v", err)
		os.Exit(1)
	}
}

func runClient(c *cli.Context) error {
	config := Config{
		Timeout: int(c.Duration("timeout") / time.Second),
		Log:     c.String("log"),
	}
	if c.NArg() > 0 {
		config.Host = c.Args().Get(0)
	}
	if c.NArg() > 1 {
		port, err := strconv.Atoi(c.Args().Get(1))
		if err != nil {
			return cli.NewExitError(errors.Wrap(err, "invalid port argument").Error(), 1)
		}
		config.Port = port
	}
	if c.NArg() > 2 {
		config.File = c.Args().Get(2)
	}
	if c.String("c") != "" {
		if err := parseJSONConfig(&config, c.String("c")); err != nil {
			return cli.NewExitError(errors.Wrap(err, "loading config file").Error(), 1)
		}
	}
	if config.Host == "" || config.Port == 0 {
		return cli.NewExitError("usage: client <host> <port> [file]", 1)
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)
	if config.Log != "" {
		f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
		if err != nil {
			return cli.NewExitError(errors.Wrap(err, "opening log file").Error(), 1)
		}
		defer f.Close()
		logger.SetOutput(f)
	}

	remote, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", config.Host, config.Port))
	if err != nil {
		return cli.NewExitError(errors.Wrap(err, "resolving server address").Error(), 1)
	}
	conn, err := net.DialUDP("udp", nil, remote)
	if err != nil {
		return cli.NewExitError(errors.Wrap(err, "dialing UDP socket").Error(), 1)
	}
	defer conn.Close()

	timeout := time.Duration(config.Timeout) * time.Second
	stats := &Stats{}
	sess := NewSession(conn, logger, stats, timeout)

	interactive := config.File == ""
	input, err := inputSource(config.File)
	if err != nil {
		return cli.NewExitError(errors.Wrap(err, "opening input source").Error(), 1)
	}
	if f, ok := input.(*os.File); ok && f != os.Stdin {
		defer f.Close()
	}

	lines := make(chan inputEvent)
	go pumpInput(input, interactive, lines)

	incoming := make(chan uap.Packet)
	go networkReader(conn, logger, incoming)

	installStatsDumpHandler(stats, logger, sess)

	sess.Run(lines, incoming)
	stats.Dump(logger, sess.State())
	return nil
}

// networkReader performs the blocking Read on the connected socket
// and forwards every well-formed packet to the Session's event loop.
// Malformed datagrams are discarded here, matching the Codec's decode
// contract.
func networkReader(conn *net.UDPConn, logger *log.Logger, out chan<- uap.Packet) {
	buf := make([]byte, uap.MaxDatagramSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			close(out)
			return
		}
		p, ok := uap.Decode(buf[:n])
		if !ok {
			continue
		}
		out <- p
	}
}

func inputSource(path string) (io.Reader, error) {
	if path == "" {
		return os.Stdin, nil
	}
	return os.Open(path)
}
