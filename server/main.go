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
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
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
	myApp.Name = "uap-server"
	myApp.Usage = "UAP session server"
	myApp.Version = VERSION
	myApp.ArgsUsage = "<port>"
	myApp.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "port",
			Usage: "UDP port to listen on",
		},
		cli.IntFlag{
			Name:  "inactivity-limit",
			Value: int(InactivityLimit / time.Second),
			Usage: "seconds of silence before a session is evicted",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "log file path; default goes to stderr",
		},
		cli.StringFlag{
			Name:  "statslog",
			Value: "",
			Usage: "append stats as CSV rows to this file path",
		},
		cli.IntFlag{
			Name:  "statsperiod",
			Value: 60,
			Usage: "stats collection period, in seconds",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "",
			Usage: "config from a JSON file, overriding flags",
		},
	}
	myApp.Action = runServer
	if err := myApp.Run(os.Args); err != nil {
		log.Printf("%+v", err)
		os.Exit(1)
	}
}

func runServer(c *cli.Context) error {
	config := Config{
		Port:            c.Int("port"),
		InactivityLimit: c.Int("inactivity-limit"),
		Log:             c.String("log"),
		StatsLog:        c.String("statslog"),
		StatsPeriod:     c.Int("statsperiod"),
	}
	if config.Port == 0 && c.NArg() > 0 {
		port, err := strconv.Atoi(c.Args().Get(0))
		if err != nil {
			return cli.NewExitError(errors.Wrap(err, "invalid port argument").Error(), 1)
		}
		config.Port = port
	}
	if c.String("c") != "" {
		if err := parseJSONConfig(&config, c.String("c")); err != nil {
			return cli.NewExitError(errors.Wrap(err, "loading config file").Error(), 1)
		}
	}
	if config.Port == 0 {
		return cli.NewExitError("usage: server <port>", 1)
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

	addr := &net.UDPAddr{IP: net.IPv4zero, Port: config.Port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return cli.NewExitError(errors.Wrap(err, "listening on UDP socket").Error(), 1)
	}
	defer conn.Close()
	logger.Printf("listening on %s", conn.LocalAddr())

	stats := &Stats{}
	dispatcher := NewDispatcher(udpSender{conn: conn}, logger, stats)
	stats.activeSessions = dispatcher.ActiveSessions

	go csvLogger(stats, config.StatsLog, time.Duration(config.StatsPeriod)*time.Second, logger)
	installStatsDumpHandler(stats, logger)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	type datagram struct {
		addr *net.UDPAddr
		data []byte
	}
	incoming := make(chan datagram)
	go func() {
		buf := make([]byte, uap.MaxDatagramSize)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return // socket closed on shutdown
			}
			raw := make([]byte, n)
			copy(raw, buf[:n])
			incoming <- datagram{addr: from, data: raw}
		}
	}()

	limit := time.Duration(config.InactivityLimit) * time.Second
	if limit <= 0 {
		limit = InactivityLimit
	}
	ticker := time.NewTicker(sweeperInterval)
	defer ticker.Stop()

	// The event loop: a single goroutine owns the Session Table. The
	// Dispatcher and the Sweeper are both tasks scheduled here, never
	// preempting one another.
	for {
		select {
		case dgram := <-incoming:
			dispatcher.Handle(dgram.addr, dgram.data)
		case <-ticker.C:
			dispatcher.Sweep(limit)
		case <-shutdown:
			logger.Println("shutting down")
			return nil
		}
	}
}
