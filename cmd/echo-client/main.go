package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	reactor "github.com/shpigor/goreactor"
)

var (
	addr  string
	count int
)

func init() {
	flag.StringVar(&addr, "addr", "127.0.0.1:2007", "server address to connect to.")
	flag.IntVar(&count, "n", 5, "number of messages to send before exiting.")
	flag.Parse()
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	reactor.IgnoreSigpipe()

	loop, err := reactor.NewEventLoop(reactor.EventLoopConfig{LockOSThread: true})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create loop")
	}

	client, err := reactor.NewTcpClient(loop, "tcp", addr, "echo-client")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create client")
	}

	sent := 0
	client.SetConnectionCallback(func(conn *reactor.TcpConnection) {
		log.Info().Str("conn", conn.Name()).Str("state", conn.State().String()).Msg("connection state changed")
		if conn.Connected() {
			conn.SendString(fmt.Sprintf("hello %d", sent))
			sent++
		} else if conn.Disconnected() {
			loop.Quit()
		}
	})
	client.SetMessageCallback(func(conn *reactor.TcpConnection, buf *reactor.Buffer, _ int64) {
		log.Info().Str("reply", buf.RetrieveAllAsString()).Msg("echo-client received reply")
		if sent < count {
			conn.SendString(fmt.Sprintf("hello %d", sent))
			sent++
		} else {
			loop.RunAfter(100*time.Millisecond, func() { client.Disconnect() })
		}
	})

	client.Connect()
	loop.Loop()
}
