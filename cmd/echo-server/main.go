package main

import (
	"flag"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	reactor "github.com/shpigor/goreactor"
)

var (
	configFilePath string
	addr           string
	threads        int
)

func init() {
	flag.StringVar(&configFilePath, "c", "", "path to configuration file (yaml or toml); if empty, uses -addr/-threads instead.")
	flag.StringVar(&addr, "addr", "0.0.0.0:2007", "listen address, used when -c is not set.")
	flag.IntVar(&threads, "threads", 4, "worker loop count, used when -c is not set.")
	flag.Parse()
}

func initLog(global reactor.Global) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(global.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func main() {
	reactor.IgnoreSigpipe()

	cfg := reactor.ServerConfig{Name: "echo", Net: "tcp", Address: addr, ThreadNum: threads}
	var rlimitNofile uint64
	if configFilePath != "" {
		loaded, err := reactor.LoadConfig(configFilePath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load config")
		}
		initLog(loaded.Global)
		cfg = loaded.Server
		rlimitNofile = loaded.Global.RlimitNofile
	} else {
		initLog(reactor.Global{LogLevel: "info"})
	}

	reactor.RaiseFileDescriptorLimit(rlimitNofile)

	baseLoop, err := reactor.NewEventLoop(reactor.EventLoopConfig{LockOSThread: true})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create base loop")
	}

	reuse := reactor.NoReusePort
	if cfg.ReusePort {
		reuse = reactor.Reuseport
	}
	server, err := reactor.NewTcpServer(baseLoop, cfg.Address, cfg.Name, reuse)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create server")
	}
	server.SetThreadNum(cfg.ThreadNum)
	server.SetConnectionCallback(func(conn *reactor.TcpConnection) {
		log.Info().Str("conn", conn.Name()).Str("state", conn.State().String()).Msg("connection state changed")
	})
	server.SetMessageCallback(func(conn *reactor.TcpConnection, buf *reactor.Buffer, _ int64) {
		conn.Send(buf.Peek())
		buf.RetrieveAll()
	})

	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start server")
	}
	log.Info().Str("addr", server.LocalAddr().String()).Msg("echo server listening")

	baseLoop.Loop()
}
