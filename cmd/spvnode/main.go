// Package main runs an SPV network node: it connects to the configured network, keeps a
// header chain in memory and logs the transactions and merkle blocks its peers relay.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/bsv-blockchain/go-chaincfg"
	"github.com/bsv-blockchain/go-wire"
	"github.com/bsv-blockchain/teranode-spv/errors"
	"github.com/bsv-blockchain/teranode-spv/services/spv"
	"github.com/bsv-blockchain/teranode-spv/services/spv/addrmgr"
	"github.com/bsv-blockchain/teranode-spv/services/spv/discovery"
	"github.com/bsv-blockchain/teranode-spv/services/spv/peer"
	"github.com/bsv-blockchain/teranode-spv/settings"
	"github.com/bsv-blockchain/teranode-spv/stores/chainstore/memory"
	"github.com/bsv-blockchain/teranode-spv/ulogger"
	"github.com/bsv-blockchain/teranode-spv/util/servicemanager"
	"github.com/gocarina/gocsv"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

const progname = "spvnode"

func main() {
	app := &cli.App{
		Name:  progname,
		Usage: "An SPV client network node",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "network",
				Usage: "network to connect to (mainnet, testnet, regtest, stn)",
				Value: "mainnet",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level",
				Value: "INFO",
			},
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "dotenv file with settings overrides, loaded before the settings are read (repeatable)",
			},
		},
		Before: loadEnvFiles,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Connect to the network and follow the chain",
				Action: run,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "peer",
						Usage: "static peer to connect to, disables discovery (repeatable)",
					},
					&cli.IntFlag{
						Name:  "max-outbound",
						Usage: "maximum number of outbound connections",
					},
					&cli.StringFlag{
						Name:  "proxy",
						Usage: "SOCKS5 proxy for outbound connections",
					},
					&cli.StringFlag{
						Name:  "metrics",
						Usage: "listen address for the prometheus endpoint",
					},
				},
			},
			{
				Name:   "seeds",
				Usage:  "Resolve the DNS seeds of the network and print the addresses",
				Action: seeds,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "csv",
						Usage: "print the addresses as CSV",
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// loadEnvFiles exports the variables of every --env-file. Variables already set in the
// environment win.
func loadEnvFiles(c *cli.Context) error {
	files := c.StringSlice("env-file")
	if len(files) == 0 {
		return nil
	}

	if err := godotenv.Load(files...); err != nil {
		return errors.NewConfigurationError("unable to load env files %v", files, err)
	}

	return nil
}

func loadSettings(c *cli.Context) (*settings.Settings, error) {
	tSettings := settings.NewSettings()

	if c.IsSet("network") {
		params, err := chaincfg.GetChainParams(c.String("network"))
		if err != nil {
			return nil, errors.NewConfigurationError("unknown network %s", c.String("network"), err)
		}

		tSettings.ChainCfgParams = params
		tSettings.SPV.Network = c.String("network")
	}

	if c.IsSet("log-level") {
		tSettings.LogLevel = c.String("log-level")
	}

	if peers := c.StringSlice("peer"); len(peers) > 0 {
		tSettings.SPV.StaticPeers = peers
	}

	if c.IsSet("max-outbound") {
		tSettings.SPV.MaxOutbound = c.Int("max-outbound")
	}

	if c.IsSet("proxy") {
		tSettings.SPV.Proxy = c.String("proxy")
	}

	if c.IsSet("metrics") {
		tSettings.PrometheusListenAddress = c.String("metrics")
	}

	return tSettings, nil
}

func run(c *cli.Context) error {
	tSettings, err := loadSettings(c)
	if err != nil {
		return err
	}

	logger := ulogger.New(progname, ulogger.WithLevel(tSettings.LogLevel))

	store := memory.New(*tSettings.ChainCfgParams.GenesisHash)

	sink := &chainSink{
		logger: logger,
		store:  store,
	}

	server := spv.New(logger, tSettings, store, acceptAllFilter{}, sink)
	sink.server = server

	sm := servicemanager.NewServiceManager(c.Context, logger)

	if err := sm.AddService("SPV", server); err != nil {
		return err
	}

	if tSettings.PrometheusListenAddress != "" {
		httpCtx, cancel := context.WithCancel(c.Context)
		defer cancel()

		go serveHTTP(httpCtx, logger, tSettings.PrometheusListenAddress, newHTTPServer(sm))
	}

	return sm.Wait()
}

func seeds(c *cli.Context) error {
	tSettings, err := loadSettings(c)
	if err != nil {
		return err
	}

	logger := ulogger.New(progname, ulogger.WithLevel(tSettings.LogLevel))

	resolver, err := discovery.NewDNSResolver(logger, tSettings.SPV.DNSResolver, tSettings.SPV.DNSTimeout)
	if err != nil {
		return err
	}

	port, err := discovery.ParsePort(tSettings.ChainCfgParams.DefaultPort)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, time.Minute)
	defer cancel()

	registry := addrmgr.New(logger)

	count := discovery.SeedFromDNS(ctx, logger, resolver, tSettings.ChainCfgParams.DNSSeeds, port, registry)

	if c.Bool("csv") {
		return writeSeedsCSV(os.Stdout, registry.Addresses())
	}

	for _, address := range registry.Addresses() {
		fmt.Println(address.String())
	}

	fmt.Printf("%d addresses from %d seeds\n", count, len(tSettings.ChainCfgParams.DNSSeeds))

	return nil
}

type seedRow struct {
	Host     string `csv:"host"`
	Port     uint16 `csv:"port"`
	Services uint64 `csv:"services"`
}

func writeSeedsCSV(w io.Writer, addresses []*addrmgr.PeerAddress) error {
	rows := make([]*seedRow, 0, len(addresses))

	for _, address := range addresses {
		rows = append(rows, &seedRow{
			Host:     address.Host,
			Port:     address.Port,
			Services: uint64(address.Services()),
		})
	}

	if err := gocsv.Marshal(rows, w); err != nil {
		return errors.NewProcessingError("unable to write seeds as CSV", err)
	}

	return nil
}

// acceptAllFilter loads a filter that matches everything.
type acceptAllFilter struct{}

func (acceptAllFilter) FilterLoadMsg() *wire.MsgFilterLoad {
	return wire.NewMsgFilterLoad([]byte{0xff}, 1, 0, wire.BloomUpdateNone)
}

// chainSink appends received headers to the in-memory chain and logs everything else.
type chainSink struct {
	logger ulogger.Logger
	store  *memory.Memory
	server *spv.Server
}

func (s *chainSink) ProcessTransaction(_ context.Context, conn *peer.Connection, msg *wire.MsgTx) error {
	s.logger.Infof("[%s] transaction %s from %s", progname, msg.TxHash(), conn.Address())
	return nil
}

func (s *chainSink) ProcessBlock(_ context.Context, conn *peer.Connection, msg *wire.MsgBlock) error {
	s.logger.Infof("[%s] block %s with %d transactions from %s", progname, msg.BlockHash(), len(msg.Transactions), conn.Address())
	return nil
}

func (s *chainSink) ProcessMerkleBlock(_ context.Context, conn *peer.Connection, msg *wire.MsgMerkleBlock) error {
	s.logger.Infof("[%s] merkle block %s with %d matched hashes from %s", progname, msg.Header.BlockHash(), len(msg.Hashes), conn.Address())
	return nil
}

func (s *chainSink) ProcessHeaders(_ context.Context, conn *peer.Connection, msg *wire.MsgHeaders) error {
	added, err := s.store.AddHeaders(msg.Headers)
	if err != nil {
		return errors.NewNetworkPeerMaliciousError("headers from %s do not connect", conn.Address(), err)
	}

	s.logger.Infof("[%s] added %d headers, chain height %d", progname, added, s.store.ChainHeight())

	if network := s.server.Network(); network != nil {
		network.TriggerChainSync()
	}

	return nil
}
