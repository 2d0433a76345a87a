package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lumenledger/node/app/services/node/handlers"
	"github.com/lumenledger/node/foundation/blockchain/consensus"
	"github.com/lumenledger/node/foundation/blockchain/crypto"
	"github.com/lumenledger/node/foundation/blockchain/database"
	"github.com/lumenledger/node/foundation/blockchain/genesis"
	"github.com/lumenledger/node/foundation/blockchain/mempool"
	"github.com/lumenledger/node/foundation/blockchain/peer"
	"github.com/lumenledger/node/foundation/blockchain/receipt"
	"github.com/lumenledger/node/foundation/blockchain/worker"
	"github.com/lumenledger/node/foundation/events"
	"github.com/lumenledger/node/foundation/logger"
	"github.com/ardanlabs/conf/v3"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			PrivateHost     string        `conf:"default:0.0.0.0:9080"`
			SelfURL         string        `conf:"default:http://127.0.0.1:9080"`
		}
		Node struct {
			Name           string        `conf:"default:node"`
			KeyPath        string        `conf:"default:zblock/node.key"`
			DataDir        string        `conf:"default:zblock/data"`
			GenesisPath    string        `conf:"default:zblock/genesis.json"`
			ChainID        uint16        `conf:"default:1"`
			KnownPeers     []string      `conf:"default:"`
			EpochDuration  time.Duration `conf:"default:10s"`
			GossipInterval time.Duration `conf:"default:3s"`
			RewardPool     uint64        `conf:"default:100"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "copyright information here",
		},
	}

	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// Positional CLI args: <name> <port> <publicUrl> [bootstrapPeerUrl].
	// These take priority over every flag/env value conf.Parse already
	// loaded above; conf.Parse itself ignores bare positional tokens that
	// don't match one of its registered flag names, so there is no
	// conflict parsing the same os.Args twice.

	if args := os.Args[1:]; len(args) >= 3 {
		cfg.Node.Name = args[0]
		cfg.Web.PublicHost = "0.0.0.0:" + args[1]
		cfg.Web.SelfURL = args[2]
		if len(args) >= 4 && args[3] != "" {
			cfg.Node.KnownPeers = append(cfg.Node.KnownPeers, args[3])
		}
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Identity

	selfPub, selfPriv, err := loadOrCreateIdentity(cfg.Node.KeyPath)
	if err != nil {
		return fmt.Errorf("loading node identity: %w", err)
	}

	self, err := crypto.AddressOf(selfPub)
	if err != nil {
		return fmt.Errorf("deriving node address: %w", err)
	}
	log.Infow("startup", "status", "node identity loaded", "address", self)

	// =========================================================================
	// Ledger

	gen, err := genesis.Load(cfg.Node.GenesisPath)
	if err != nil {
		gen = genesis.Default(cfg.Node.ChainID)
		log.Infow("startup", "status", "no genesis file found, using default", "path", cfg.Node.GenesisPath)
	}

	storage, err := database.NewFileStorage(cfg.Node.DataDir)
	if err != nil {
		return fmt.Errorf("constructing file storage: %w", err)
	}

	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(s)
	}

	ledger, err := database.New(gen, storage, ev)
	if err != nil {
		return fmt.Errorf("constructing ledger: %w", err)
	}

	// =========================================================================
	// Consensus, ReceiptEngine, PeerMesh, Worker

	consensusEngine := consensus.NewEngine(self, consensus.DefaultParams(), ev)
	receiptEngine := receipt.New(receipt.DefaultConfig(), ev)
	pool := mempool.New()
	peers := peer.NewRegistry(self, cfg.Web.SelfURL, peer.DefaultHeartbeatTimeout, ev)
	transport := peer.NewTransport(peer.DefaultTransportTimeout)

	workerCfg := worker.Config{
		EpochDuration:    cfg.Node.EpochDuration,
		GossipInterval:   cfg.Node.GossipInterval,
		ChallengeTimeout: worker.DefaultConfig().ChallengeTimeout,
		RewardPool:       cfg.Node.RewardPool,
	}

	w := worker.New(workerCfg, cfg.Node.Name, self, cfg.Web.SelfURL, selfPub, selfPriv, ledger, consensusEngine, receiptEngine, pool, peers, transport, ev)

	for _, url := range cfg.Node.KnownPeers {
		if url == "" {
			continue
		}
		resp, err := transport.Announce(url, peer.AnnounceRequest{Address: self, URL: cfg.Web.SelfURL, PublicKey: selfPub})
		if err != nil {
			log.Infow("startup", "status", "unable to announce to bootstrap peer", "peer", url, "ERROR", err)
			continue
		}
		peers.Announce(resp.Address, resp.URL, resp.PublicKey)
		peers.Fold(resp.Peers)
	}

	w.Start()
	defer w.Stop()

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	debugMux := handlers.DebugMux(build, w, log)

	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	publicMux := handlers.PublicMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		Worker:   w,
		Evts:     evts,
	})

	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      publicMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Start Private Service

	log.Infow("startup", "status", "initializing V1 private API support")

	privateMux := handlers.PrivateMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		Worker:   w,
	})

	private := http.Server{
		Addr:         cfg.Web.PrivateHost,
		Handler:      privateMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "private api router started", "host", private.Addr)
		serverErrors <- private.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		ctx, cancelPub := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPub()

		log.Infow("shutdown", "status", "shutdown private API started")
		if err := private.Shutdown(ctx); err != nil {
			private.Close()
			return fmt.Errorf("could not stop private service gracefully: %w", err)
		}

		ctx, cancelPri := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPri()

		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}

// loadOrCreateIdentity loads the node's Ed25519 identity from path, or
// generates and persists a fresh one if no key file exists yet.
func loadOrCreateIdentity(path string) (crypto.PublicKey, crypto.PrivateKey, error) {
	pub, priv, err := crypto.LoadKey(path)
	if err == nil {
		return pub, priv, nil
	}

	pub, priv, err = crypto.GenerateKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("generating node identity: %w", err)
	}

	if err := crypto.SaveKey(path, priv); err != nil {
		return nil, nil, fmt.Errorf("persisting node identity: %w", err)
	}

	return pub, priv, nil
}
