package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/jessevdk/go-flags"

	"github.com/creditmesh/meshnode/config"
	"github.com/creditmesh/meshnode/indexclient/localindex"
	"github.com/creditmesh/meshnode/meshtypes"
	"github.com/creditmesh/meshnode/relaydiscovery"
	"github.com/creditmesh/meshnode/store"
	"github.com/creditmesh/meshnode/wire"
	"github.com/creditmesh/meshnode/xcrypto"
)

// meshdMain is the true entry point, kept separate from main so deferred
// cleanups run even when we exit through a returned error, mirroring
// lndMain's split from main().
func meshdMain() error {
	cfg, err := config.Load()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return nil
		}
		return err
	}

	identity, err := loadOrCreateIdentity(cfg.IdentitySeedFile)
	if err != nil {
		return fmt.Errorf("meshd: load identity: %w", err)
	}
	log.Infof("node identity: %s", identity.PublicKey())

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("meshd: open store: %w", err)
	}

	relayTable := make(map[meshtypes.PublicKey][]wire.RelayAddress)
	for _, entry := range cfg.Relays {
		var pk meshtypes.PublicKey
		if err := pk.UnmarshalText([]byte(entry.PublicKey)); err != nil {
			return fmt.Errorf("meshd: config relay entry: %w", err)
		}
		for _, addr := range entry.Relays {
			host, portStr, err := net.SplitHostPort(addr)
			if err != nil {
				return fmt.Errorf("meshd: config relay address %q: %w", addr, err)
			}
			port, err := strconv.ParseUint(portStr, 10, 16)
			if err != nil {
				return fmt.Errorf("meshd: config relay address %q: invalid port: %w", addr, err)
			}
			relayTable[pk] = append(relayTable[pk], wire.RelayAddress{Host: host, Port: uint16(port)})
		}
	}
	resolver := relaydiscovery.NewStaticResolver(relayTable)

	var index = localindex.New()

	d := NewDaemon(cfg, identity, st, index, resolver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Infof("shutting down")
	d.Stop()
	return nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	return store.Open(cfg.DataDir)
}

func loadOrCreateIdentity(seedFile string) (*xcrypto.Identity, error) {
	if seedFile == "" {
		return xcrypto.NewIdentity()
	}
	b, err := os.ReadFile(seedFile)
	if err != nil {
		if os.IsNotExist(err) {
			id, err := xcrypto.NewIdentity()
			if err != nil {
				return nil, err
			}
			return id, nil
		}
		return nil, err
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("meshd: identity seed file must hold exactly 32 bytes")
	}
	var seed [32]byte
	copy(seed[:], b)
	return xcrypto.IdentityFromSeed(seed), nil
}

func main() {
	if err := meshdMain(); err != nil {
		fmt.Fprintf(os.Stderr, "meshd: %v\n", err)
		os.Exit(1)
	}
}
