// Package main is the ringdb node binary: it wires the ring, schema
// manager, gossiper, coordinator and the two TCP listeners together
// and runs until `exit` is read from stdin or the process receives a
// termination signal.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dreamware/ringdb/internal/coordinator"
	"github.com/dreamware/ringdb/internal/gossip"
	"github.com/dreamware/ringdb/internal/logging"
	"github.com/dreamware/ringdb/internal/ring"
	"github.com/dreamware/ringdb/internal/schema"
	"github.com/dreamware/ringdb/internal/server"
)

type nodeFlags struct {
	seed             string
	rf               int
	dataDir          string
	credentials      string
	identity         string
	identityPassword string
	gossipInterval   time.Duration
}

func main() {
	flags := &nodeFlags{}
	cmd := &cobra.Command{
		Use:   "ringdb-node <internal-addr> <client-addr>",
		Short: "Run one ringdb storage node",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return run(args[0], args[1], flags)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVar(&flags.seed, "seed", "", "seed peer address contacted at startup")
	cmd.Flags().IntVar(&flags.rf, "rf", 3, "default replication factor for new keyspaces")
	cmd.Flags().StringVar(&flags.dataDir, "data-dir", ".", "directory for SSTable/schema/log files")
	cmd.Flags().StringVar(&flags.credentials, "credentials", "credentials.json", "path to the user/password JSON file")
	cmd.Flags().StringVar(&flags.identity, "identity", "identity.p12", "path to the PKCS#12 TLS identity file")
	cmd.Flags().StringVar(&flags.identityPassword, "identity-password", "", "PKCS#12 bundle password")
	cmd.Flags().DurationVar(&flags.gossipInterval, "gossip-interval", time.Second, "gossip tick period")

	if err := cmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a startup failure to one of spec.md §6.1's
// concretely distinguishable exit codes: 1 for a listener bind
// failure, 2 for a corrupt or unreadable schema file, 1 for anything
// else encountered before the node is up and serving.
func exitCodeFor(err error) int {
	if e, ok := err.(*startupError); ok {
		return e.code
	}
	return 1
}

type startupError struct {
	code int
	err  error
}

func (e *startupError) Error() string { return e.err.Error() }
func (e *startupError) Unwrap() error { return e.err }

func run(internalAddr, clientAddr string, flags *nodeFlags) error {
	log := logging.New(internalAddr, os.Stderr)

	r := ring.New()
	r.AddNode(internalAddr)

	sch := schema.New(flags.dataDir)
	if err := sch.Load(); err != nil {
		return &startupError{code: 2, err: fmt.Errorf("load schema: %w", err)}
	}

	peer := server.NewPeerTransport(log)

	var coord *coordinator.Coordinator
	onJoin := func(newPeer string) {
		if coord != nil {
			coord.OnPeerJoin(newPeer)
		}
	}
	gos := gossip.New(internalAddr, peer, onJoin, log)

	coord = coordinator.New(internalAddr, flags.dataDir, flags.rf, r, sch, gos, peer, log)

	if flags.seed != "" {
		r.AddNode(flags.seed)
		gos.Bootstrap(flags.seed)
	}

	srv, err := server.New(server.Config{
		InternalAddr:     internalAddr,
		ClientAddr:       clientAddr,
		IdentityPath:     flags.identity,
		IdentityPassword: flags.identityPassword,
		CredentialsPath:  flags.credentials,
	}, gos, coord, log)
	if err != nil {
		return &startupError{code: 1, err: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go gos.Run(ctx, flags.gossipInterval)

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- srv.ListenAndServe(ctx) }()

	go watchStdin(ctx, cancel, coord, log)

	select {
	case <-sigCh:
		log.Info().Msg("received termination signal, shutting down")
		cancel()
	case err := <-serveErrCh:
		if err != nil {
			return &startupError{code: 1, err: err}
		}
		return nil
	case <-ctx.Done():
	}

	<-serveErrCh
	return nil
}

// watchStdin reads lines from stdin until it sees the literal command
// "exit", at which point the node leaves the cluster gracefully (ring
// and gossip tell every neighbour to stop routing to it) before
// cancelling ctx to unwind ListenAndServe.
func watchStdin(ctx context.Context, cancel context.CancelFunc, coord *coordinator.Coordinator, log zerolog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if scanner.Text() == "exit" {
			leaveCtx, leaveCancel := context.WithTimeout(ctx, 10*time.Second)
			if err := coord.Leave(leaveCtx); err != nil {
				log.Warn().Err(err).Msg("graceful leave failed")
			}
			leaveCancel()
			cancel()
			return
		}
	}
}
