package server

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/rs/zerolog"

	"github.com/dreamware/ringdb/internal/apperr"
	"github.com/dreamware/ringdb/internal/coordinator"
	"github.com/dreamware/ringdb/internal/gossip"
)

// Config bundles everything Server needs beyond the already-constructed
// shared singletons (ring, schema manager, gossiper, coordinator):
// the two listen addresses and the identity/credentials it loads at
// startup.
type Config struct {
	InternalAddr     string
	ClientAddr       string
	IdentityPath     string
	IdentityPassword string
	CredentialsPath  string
}

// Server owns the two TCP listeners a ringdb node exposes: the
// internal peer port (plaintext, gossip + coordinator frames) and the
// external client port (TLS, the CQL-subset wire protocol). Both
// accept loops run until their listener closes or ctx is cancelled.
type Server struct {
	cfg   Config
	gos   *gossip.Gossiper
	coord *coordinator.Coordinator
	auth  *AuthStore
	tlsC  *tls.Config
	log   zerolog.Logger

	internalLn net.Listener
	clientLn   net.Listener
}

// New loads the node's credential store and TLS identity and returns a
// Server ready to ListenAndServe. It does not bind any socket yet, so
// bind failures surface from ListenAndServe rather than from New.
func New(cfg Config, gos *gossip.Gossiper, coord *coordinator.Coordinator, log zerolog.Logger) (*Server, error) {
	auth, err := LoadAuthStore(cfg.CredentialsPath)
	if err != nil {
		return nil, err
	}
	tlsC, err := loadIdentity(cfg.IdentityPath, cfg.IdentityPassword)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:   cfg,
		gos:   gos,
		coord: coord,
		auth:  auth,
		tlsC:  tlsC,
		log:   log,
	}, nil
}

// ListenAndServe binds both sockets and accepts connections until ctx
// is cancelled, returning once both accept loops have stopped. A bind
// failure on either socket returns immediately without waiting for the
// other loop.
func (s *Server) ListenAndServe(ctx context.Context) error {
	internalLn, err := net.Listen("tcp", s.cfg.InternalAddr)
	if err != nil {
		return apperr.Wrapf(apperr.KindServer, err, "bind internal listener on %q", s.cfg.InternalAddr)
	}
	s.internalLn = internalLn

	clientLn, err := tls.Listen("tcp", s.cfg.ClientAddr, s.tlsC)
	if err != nil {
		internalLn.Close()
		return apperr.Wrapf(apperr.KindServer, err, "bind client listener on %q", s.cfg.ClientAddr)
	}
	s.clientLn = clientLn

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		s.internalLn.Close()
		s.clientLn.Close()
		close(done)
	}()

	errs := make(chan error, 2)
	go func() { errs <- s.acceptInternal(ctx) }()
	go func() { errs <- s.acceptClients(ctx) }()

	err = <-errs
	<-errs
	<-done
	return err
}

func (s *Server) acceptInternal(ctx context.Context) error {
	for {
		conn, err := s.internalLn.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return apperr.Wrap(apperr.KindServer, err, "accept internal connection")
		}
		go servePeerConn(ctx, conn, s.gos, s.coord, s.log)
	}
}

func (s *Server) acceptClients(ctx context.Context) error {
	for {
		conn, err := s.clientLn.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return apperr.Wrap(apperr.KindServer, err, "accept client connection")
		}
		go serveClientConn(ctx, conn, s.auth, s.coord, s.log)
	}
}
