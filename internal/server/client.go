package server

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/rs/zerolog"

	"github.com/dreamware/ringdb/internal/apperr"
	"github.com/dreamware/ringdb/internal/coordinator"
	"github.com/dreamware/ringdb/internal/schema"
	"github.com/dreamware/ringdb/internal/wire"
)

// clientState is the client session state machine of spec.md §4.8:
// New -> AwaitingCredentials -> Authenticated -> Closed. "AwaitingAuth"
// from the spec's state list collapses into AwaitingCredentials here,
// since this implementation answers Authenticate synchronously within
// the same StartUp handler rather than modeling it as a separate wait
// state a client could observe.
type clientState int

const (
	stateNew clientState = iota
	stateAwaitingCredentials
	stateAuthenticated
	stateClosed
)

const requiredCQLVersion = "3.0.0"

// clientSession owns one client connection: a reader goroutine decodes
// frames and hands them to handleFrame, which writes the response
// directly back rather than through a separate writer goroutine and
// queue — unlike the peer connection, a client session's responses are
// always a direct reply to the request that just arrived on the same
// goroutine, so there is no independent producer that needs a channel.
type clientSession struct {
	conn  net.Conn
	state clientState
	sess  *schema.Session
	comp  wire.Compressor

	auth  *AuthStore
	coord *coordinator.Coordinator
	log   zerolog.Logger
}

func serveClientConn(ctx context.Context, conn net.Conn, auth *AuthStore, coord *coordinator.Coordinator, log zerolog.Logger) {
	defer conn.Close()
	cs := &clientSession{
		conn:  conn,
		state: stateNew,
		sess:  &schema.Session{},
		auth:  auth,
		coord: coord,
		log:   log.With().Str("remote", conn.RemoteAddr().String()).Logger(),
	}
	for {
		f, err := wire.ReadFrame(conn, cs.comp)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				cs.log.Debug().Err(err).Msg("client connection closed")
			}
			return
		}
		if err := cs.handleFrame(ctx, f); err != nil {
			cs.log.Warn().Err(err).Msg("client frame handling failed")
			return
		}
		if cs.state == stateClosed {
			return
		}
	}
}

func (cs *clientSession) reply(f *wire.Frame) error {
	return wire.WriteFrame(cs.conn, f, cs.comp)
}

func (cs *clientSession) replyError(streamID int16, err error) error {
	var code int32
	msg := err.Error()
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		code = appErr.Code()
	}
	return cs.reply(wire.NewFrame(wire.VersionResponse, streamID, wire.OpError, wire.EncodeError(code, msg)))
}

// handleFrame dispatches one decoded request frame per the client
// session state machine: StartUp is only valid in New, AuthResponse
// only in AwaitingCredentials, Query only once Authenticated.
func (cs *clientSession) handleFrame(ctx context.Context, f *wire.Frame) error {
	switch f.Opcode {
	case wire.OpStartUp:
		return cs.handleStartUp(f)
	case wire.OpAuthResponse:
		return cs.handleAuthResponse(f)
	case wire.OpQuery:
		return cs.handleQuery(ctx, f)
	default:
		return cs.replyError(f.StreamID, apperr.Newf(apperr.KindAuth, "opcode 0x%02x not valid before authentication", f.Opcode))
	}
}

func (cs *clientSession) handleStartUp(f *wire.Frame) error {
	if cs.state != stateNew {
		return cs.replyError(f.StreamID, apperr.New(apperr.KindAuth, "unexpected StartUp"))
	}
	body, err := wire.DecodeStartUp(f.Body)
	if err != nil {
		return cs.replyError(f.StreamID, apperr.Wrap(apperr.KindCodec, err, "decode StartUp"))
	}
	if body.Options["CQL_VERSION"] != requiredCQLVersion {
		cs.state = stateClosed
		return cs.replyError(f.StreamID, apperr.Newf(apperr.KindAuth, "unsupported CQL_VERSION %q", body.Options["CQL_VERSION"]))
	}
	if name := body.Options["COMPRESSION"]; name != "" {
		comp := wire.NewCompressor(name)
		if comp == nil {
			return cs.replyError(f.StreamID, apperr.Newf(apperr.KindCodec, "unsupported compression %q", name))
		}
		// From here on every frame on the connection, in both directions,
		// uses cs.comp: the Authenticate reply below and the later
		// AuthSuccess are already compressed before authentication
		// completes, matching the unconditional-compression quirk
		// spec.md §9 documents.
		cs.comp = comp
	}
	cs.state = stateAwaitingCredentials
	return cs.reply(wire.NewFrame(wire.VersionResponse, f.StreamID, wire.OpAuthenticate, wire.EncodeAuthenticate("PasswordAuthenticator")))
}

func (cs *clientSession) handleAuthResponse(f *wire.Frame) error {
	if cs.state != stateAwaitingCredentials {
		return cs.replyError(f.StreamID, apperr.New(apperr.KindAuth, "unexpected AuthResponse"))
	}
	body, err := wire.DecodeAuthResponse(f.Body)
	if err != nil {
		return cs.replyError(f.StreamID, apperr.Wrap(apperr.KindCodec, err, "decode AuthResponse"))
	}
	if !cs.auth.Authenticate(body.Token) {
		cs.state = stateClosed
		return cs.replyError(f.StreamID, apperr.New(apperr.KindAuth, "unknown credentials"))
	}
	cs.state = stateAuthenticated
	return cs.reply(wire.NewFrame(wire.VersionResponse, f.StreamID, wire.OpAuthSuccess, nil))
}

func (cs *clientSession) handleQuery(ctx context.Context, f *wire.Frame) error {
	if cs.state != stateAuthenticated {
		return cs.replyError(f.StreamID, apperr.New(apperr.KindAuth, "Query before authentication"))
	}
	body, err := wire.DecodeQuery(f.Body)
	if err != nil {
		return cs.replyError(f.StreamID, apperr.Wrap(apperr.KindCodec, err, "decode Query"))
	}
	result, err := cs.coord.Execute(ctx, cs.sess, body.Query, body.Consistency)
	if err != nil {
		return cs.replyError(f.StreamID, err)
	}
	return cs.reply(wire.NewFrame(wire.VersionResponse, f.StreamID, wire.OpResult, encodeResult(result)))
}

func encodeResult(r *wire.ResultBody) []byte {
	switch r.Kind {
	case wire.ResultVoid:
		return wire.EncodeResultVoid()
	case wire.ResultSetKeyspace:
		return wire.EncodeResultSetKeyspace(r.Keyspace)
	case wire.ResultSchemaChange:
		return wire.EncodeResultSchemaChange(r.Change)
	case wire.ResultRows:
		return wire.EncodeResultRows(r.Rows)
	default:
		return wire.EncodeResultVoid()
	}
}
