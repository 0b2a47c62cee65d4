// Package cloudserver implements the commit relay that devices sync
// against. It speaks the frame protocol from internal/cloud over QUIC
// and stores everything it receives as opaque ciphertext; the server
// never holds a decryption key.
package cloudserver

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	transport "github.com/tidemark-io/tidemark-db/internal/cloud"
	"github.com/tidemark-io/tidemark-db/internal/keyValStore"
	"github.com/tidemark-io/tidemark-db/pkg/types"
)

const streamTimeout = 30 * time.Second

// Server accepts QUIC connections from devices and serves the relay
// verbs against its local store.
type Server struct {
	logger *slog.Logger
	store  *store

	mu       sync.Mutex
	listener *quic.Listener
	closed   bool
	wg       sync.WaitGroup
}

func NewServer(logger *slog.Logger, kv *keyValStore.KeyValStore) *Server {
	return &Server{
		logger: logger,
		store:  newStore(kv),
	}
}

// Listen binds the server and starts serving until ctx is cancelled or
// Close is called. It returns after the listener is bound; serving
// continues in the background.
func (s *Server) Listen(ctx context.Context, address string) error {
	tlsConf, err := generateTLSConfig()
	if err != nil {
		return fmt.Errorf("generate TLS config: %w", err)
	}

	quicConf := &quic.Config{
		MaxIdleTimeout:     2 * time.Minute,
		KeepAlivePeriod:    15 * time.Second,
		MaxIncomingStreams: 256,
	}

	listener, err := quic.ListenAddr(address, tlsConf, quicConf)
	if err != nil {
		return fmt.Errorf("quic listen: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = listener.Close()
		return errors.New("server is closed")
	}
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("cloud relay listening", "address", listener.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop(ctx, listener)
	return nil
}

// Addr returns the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) acceptLoop(ctx context.Context, listener *quic.Listener) {
	defer s.wg.Done()
	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil && !s.isClosed() {
				s.logger.Warn("accept failed", "error", err)
			}
			return
		}
		s.wg.Add(1)
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn *quic.Conn) {
	defer s.wg.Done()
	s.logger.Debug("device connected", "remote", conn.RemoteAddr().String())
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveStream(stream)
		}()
	}
}

// serveStream handles exactly one request/response exchange.
func (s *Server) serveStream(stream *quic.Stream) {
	defer func() { _ = stream.Close() }()

	if err := stream.SetDeadline(time.Now().Add(streamTimeout)); err != nil {
		return
	}

	verb, payload, err := transport.ReadFrame(stream)
	if err != nil {
		s.logger.Debug("bad request frame", "error", err)
		return
	}

	body, err := s.dispatch(verb, payload)
	if err != nil {
		s.logger.Warn("request failed", "verb", verb, "status", types.StatusOf(err).String(), "error", err)
		status := byte(types.StatusOf(err))
		_ = transport.WriteFrame(stream, status, &transport.ErrorResponse{Message: err.Error()})
		return
	}
	if err := transport.WriteFrame(stream, 0, body); err != nil {
		s.logger.Debug("write response failed", "error", err)
	}
}

// dispatch decodes and executes one verb. A nil body with nil error
// produces an empty success frame.
func (s *Server) dispatch(verb byte, payload []byte) (interface{}, error) {
	switch verb {
	case transport.VerbUploadCommits:
		var req transport.UploadCommitsRequest
		if err := transport.DecodeFrame(payload, &req); err != nil {
			return nil, types.WrapError(types.StatusInvalidArgument, "malformed upload", err)
		}
		return nil, s.store.appendCommits(req.Page, req.Commits)

	case transport.VerbGetCommits:
		var req transport.GetCommitsRequest
		if err := transport.DecodeFrame(payload, &req); err != nil {
			return nil, types.WrapError(types.StatusInvalidArgument, "malformed download", err)
		}
		commits, pos, err := s.store.commitsAfter(req.Page, req.After)
		if err != nil {
			return nil, err
		}
		return &transport.GetCommitsResponse{Commits: commits, Position: pos}, nil

	case transport.VerbUploadObject:
		var req transport.UploadObjectRequest
		if err := transport.DecodeFrame(payload, &req); err != nil {
			return nil, types.WrapError(types.StatusInvalidArgument, "malformed object upload", err)
		}
		return nil, s.store.putObject(req.Page, req.ID, req.Ciphertext)

	case transport.VerbGetObject:
		var req transport.GetObjectRequest
		if err := transport.DecodeFrame(payload, &req); err != nil {
			return nil, types.WrapError(types.StatusInvalidArgument, "malformed object request", err)
		}
		data, err := s.store.getObject(req.Page, req.ID)
		if err != nil {
			return nil, err
		}
		return &transport.GetObjectResponse{Ciphertext: data}, nil

	case transport.VerbErase:
		return nil, s.store.erase()

	default:
		return nil, types.NewError(types.StatusInvalidArgument,
			fmt.Sprintf("unknown verb 0x%02x", verb))
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops the listener and waits for in-flight streams to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listener := s.listener
	s.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}
	s.wg.Wait()
	return err
}

// generateTLSConfig creates a TLS configuration with a self-signed
// certificate. Devices pin nothing and skip verification; the payload
// is end-to-end encrypted, QUIC's TLS only keeps casual observers out.
func generateTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"TidemarkDB"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(
		rand.Reader,
		&template,
		&template,
		&key.PublicKey,
		key,
	)
	if err != nil {
		return nil, err
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	certPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: certDER,
	})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{transport.ALPNProtocol},
	}, nil
}
