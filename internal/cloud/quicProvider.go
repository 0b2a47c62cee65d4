package cloud

import (
	"context"
	"crypto/tls"
	"log/slog"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/tidemark-io/tidemark-db/pkg/cloud"
	"github.com/tidemark-io/tidemark-db/pkg/types"
)

const (
	dialTimeout   = 10 * time.Second
	streamTimeout = 30 * time.Second
)

// QUICProvider is a cloud.Provider backed by a cloudserverd instance.
// It keeps one persistent QUIC connection and opens a fresh stream per
// request, reconnecting lazily after a connection failure. All
// transport faults surface as NETWORK_ERROR so the sync layer retries
// them.
type QUICProvider struct {
	address  string
	logger   *slog.Logger
	quicConf *quic.Config

	mu     sync.Mutex
	conn   *quic.Conn
	closed bool
}

func NewQUICProvider(logger *slog.Logger, address string) *QUICProvider {
	return &QUICProvider{
		address: address,
		logger:  logger,
		quicConf: &quic.Config{
			MaxIdleTimeout:  2 * time.Minute,
			KeepAlivePeriod: 15 * time.Second,
		},
	}
}

func (p *QUICProvider) connect(ctx context.Context) (*quic.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, types.NewError(types.StatusInvalidArgument, "provider is closed")
	}
	if p.conn != nil {
		return p.conn, nil
	}

	clientTLS := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{ALPNProtocol},
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, err := quic.DialAddr(dialCtx, p.address, clientTLS, p.quicConf)
	if err != nil {
		return nil, types.WrapError(types.StatusNetworkError, "quic dial "+p.address, err)
	}
	p.logger.Debug("cloud connection established", "address", p.address)
	p.conn = conn
	return conn, nil
}

func (p *QUICProvider) dropConn(conn *quic.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == conn {
		p.conn = nil
	}
}

// roundTrip sends one request frame and decodes the response into out.
// A nil out discards the response body.
func (p *QUICProvider) roundTrip(ctx context.Context, verb byte, req interface{}, out interface{}) error {
	conn, err := p.connect(ctx)
	if err != nil {
		return err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		p.dropConn(conn)
		return types.WrapError(types.StatusNetworkError, "open stream", err)
	}
	defer func() { _ = stream.Close() }()

	if err := stream.SetDeadline(time.Now().Add(streamTimeout)); err != nil {
		return types.WrapError(types.StatusNetworkError, "set stream deadline", err)
	}

	if err := WriteFrame(stream, verb, req); err != nil {
		p.dropConn(conn)
		return types.WrapError(types.StatusNetworkError, "send request", err)
	}

	status, payload, err := ReadFrame(stream)
	if err != nil {
		p.dropConn(conn)
		return types.WrapError(types.StatusNetworkError, "read response", err)
	}
	if status != responseOK {
		return ResponseError(status, payload)
	}
	if out != nil {
		if err := DecodeFrame(payload, out); err != nil {
			return types.WrapError(types.StatusInternalError, "decode response", err)
		}
	}
	return nil
}

func (p *QUICProvider) UploadCommits(ctx context.Context, page types.PageID, commits []cloud.CommitRecord) error {
	req := UploadCommitsRequest{Page: page, Commits: commits}
	return p.roundTrip(ctx, VerbUploadCommits, &req, nil)
}

func (p *QUICProvider) GetCommits(ctx context.Context, page types.PageID, after cloud.Position) ([]cloud.CommitRecord, cloud.Position, error) {
	req := GetCommitsRequest{Page: page, After: after}
	var resp GetCommitsResponse
	if err := p.roundTrip(ctx, VerbGetCommits, &req, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Commits, resp.Position, nil
}

func (p *QUICProvider) UploadObject(ctx context.Context, page types.PageID, id types.ObjectID, ciphertext []byte) error {
	req := UploadObjectRequest{Page: page, ID: id, Ciphertext: ciphertext}
	return p.roundTrip(ctx, VerbUploadObject, &req, nil)
}

func (p *QUICProvider) GetObject(ctx context.Context, page types.PageID, id types.ObjectID) ([]byte, error) {
	req := GetObjectRequest{Page: page, ID: id}
	var resp GetObjectResponse
	if err := p.roundTrip(ctx, VerbGetObject, &req, &resp); err != nil {
		return nil, err
	}
	return resp.Ciphertext, nil
}

func (p *QUICProvider) Erase(ctx context.Context) error {
	return p.roundTrip(ctx, VerbErase, nil, nil)
}

func (p *QUICProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.conn != nil {
		err := p.conn.CloseWithError(0, "provider closed")
		p.conn = nil
		return err
	}
	return nil
}

var _ cloud.Provider = (*QUICProvider)(nil)
