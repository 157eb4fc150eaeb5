package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// Idle links are kept alive by QUIC pings; a remote that vanishes without
// closing is dropped after linkIdle.
const (
	alpn          = "peer-mesh/1"
	linkKeepAlive = 5 * time.Second
	linkIdle      = 20 * time.Second
)

// Transport is the QUIC listener/dialer used to bootstrap a node into the
// mesh. Links it produces are open as soon as both sides exchanged ids.
type Transport struct {
	id       string
	listener *quic.Listener
	tlsConf  *tls.Config
	quicConf *quic.Config
}

func NewTransport(id, addr string) (*Transport, error) {
	if id == "" {
		return nil, errors.New("transport needs a local peer id")
	}

	cert, err := ephemeralCert(id)
	if err != nil {
		return nil, fmt.Errorf("generating certificate: %w", err)
	}
	// Peers authenticate by the id exchanged on the control stream, not by
	// certificate chain.
	tlsConf := &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true,
		NextProtos:         []string{alpn},
		MinVersion:         tls.VersionTLS13,
	}
	quicConf := &quic.Config{KeepAlivePeriod: linkKeepAlive, MaxIdleTimeout: linkIdle}

	ln, err := quic.ListenAddr(addr, tlsConf, quicConf)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	return &Transport{
		id:       id,
		listener: ln,
		tlsConf:  tlsConf,
		quicConf: quicConf,
	}, nil
}

func (t *Transport) LocalAddr() net.Addr {
	return t.listener.Addr()
}

// Dial connects to addr, opens the control stream and exchanges peer ids.
func (t *Transport) Dial(ctx context.Context, addr string) (*Peer, error) {
	conn, err := quic.DialAddr(ctx, addr, t.tlsConf, t.quicConf)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, fmt.Errorf("opening control stream: %w", err)
	}

	if err := writeFrame(stream, []byte(t.id)); err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, fmt.Errorf("sending hello: %w", err)
	}
	remote, err := readHello(ctx, stream)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, err
	}

	return newPeer(remote, conn, stream), nil
}

// Accept waits for the next inbound connection and completes the id
// exchange.
func (t *Transport) Accept(ctx context.Context) (*Peer, error) {
	conn, err := t.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, fmt.Errorf("accepting control stream: %w", err)
	}

	remote, err := readHello(ctx, stream)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, err
	}
	if err := writeFrame(stream, []byte(t.id)); err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	return newPeer(remote, conn, stream), nil
}

func (t *Transport) Close() error {
	return t.listener.Close()
}

// ephemeralCert issues a throwaway ed25519 certificate naming the peer id.
// It lives only as long as the process.
func ephemeralCert(id string) (tls.Certificate, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return tls.Certificate{}, err
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: id},
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv, Leaf: leaf}, nil
}

func readHello(ctx context.Context, stream *quic.Stream) (string, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetReadDeadline(deadline)
		defer func() { _ = stream.SetReadDeadline(time.Time{}) }()
	}

	hello, err := readFrame(stream)
	if err != nil {
		return "", fmt.Errorf("reading hello: %w", err)
	}
	if len(hello) == 0 {
		return "", errors.New("empty peer id in hello")
	}
	return string(hello), nil
}
