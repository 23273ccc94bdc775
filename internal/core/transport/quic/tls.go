package quic

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/retoro/go-retoro/pkg/lib/crypto"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/types"
)

// alpn 应用层协议
const alpn = "retoro"

var (
	// ErrNoCertificate 对端未提供证书
	ErrNoCertificate = errors.New("quic: peer presented no certificate")

	// ErrUnsupportedKey 证书公钥不是 ed25519
	ErrUnsupportedKey = errors.New("quic: certificate key is not ed25519")
)

// tlsConfig 由身份私钥生成自签名证书
func tlsConfig(id pkgif.Identity) (*tls.Config, error) {
	edPriv, ok := id.PrivateKey().(*crypto.Ed25519PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, id.PrivateKey())
	}
	key := edPriv.Std()

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: id.ID().String()},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(180 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	if err != nil {
		return nil, fmt.Errorf("创建证书失败: %w", err)
	}

	// 自签名证书没有 CA，身份由 VerifyPeerCertificate 从公钥派生
	return &tls.Config{
		Certificates:          []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		NextProtos:            []string{alpn},
		InsecureSkipVerify:    true,
		ClientAuth:            tls.RequireAnyClientCert,
		VerifyPeerCertificate: verifyPeerCertificate,
		MinVersion:            tls.VersionTLS13,
	}, nil
}

func verifyPeerCertificate(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	_, _, err := peerFromCert(rawCerts)
	return err
}

// peerFromCert 从证书链首证书提取身份
func peerFromCert(rawCerts [][]byte) (types.PeerID, crypto.PublicKey, error) {
	if len(rawCerts) == 0 {
		return types.EmptyPeerID, nil, ErrNoCertificate
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return types.EmptyPeerID, nil, fmt.Errorf("解析证书失败: %w", err)
	}
	now := time.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return types.EmptyPeerID, nil, errors.New("quic: certificate not valid now")
	}
	edPub, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok {
		return types.EmptyPeerID, nil, ErrUnsupportedKey
	}
	if err := cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature); err != nil {
		return types.EmptyPeerID, nil, fmt.Errorf("quic: bad certificate signature: %w", err)
	}
	pub, err := crypto.UnmarshalEd25519PublicKey(edPub)
	if err != nil {
		return types.EmptyPeerID, nil, err
	}
	id, err := crypto.PeerIDFromPublicKey(pub)
	if err != nil {
		return types.EmptyPeerID, nil, err
	}
	return id, pub, nil
}
