package cryptoutil

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/keithlinneman/vitesheet/internal/xerrors"
)

// PublicKeyFetcher is the subset of the KMS client used here.
type PublicKeyFetcher interface {
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
}

// KMSVerifier verifies detached signatures made by a KMS signing key.
type KMSVerifier struct {
	client PublicKeyFetcher
	keyARN string

	mu     sync.Mutex
	pubKey crypto.PublicKey
}

func NewKMSVerifier(client PublicKeyFetcher, keyARN string) *KMSVerifier {
	return &KMSVerifier{client: client, keyARN: keyARN}
}

// KeyARN returns the configured key identifier.
func (v *KMSVerifier) KeyARN() string { return v.keyARN }

// PublicKey returns the verification key, fetching it from KMS on first use.
// A failed fetch is not cached, the next call retries.
func (v *KMSVerifier) PublicKey(ctx context.Context) (crypto.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pubKey != nil {
		return v.pubKey, nil
	}
	if v.client == nil {
		return nil, xerrors.New("kms client is not configured")
	}

	out, err := v.client.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(v.keyARN)})
	if err != nil {
		return nil, xerrors.Wrapf(err, "kms get public key %s", v.keyARN)
	}
	if out.KeyUsage != kmstypes.KeyUsageTypeSignVerify {
		return nil, xerrors.Newf("kms key %s has KeyUsage=%s, expected SIGN_VERIFY", v.keyARN, out.KeyUsage)
	}
	pub, err := x509.ParsePKIXPublicKey(out.PublicKey)
	if err != nil {
		return nil, xerrors.Wrap(err, "parse kms public key DER")
	}
	v.pubKey = pub
	return pub, nil
}

// VerifySignature checks signature over message. ECDSA keys use SHA-256
// (P-256) or SHA-384 (P-384); RSA keys use SHA-256 with PSS.
func (v *KMSVerifier) VerifySignature(ctx context.Context, message, signature []byte) error {
	pub, err := v.PublicKey(ctx)
	if err != nil {
		return err
	}
	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		return verifyECDSA(key, message, signature)
	case *rsa.PublicKey:
		digest := sha256.Sum256(message)
		if err := rsa.VerifyPSS(key, crypto.SHA256, digest[:], signature, nil); err != nil {
			return xerrors.Wrap(err, "RSA-PSS signature verification failed")
		}
		return nil
	default:
		return xerrors.Newf("unsupported public key type: %T", pub)
	}
}

func verifyECDSA(key *ecdsa.PublicKey, message, signature []byte) error {
	var digest []byte
	switch key.Curve {
	case elliptic.P256():
		d := sha256.Sum256(message)
		digest = d[:]
	case elliptic.P384():
		d := sha512.Sum384(message)
		digest = d[:]
	default:
		return xerrors.Newf("unsupported ECDSA curve: %s", key.Curve.Params().Name)
	}
	if !ecdsa.VerifyASN1(key, digest, signature) {
		return xerrors.Newf("ECDSA signature verification failed (curve %s)", key.Curve.Params().Name)
	}
	return nil
}
