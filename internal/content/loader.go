package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/vitesheet/internal/cryptoutil"
	"github.com/keithlinneman/vitesheet/internal/log"
	"github.com/keithlinneman/vitesheet/internal/xerrors"
)

// maxSignatureSize bounds the detached signature object.
const maxSignatureSize int64 = 16 * 1024

// S3API is the subset of the S3 client the loader uses.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// SSMAPI is the subset of the SSM client the loader uses.
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SignatureVerifier checks a detached signature. The signed message is the
// lower-case hex SHA-256 of the bundle.
type SignatureVerifier interface {
	VerifySignature(ctx context.Context, message, signature []byte) error
}

type LoaderOptions struct {
	Logger log.Logger

	// SSM parameter containing the bundle SHA-256
	SSMParam string

	// S3 location for bundles: s3://{bucket}/{prefix}/{hash}.tar.gz
	S3Bucket string
	S3Prefix string

	// PagePattern selects page files inside the bundle. Empty means
	// DefaultPagePattern.
	PagePattern string

	// Verifier, when set, requires {hash}.tar.gz.sig next to every bundle.
	Verifier SignatureVerifier

	// AWSConfig is used when a client below is nil. Nil loads the default chain.
	AWSConfig *aws.Config
	S3Client  S3API
	SSMClient SSMAPI
}

type Loader struct {
	opts      LoaderOptions
	s3Client  S3API
	ssmClient SSMAPI
	logger    log.Logger
}

// NewLoader creates a Loader, building AWS clients only for the ones not
// supplied in opts.
func NewLoader(ctx context.Context, opts LoaderOptions) (*Loader, error) {
	var errs []error
	if opts.SSMParam == "" {
		errs = append(errs, xerrors.New("SSMParam is required"))
	}
	if opts.S3Bucket == "" {
		errs = append(errs, xerrors.New("S3Bucket is required"))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	opts.S3Prefix = strings.Trim(opts.S3Prefix, "/")

	if opts.S3Client == nil || opts.SSMClient == nil {
		var awsCfg aws.Config
		if opts.AWSConfig != nil {
			awsCfg = *opts.AWSConfig
		} else {
			var err error
			awsCfg, err = config.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, xerrors.Wrap(err, "load AWS config")
			}
		}
		if opts.S3Client == nil {
			opts.S3Client = s3.NewFromConfig(awsCfg)
		}
		if opts.SSMClient == nil {
			opts.SSMClient = ssm.NewFromConfig(awsCfg)
		}
	}

	return &Loader{
		opts:      opts,
		s3Client:  opts.S3Client,
		ssmClient: opts.SSMClient,
		logger:    opts.Logger,
	}, nil
}

// FetchCurrentBundleHash reads the published bundle hash from SSM.
func (l *Loader) FetchCurrentBundleHash(ctx context.Context) (string, error) {
	out, err := l.ssmClient.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(l.opts.SSMParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", l.opts.SSMParam)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", l.opts.SSMParam)
	}

	hash := strings.ToLower(strings.TrimSpace(*out.Parameter.Value))
	if hash == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", l.opts.SSMParam)
	}
	if !cryptoutil.ValidSHA256Hex(hash) {
		return "", xerrors.Newf("SSM parameter %s is not a sha256 digest", l.opts.SSMParam)
	}
	return hash, nil
}

func (l *Loader) s3Key(hash string) string {
	if l.opts.S3Prefix != "" {
		return fmt.Sprintf("%s/%s.tar.gz", l.opts.S3Prefix, hash)
	}
	return fmt.Sprintf("%s.tar.gz", hash)
}

func (l *Loader) getObject(ctx context.Context, key string, maxSize int64) ([]byte, string, error) {
	out, err := l.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.opts.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", xerrors.Wrapf(err, "get S3 object s3://%s/%s", l.opts.S3Bucket, key)
	}
	defer out.Body.Close()

	if out.ContentLength != nil && *out.ContentLength > maxSize {
		return nil, "", xerrors.Newf("s3://%s/%s is %d bytes, limit %d", l.opts.S3Bucket, key, *out.ContentLength, maxSize)
	}
	return readWithHash(out.Body, maxSize)
}

// Download fetches the bundle for hash and checks its digest.
func (l *Loader) Download(ctx context.Context, hash string) ([]byte, error) {
	key := l.s3Key(hash)
	l.logger.Info(ctx, "downloading content bundle",
		"bucket", l.opts.S3Bucket,
		"key", key,
		"expected_hash", truncHash(hash),
	)

	data, actual, err := l.getObject(ctx, key, maxBundleSize)
	if err != nil {
		return nil, xerrors.Wrap(err, "download bundle")
	}
	if !cryptoutil.HashEqual(actual, hash) {
		return nil, xerrors.Newf("checksum mismatch: expected %s, got %s", hash, actual)
	}

	l.logger.Info(ctx, "downloaded content bundle", "bytes", len(data), "hash", truncHash(actual))
	return data, nil
}

// verify fetches the detached signature for hash and checks it.
func (l *Loader) verify(ctx context.Context, hash string) error {
	key := l.s3Key(hash) + ".sig"
	sig, _, err := l.getObject(ctx, key, maxSignatureSize)
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return xerrors.Newf("bundle %s is unsigned", truncHash(hash))
		}
		return xerrors.Wrap(err, "fetch signature")
	}
	if err := l.opts.Verifier.VerifySignature(ctx, []byte(strings.ToLower(hash)), sig); err != nil {
		return xerrors.Wrapf(err, "verify signature for %s", truncHash(hash))
	}
	return nil
}

// Load fetches the currently published bundle.
func (l *Loader) Load(ctx context.Context) (*Snapshot, error) {
	hash, err := l.FetchCurrentBundleHash(ctx)
	if err != nil {
		return nil, err
	}
	return l.LoadHash(ctx, hash)
}

// LoadHash fetches, verifies and indexes the bundle for hash.
func (l *Loader) LoadHash(ctx context.Context, hash string) (*Snapshot, error) {
	data, err := l.Download(ctx, hash)
	if err != nil {
		return nil, err
	}

	signed := false
	if l.opts.Verifier != nil {
		if err := l.verify(ctx, hash); err != nil {
			return nil, err
		}
		signed = true
	}

	fsys, err := ExtractTarGz(data)
	if err != nil {
		return nil, xerrors.Wrap(err, "extract bundle")
	}

	snap, err := newSnapshot(fsys, l.opts.PagePattern, Meta{
		Hash:       strings.ToLower(hash),
		Source:     SourceS3,
		VerifiedAt: time.Now().UTC(),
		Signed:     signed,
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info(ctx, "loaded content bundle",
		"hash", truncHash(hash),
		"version", snap.Meta.Version,
		"pages", snap.Index.Len(),
		"signed", signed,
	)
	return snap, nil
}

// LoadIntoManager loads the current bundle, validates it and publishes it.
func (l *Loader) LoadIntoManager(ctx context.Context, mgr *Manager, opts ValidationOptions) error {
	snap, err := l.Load(ctx)
	if err != nil {
		return err
	}
	if err := ValidateSnapshot(snap, opts); err != nil {
		return err
	}
	mgr.Set(*snap)
	return nil
}
