package main

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/keithlinneman/vitesheet/internal/cfg"
	"github.com/keithlinneman/vitesheet/internal/content"
	"github.com/keithlinneman/vitesheet/internal/cryptoutil"
	"github.com/keithlinneman/vitesheet/internal/log"
	"github.com/keithlinneman/vitesheet/internal/metrics"
	"github.com/keithlinneman/vitesheet/internal/xerrors"
)

// setupContent performs the initial load for the configured source and
// returns a function running its watcher, if updates are enabled. A failed
// initial load is not fatal: readiness stays down until a watcher swaps
// content in.
func setupContent(ctx context.Context, L log.Logger, conf cfg.App, mgr *content.Manager, m *metrics.ServerMetrics) (func(context.Context), error) {
	validation := content.ValidationOptions{MinPages: 1, RequireComplete: conf.RequireAllPages}
	onSwap := func(*content.Snapshot) { recordContent(m, mgr) }
	noop := func(context.Context) {}

	switch conf.Mode() {
	case cfg.ContentDisk:
		if err := loadDir(conf, mgr, validation); err != nil {
			L.Error(ctx, err, "initial content load failed", "dir", conf.ContentDir)
		} else {
			logLoaded(ctx, L, mgr)
			recordContent(m, mgr)
		}
		if !conf.EnableContentUpdates {
			return noop, nil
		}
		dw, err := content.NewDirWatcher(content.DirWatcherOptions{
			Logger:      L,
			Dir:         conf.ContentDir,
			PagePattern: conf.PagePattern,
			Manager:     mgr,
			Validation:  &validation,
			OnSwap:      onSwap,
			Metrics:     m,
		})
		if err != nil {
			return nil, xerrors.Wrap(err, "watch content dir")
		}
		return func(ctx context.Context) { _ = dw.Run(ctx) }, nil

	case cfg.ContentS3:
		loader, err := newS3Loader(ctx, L, conf)
		if err != nil {
			return nil, err
		}
		if err := loader.LoadIntoManager(ctx, mgr, validation); err != nil {
			L.Error(ctx, err, "initial content bundle load failed")
		} else {
			logLoaded(ctx, L, mgr)
			recordContent(m, mgr)
		}
		if !conf.EnableContentUpdates {
			return noop, nil
		}
		w := content.NewWatcher(content.WatcherOptions{
			Logger:       L,
			Loader:       loader,
			Manager:      mgr,
			PollInterval: conf.ContentPollInterval,
			Validation:   &validation,
			OnSwap:       onSwap,
			Metrics:      m,
		})
		return func(ctx context.Context) { _ = w.Run(ctx) }, nil

	default:
		L.Warn(ctx, "no content source configured, page endpoints will answer 503")
		return noop, nil
	}
}

func loadDir(conf cfg.App, mgr *content.Manager, opts content.ValidationOptions) error {
	snap, err := content.LoadDir(conf.ContentDir, conf.PagePattern)
	if err != nil {
		return err
	}
	if err := content.ValidateSnapshot(snap, opts); err != nil {
		return err
	}
	mgr.Set(*snap)
	return nil
}

func newS3Loader(ctx context.Context, L log.Logger, conf cfg.App) (*content.Loader, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, xerrors.Wrap(err, "load aws config")
	}
	opts := content.LoaderOptions{
		Logger:      L,
		SSMParam:    conf.ContentSSMParam,
		S3Bucket:    conf.ContentS3Bucket,
		S3Prefix:    conf.ContentS3Prefix,
		PagePattern: conf.PagePattern,
		AWSConfig:   &awsCfg,
	}
	if conf.ContentSigningKeyARN != "" {
		opts.Verifier = cryptoutil.NewKMSVerifier(kms.NewFromConfig(awsCfg), conf.ContentSigningKeyARN)
	}
	return content.NewLoader(ctx, opts)
}

func recordContent(m *metrics.ServerMetrics, mgr *content.Manager) {
	snap, ok := mgr.Get()
	if !ok {
		return
	}
	pages, missing := 0, 0
	if snap.Index != nil {
		pages, missing = snap.Index.Len(), len(snap.Index.Missing())
	}
	m.SetContent(string(snap.Meta.Source), snap.Meta.Hash, snap.Meta.Version, snap.LoadedAt, pages, missing)
}

func logLoaded(ctx context.Context, L log.Logger, mgr *content.Manager) {
	snap, ok := mgr.Get()
	if !ok {
		return
	}
	kv := []any{
		"content_source", snap.Meta.Source,
		"content_version", snap.Meta.Version,
		"content_hash", snap.Meta.Hash,
		"signed", snap.Meta.Signed,
	}
	if snap.Index != nil {
		kv = append(kv, "pages", snap.Index.Len(), "missing", len(snap.Index.Missing()))
	}
	L.Info(ctx, "content loaded", kv...)
}
