//go:build gcp

package main

import (
	"context"

	"github.com/trustprimitive/core/pkg/archive"
	"github.com/trustprimitive/core/pkg/config"
)

func newGCSArchive(ctx context.Context, cfg *config.Config) (archive.Archive, error) {
	return archive.NewGCSArchive(ctx, archive.GCSConfig{
		Bucket: cfg.ArchiveBucket,
		Prefix: cfg.ArchivePrefix,
	})
}
