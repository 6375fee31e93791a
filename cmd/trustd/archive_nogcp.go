//go:build !gcp

package main

import (
	"context"
	"errors"

	"github.com/trustprimitive/core/pkg/archive"
	"github.com/trustprimitive/core/pkg/config"
)

func newGCSArchive(_ context.Context, _ *config.Config) (archive.Archive, error) {
	return nil, errors.New("gcs archive backend requires building with -tags gcp")
}
