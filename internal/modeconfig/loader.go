package modeconfig

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/framepacer/fasd/internal/retry"
	"github.com/framepacer/fasd/internal/safe"
)

//go:embed standard.toml
var bundledStandard []byte

const (
	parseMaxRetries   = 10
	parseRetryBackoff = time.Second
	configMaxFileSize = 1 << 20
)

// Load resolves a Config at path: parse the standard profile embedded in
// the binary, parse the user profile at path (retrying up to 10 times
// with a roughly 1s backoff per spec §4.5), and merge them. If the user
// profile cannot be parsed at all after retries, Load falls back to the
// bundled standard profile alone, logging the reason.
func Load(path string, logger zerolog.Logger) (*Config, error) {
	stdDoc, err := decodeRawDocument(bundledStandard)
	if err != nil {
		return nil, fmt.Errorf("modeconfig: bundled standard profile is invalid: %w", err)
	}

	userDoc, err := loadUserDocumentWithRetry(context.Background(), path, logger)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).
			Msg("user config unparseable after retries, falling back to bundled standard profile")
		return resolve(stdDoc)
	}

	return resolve(mergeDocuments(stdDoc, userDoc))
}

func loadUserDocumentWithRetry(ctx context.Context, path string, logger zerolog.Logger) (rawDocument, error) {
	cfg := retry.Config{
		MaxRetries:     parseMaxRetries,
		InitialBackoff: parseRetryBackoff,
		MaxBackoff:     parseRetryBackoff,
	}

	var doc rawDocument
	err := retry.Do(ctx, cfg, func() error {
		data, ferr := safe.ReadFile(path, &safe.ReadFileOptions{MaxSize: configMaxFileSize})
		if ferr != nil {
			return ferr
		}
		d, perr := decodeRawDocument(data)
		if perr != nil {
			logger.Debug().Err(perr).Str("path", path).Msg("config parse attempt failed, retrying")
			return perr
		}
		doc = d
		return nil
	}, nil)

	return doc, err
}
