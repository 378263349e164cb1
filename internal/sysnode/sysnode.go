// Package sysnode implements the mode node filesystem surface of spec
// §3/§4.5/§6: a directory created fresh at startup containing a single
// "mode" file, re-read at most once per second. Grounded on
// fas-rs-fw/src/node.rs's init/read_mode (NODE_PATH, recreate-then-create,
// default-to-Balance-on-parse-failure).
package sysnode

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/framepacer/fasd/internal/fastype"
	"github.com/framepacer/fasd/internal/safe"
)

const (
	modeFileName  = "mode"
	refreshWindow = time.Second
)

// Node owns the mode-node directory: creating it fresh at startup and
// serving a refresh-cached ReadMode.
type Node struct {
	dir    string
	logger zerolog.Logger

	mu         sync.Mutex
	cached     fastype.Mode
	lastRead   time.Time
	haveCached bool
}

// New recreates dir fresh (removing any prior contents, matching the
// original's fs::remove_dir_all then create_dir) and writes an initial
// "balance" mode file.
func New(dir string, logger zerolog.Logger) (*Node, error) {
	if err := os.RemoveAll(dir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	n := &Node{dir: dir, logger: logger.With().Str("component", "sysnode").Logger()}
	if err := n.WriteMode(fastype.ModeBalance); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Node) modePath() string {
	return filepath.Join(n.dir, modeFileName)
}

// WriteMode overwrites the mode file. Used at startup; the
// core itself never writes its own mode node in steady state (spec §6:
// "the mode node... [is] read-only from the core's perspective").
func (n *Node) WriteMode(mode fastype.Mode) error {
	return os.WriteFile(n.modePath(), []byte(mode.String()), 0o644)
}

// ReadMode returns the current mode, re-reading the file at most once
// per second (spec §3's "<=1/s" refresh rule) and caching the result in
// between. An unreadable or unparseable file defaults to Balance per
// spec §7's NodeMissing/NodeParse handling, without treating that as a
// fatal error.
func (n *Node) ReadMode(now time.Time) fastype.Mode {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.haveCached && now.Sub(n.lastRead) < refreshWindow {
		return n.cached
	}
	n.lastRead = now

	raw, err := safe.ReadFile(n.modePath(), &safe.ReadFileOptions{MaxSize: 4096})
	if err != nil {
		n.logger.Warn().Err(err).Msg("mode node unreadable, defaulting to balance")
		n.cached = fastype.ModeBalance
		n.haveCached = true
		return n.cached
	}

	mode, perr := fastype.ParseMode(trimNode(raw))
	if perr != nil {
		n.logger.Warn().Err(perr).Str("raw", string(raw)).Msg("mode node unparseable, defaulting to balance")
	}
	n.cached = mode
	n.haveCached = true
	return n.cached
}

func trimNode(raw []byte) string {
	s := string(raw)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == ' ' || s[len(s)-1] == '\r' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	return s
}
