package modeconfig

import "errors"

// ErrConfigParse is spec §7's ConfigParse error kind. It wraps failures
// to resolve the merged document (for example an unrecognized game_list
// value shape), which Load returns directly without retry or fallback.
// Failures to read or decode the user's TOML file are handled separately:
// they are retried with backoff, then Load falls back to the bundled
// standard profile.
var ErrConfigParse = errors.New("modeconfig: config parse error")
