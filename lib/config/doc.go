// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the GitHub bridge.
//
// Configuration is loaded from a single file specified by either the
// GHBRIDGE_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks and no automatic file
// search. The file is YAML, or JSON with comments when its extension
// is .json or .jsonc.
//
// The configuration file supports environment-specific sections
// (development, staging, production) that override base values when
// [Config].Environment matches. Production without an explicit
// override section logs JSON.
//
// Secrets may be given inline or through *_file companions
// (as_token_file, hs_token_file, token_file, webhook_secret_file,
// client_secret_file). File paths are expanded for ${HOME} and
// ${VAR:-default} patterns before reading. No other environment
// variables override config values.
//
// Key exports:
//
//   - [Config] -- bridge, github, webhook, queue, sender, tokens, dedup, logging
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other bridge packages.
package config
