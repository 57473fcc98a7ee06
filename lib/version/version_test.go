// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"bytes"
	"runtime"
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	saved := [...]string{Version, GitCommit, GitDirty, BuildTime}
	t.Cleanup(func() {
		Version, GitCommit, GitDirty, BuildTime = saved[0], saved[1], saved[2], saved[3]
	})

	Version, GitCommit, BuildTime = "1.2.3", "abc1234", "2026-03-01T00:00:00Z"

	GitDirty = "false"
	if got, want := Info(), "1.2.3 (abc1234, 2026-03-01T00:00:00Z)"; got != want {
		t.Errorf("Info() = %q, want %q", got, want)
	}
	GitDirty = "true"
	if got, want := Info(), "1.2.3 (abc1234-dirty, 2026-03-01T00:00:00Z)"; got != want {
		t.Errorf("Info() = %q, want %q", got, want)
	}
	if Short() != "1.2.3" || Commit() != "abc1234" {
		t.Errorf("Short() = %q, Commit() = %q", Short(), Commit())
	}
}

func TestFprint(t *testing.T) {
	var buffer bytes.Buffer
	Fprint(&buffer, "ghbridge")
	output := buffer.String()
	if !strings.HasPrefix(output, "ghbridge "+Info()) {
		t.Errorf("output = %q", output)
	}
	if !strings.Contains(output, runtime.Version()) {
		t.Errorf("output lacks Go version: %q", output)
	}
}
