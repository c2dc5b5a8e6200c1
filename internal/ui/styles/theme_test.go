// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jeranaias/offchat/internal/lifecycle"
)

func TestIndicator(t *testing.T) {
	tests := []struct {
		status lifecycle.Status
		want   string
	}{
		{lifecycle.StatusReady, "[OK]"},
		{lifecycle.StatusError, "[X]"},
		{lifecycle.StatusGenerating, "[*]"},
		{lifecycle.StatusDownloading, "[*]"},
		{lifecycle.StatusUninitialized, "[ ]"},
	}
	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Indicator(tt.status))
		})
	}
}

func TestRenderStatus(t *testing.T) {
	theme := NewTheme()
	out := theme.RenderStatus(lifecycle.StatusReady)
	assert.True(t, strings.Contains(out, "READY"))
	assert.True(t, strings.Contains(out, "[OK]"))
}
