// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadFromPath(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name:     "plain value",
			content:  "my-deploy-token",
			expected: "my-deploy-token",
		},
		{
			name:     "trailing newline",
			content:  "my-deploy-token\n",
			expected: "my-deploy-token",
		},
		{
			name:     "surrounding whitespace",
			content:  "  my-deploy-token  \n",
			expected: "my-deploy-token",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path := filepath.Join(tempDir, test.name)
			if err := os.WriteFile(path, []byte(test.content), 0o600); err != nil {
				t.Fatalf("writing test file: %v", err)
			}

			buffer, err := ReadFromPath(path)
			if err != nil {
				t.Fatalf("ReadFromPath: %v", err)
			}
			defer buffer.Close()

			if got := buffer.String(); got != test.expected {
				t.Errorf("ReadFromPath() = %q, want %q", got, test.expected)
			}
		})
	}
}

func TestReadFromPathMissingFile(t *testing.T) {
	if _, err := ReadFromPath(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestReadFromPathEmptyFile(t *testing.T) {
	for _, content := range []string{"", "   \n\t\n"} {
		path := filepath.Join(t.TempDir(), "secret")
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("writing test file: %v", err)
		}
		if _, err := ReadFromPath(path); err == nil {
			t.Errorf("content %q: expected error for empty secret", content)
		}
	}
}
