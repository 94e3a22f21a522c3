// SPDX-License-Identifier: Apache-2.0

package printer

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func newTestPrinter(t *testing.T) (*Printer, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	saved := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = saved })
	var out, errOut bytes.Buffer
	return New(&out, &errOut), &out, &errOut
}

func TestPrinter_Messages(t *testing.T) {
	p, out, errOut := newTestPrinter(t)
	p.Step("converting %d projects", 2)
	p.Success("E-HCAD-1 written")
	p.Warning("%s skipped: %s", "E-HCAD-2", "already imported")
	p.Info("done")

	assert.Equal(t, "→ converting 2 projects\n✓ E-HCAD-1 written\n⚠️  E-HCAD-2 skipped: already imported\ndone\n", out.String())
	assert.Empty(t, errOut.String())
}

func TestPrinter_Error(t *testing.T) {
	tests := []struct {
		name        string
		suggestions []string
		want        string
	}{
		{
			name: "no suggestions",
			want: "conversion failed\n\ncardinality mismatch\n",
		},
		{
			name:        "one suggestion",
			suggestions: []string{"Run with --keep-going"},
			want:        "conversion failed\n\ncardinality mismatch\n\nRun with --keep-going\n",
		},
		{
			name:        "several suggestions",
			suggestions: []string{"Fix the bundle", "Run with --keep-going"},
			want:        "conversion failed\n\ncardinality mismatch\n\nEither:\n  1. Fix the bundle\n  2. Run with --keep-going\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, out, errOut := newTestPrinter(t)
			err := p.Error("conversion failed", "cardinality mismatch", tt.suggestions)
			assert.EqualError(t, err, "conversion failed")
			assert.Equal(t, tt.want, errOut.String())
			assert.Empty(t, out.String())
		})
	}
}
