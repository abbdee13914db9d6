// Package report answers size queries against the local store.
package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/rossigee/cloudsize/pkg/types"
	"github.com/sirupsen/logrus"
)

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB", "PB"}

// HumanSize renders a byte count on a binary scale with up to two decimals
func HumanSize(n int64) string {
	value := float64(n)
	unit := 0
	for value >= 1024 && unit < len(sizeUnits)-1 {
		value /= 1024
		unit++
	}

	formatted := strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", value), "0"), ".")
	return formatted + " " + sizeUnits[unit]
}

// Store is the read-only store view used for size queries
type Store interface {
	SumSizes(ctx context.Context, pattern string) (types.SizeSummary, error)
}

// Sizer aggregates recorded file sizes. It never touches the management API.
type Sizer struct {
	store Store
}

// NewSizer creates a new Sizer
func NewSizer(store Store) *Sizer {
	return &Sizer{store: store}
}

// SizeForPattern totals the sizes of all files whose name contains pattern.
// Files recorded without a size are left out.
func (s *Sizer) SizeForPattern(ctx context.Context, pattern string) (*types.SizeResponse, error) {
	summary, err := s.store.SumSizes(ctx, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to size paths matching '%s': %w", pattern, err)
	}

	logrus.WithFields(logrus.Fields{
		"pattern": pattern,
		"files":   summary.Files,
		"bytes":   summary.Bytes,
	}).Debug("Computed size for pattern")

	return &types.SizeResponse{
		Pattern: summary.Pattern,
		Files:   summary.Files,
		Bytes:   summary.Bytes,
		Human:   HumanSize(summary.Bytes),
	}, nil
}

// Line formats a size result the way search mode prints it
func Line(resp *types.SizeResponse) string {
	return fmt.Sprintf("Cloud file size in paths matching %s: %s", resp.Pattern, resp.Human)
}
