package cleanup

import (
	"context"
	"fmt"

	"github.com/jsprague84/updatectl/internal/executor"
)

// DefaultUnusedImageAgeDays is the age below which unused images survive a
// prune-unused pass.
const DefaultUnusedImageAgeDays = 90

// PruneUnusedImages removes all images not referenced by any container and
// older than ageDays. Unlike the profile-driven passes this touches tagged
// images, so it stays behind its own explicit trigger.
func PruneUnusedImages(ctx context.Context, r executor.Runner, ageDays int) (*Result, error) {
	if ageDays <= 0 {
		ageDays = DefaultUnusedImageAgeDays
	}
	out, err := r.Run(ctx, fmt.Sprintf("%s image prune -a -f --filter 'until=%dh'", dockerBin, ageDays*24))
	if err != nil {
		return nil, err
	}
	count, bytes := parsePruneOutput(out)
	return &Result{
		Server:         r.Server().Name,
		ImagesRemoved:  count,
		ReclaimedBytes: bytes,
	}, nil
}
