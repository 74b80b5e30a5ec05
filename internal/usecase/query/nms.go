package query

import (
	"sort"

	"github.com/deepfield-io/zoomdex/internal/domain/region"
)

// candidate is a scored box flowing through the detect pipeline. The id
// fixes the deterministic tie-break: for indexed candidates it is the
// patch id, for proposals the window position in scan order.
type candidate struct {
	id    uint32
	bbox  region.BBox
	score float64
}

// orderCandidates sorts by score descending, ties by lower id.
func orderCandidates(cands []candidate) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].id < cands[j].id
	})
}

// suppress runs greedy non-max suppression: walk candidates best-first and
// keep each one unless it overlaps an already kept box by more than iou.
// The input is reordered in place; the kept slice stays score-ordered.
// Running suppress on its own output returns it unchanged, since survivors
// pairwise overlap at most iou.
func suppress(cands []candidate, iou float64) (kept []candidate, dropped int) {
	orderCandidates(cands)
	for _, c := range cands {
		overlaps := false
		for _, k := range kept {
			if k.bbox.IoU(c.bbox) > iou {
				overlaps = true
				break
			}
		}
		if overlaps {
			dropped++
			continue
		}
		kept = append(kept, c)
	}
	return kept, dropped
}
