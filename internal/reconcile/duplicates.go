package reconcile

import "github.com/cedadev/nla-control-go/internal/models"

// duplicateGroups partitions files by logical_path, returning only the
// groups with more than one row, the working set for RemoveDuplicates.
func duplicateGroups(files []*models.TapeFile) map[string][]*models.TapeFile {
	byPath := make(map[string][]*models.TapeFile)
	for _, f := range files {
		byPath[f.LogicalPath] = append(byPath[f.LogicalPath], f)
	}
	for path, group := range byPath {
		if len(group) < 2 {
			delete(byPath, path)
		}
	}
	return byPath
}

// duplicateResolution is the outcome of deciding which row in a
// duplicate-logical_path group survives.
type duplicateResolution struct {
	// Keep is the surviving row's id.
	Keep int64
	// KeepStage is the stage the survivor should be left at (it may
	// differ from the survivor's current stage, e.g. an ONTAPE+RESTORED
	// mix resolves to RESTORED if its link is live).
	KeepStage models.Stage
	// Delete lists the ids of every other row in the group.
	Delete []int64
}

// resolveDuplicateGroup decides the survivor for one logical_path's
// duplicate rows. linkResolves reports whether the group's logical_path
// currently resolves to a live file, used only when the group contains
// a RESTORED row. The rules, in priority order:
//
//  1. All rows share the same stage: keep the lowest id, drop the rest.
//  2. The mix is exactly {ONTAPE, UNVERIFIED}: the ONTAPE row is
//     authoritative (its presence on tape is externally confirmed).
//  3. Any row is RESTORED: keep one RESTORED if the link resolves,
//     else fall back to ONTAPE (the restore was lost, tape is truth).
//  4. Anything else: keep the lowest id's stage unchanged; mixes
//     beyond these cases have no authoritative row to prefer.
func resolveDuplicateGroup(group []*models.TapeFile, linkResolves bool) duplicateResolution {
	stages := make(map[models.Stage][]*models.TapeFile)
	for _, f := range group {
		stages[f.Stage] = append(stages[f.Stage], f)
	}

	lowestID := func(fs []*models.TapeFile) *models.TapeFile {
		best := fs[0]
		for _, f := range fs[1:] {
			if f.ID < best.ID {
				best = f
			}
		}
		return best
	}

	allIDsExcept := func(keep int64) []int64 {
		var ids []int64
		for _, f := range group {
			if f.ID != keep {
				ids = append(ids, f.ID)
			}
		}
		return ids
	}

	if len(stages) == 1 {
		survivor := lowestID(group)
		return duplicateResolution{Keep: survivor.ID, KeepStage: survivor.Stage, Delete: allIDsExcept(survivor.ID)}
	}

	if len(stages) == 2 {
		onTape, hasOnTape := stages[models.StageOnTape]
		_, hasUnverified := stages[models.StageUnverified]
		if hasOnTape && hasUnverified && len(stages) == 2 {
			survivor := lowestID(onTape)
			return duplicateResolution{Keep: survivor.ID, KeepStage: models.StageOnTape, Delete: allIDsExcept(survivor.ID)}
		}
	}

	if restored, ok := stages[models.StageRestored]; ok {
		survivor := lowestID(restored)
		if linkResolves {
			return duplicateResolution{Keep: survivor.ID, KeepStage: models.StageRestored, Delete: allIDsExcept(survivor.ID)}
		}
		return duplicateResolution{Keep: survivor.ID, KeepStage: models.StageOnTape, Delete: allIDsExcept(survivor.ID)}
	}

	survivor := lowestID(group)
	return duplicateResolution{Keep: survivor.ID, KeepStage: survivor.Stage, Delete: allIDsExcept(survivor.ID)}
}
