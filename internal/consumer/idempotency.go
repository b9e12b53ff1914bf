package consumer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// IdempotencyKey builds the deterministic key spec §4.5 requires a
// Consumer Loop check before re-running a delivered message:
// sha256(workflowInstanceID + position + attemptCount)[:16], generalizing
// the teacher's internal/workflows/stepid.go GenerateStepID formula from
// (runID, stateName, branchPath, foreachIndex) to the Position model's
// single canonical path, which already encodes branch/loop nesting.
func IdempotencyKey(runID, position string, attempt int) string {
	input := fmt.Sprintf("%s|%s|%d", runID, position, attempt)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:16]
}
