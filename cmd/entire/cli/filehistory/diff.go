package filehistory

import (
	"os"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DiffResult carries the line-granularity insertion/deletion counts between
// a working file and a backup blob.
type DiffResult struct {
	Insertions int
	Deletions  int
}

// diffFiles computes insertion/deletion line counts between the working
// file at workingAbsPath and backupBytes (the backup blob's content, or nil
// when backupPresent is false, meaning the backup records non-existence).
//
// Read errors on either side are treated as "no measurable change" (0, 0) —
// callers distinguish measurable changes from presence by consulting the
// snapshot's tracked set directly, not this result.
func diffFiles(workingAbsPath string, backupBytes []byte, backupPresent bool) DiffResult {
	workingBytes, err := os.ReadFile(workingAbsPath) //nolint:gosec // workspace-relative path under tracking
	workingPresent := err == nil
	if err != nil && !os.IsNotExist(err) {
		return DiffResult{}
	}

	if !workingPresent && !backupPresent {
		return DiffResult{}
	}

	var before, after string
	if backupPresent {
		before = string(backupBytes)
	}
	if workingPresent {
		after = string(workingBytes)
	}

	return diffLines(before, after)
}

// diffLines counts inserted/deleted lines between before and after using
// the classic "diff lines as chars" trick: map each line to a single
// rune so the byte-level Myers diff operates at line granularity, then
// expand back to count whole lines per hunk.
func diffLines(before, after string) DiffResult {
	dmp := diffmatchpatch.New()
	text1, text2, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(text1, text2, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var result DiffResult
	for _, d := range diffs {
		lines := countLinesStr(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			result.Insertions += lines
		case diffmatchpatch.DiffDelete:
			result.Deletions += lines
		case diffmatchpatch.DiffEqual:
			// unchanged, not counted
		}
	}
	return result
}

// countLinesStr counts the number of lines in s, treating a final
// non-newline-terminated fragment as one more line.
func countLinesStr(s string) int {
	if s == "" {
		return 0
	}
	count := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		count++
	}
	return count
}

// LineChangeCounts is the exported form of the line-diff trick above,
// reused outside this package by anything that needs unchanged/added/removed
// line tallies between two text blobs rather than this package's own
// insertions/deletions-only DiffResult — notably the git-commit attribution
// pass in cmd/entire/cli/strategy, which diffs checkpoint/commit tree blobs
// instead of a working file against a backup blob but needs the identical
// DiffLinesToChars/DiffMain/DiffCharsToLines line-granularity algorithm.
func LineChangeCounts(before, after string) (unchanged, added, removed int) {
	if before == after {
		return countLinesStr(after), 0, 0
	}
	if before == "" {
		return 0, countLinesStr(after), 0
	}
	if after == "" {
		return 0, 0, countLinesStr(before)
	}

	dmp := diffmatchpatch.New()
	text1, text2, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(text1, text2, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	for _, d := range diffs {
		lines := countLinesStr(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			unchanged += lines
		case diffmatchpatch.DiffInsert:
			added += lines
		case diffmatchpatch.DiffDelete:
			removed += lines
		}
	}
	return unchanged, added, removed
}
