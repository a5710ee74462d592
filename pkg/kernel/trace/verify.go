package trace

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// VerifyResult is the outcome of verifying a trace file.
type VerifyResult struct {
	EventCount int
	Valid      bool
	BrokenAt   int // -1 if no break
	Error      string
}

// VerifyFile verifies the hash chain of a trace file.
func VerifyFile(path string) (*VerifyResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()
	return Verify(f)
}

// Verify checks hash chain integrity. Events of several runs appended to
// the same file each restart the chain at the genesis hash.
func Verify(r io.Reader) (*VerifyResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB max line

	expected := map[string]string{}
	count := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		count++

		var evt Event
		if err := json.Unmarshal(line, &evt); err != nil {
			return broken(count, fmt.Sprintf("event %d: invalid JSON: %v", count, err)), nil
		}
		want, seen := expected[evt.RunID]
		if !seen {
			want = genesis
		}
		if evt.PrevHash != want {
			return broken(count, fmt.Sprintf("event %d: prev_hash mismatch (expected %s..., got %s...)", count, short(want), short(evt.PrevHash))), nil
		}
		h := sha256.Sum256(line)
		expected[evt.RunID] = hex.EncodeToString(h[:])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	return &VerifyResult{EventCount: count, Valid: true, BrokenAt: -1}, nil
}

func broken(at int, msg string) *VerifyResult {
	return &VerifyResult{EventCount: at, Valid: false, BrokenAt: at, Error: msg}
}

func short(h string) string {
	if len(h) > 16 {
		return h[:16]
	}
	return h
}
