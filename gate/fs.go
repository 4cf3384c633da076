package gate

import (
	"os"
	"path/filepath"
)

// writeFileAtomic writes data to target via a temp file and rename, so
// readers of target never see a partial report.
func writeFileAtomic(target string, data []byte) error {
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// updateLatest points <output>/latest at runs/<runID> by renaming a fresh
// relative symlink over the old one.
func updateLatest(output, runID string) error {
	link := filepath.Join(output, LatestLink)
	tmp := filepath.Join(output, "."+LatestLink+"-"+runID)
	os.Remove(tmp)
	if err := os.Symlink(filepath.Join(RunsDir, runID), tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, link); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
