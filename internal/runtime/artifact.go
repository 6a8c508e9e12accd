package runtime

import "os"

// writeMockArtifact writes text to path via a temp-file-then-rename, the
// same atomic pattern the Prompt Cache's own Store uses, so a mock
// CachePrompt never leaves a partial artifact behind.
func writeMockArtifact(path, text string) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(text), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
