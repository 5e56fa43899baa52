package verify

import (
	"encoding/json"
	"path/filepath"
)

func jsonMarshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func joinUnderDir(dir, relPath string) string {
	return filepath.Join(dir, relPath)
}

func isAbsolutePath(p string) bool {
	return filepath.IsAbs(p)
}
