package filestore

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultFolder = "uploads"

// buildKey composes the immutable storage key: a cleaned folder prefix
// plus either the sanitized custom name or a generated
// "{timestamp}-{suffix}.{ext}" name.
func buildKey(folder, customName, originalName string) (string, error) {
	folder = cleanFolder(folder)

	name := customName
	if name == "" {
		name = generateName(originalName)
	}
	name = sanitizeName(name)
	if name == "" {
		return "", newValidationError("name", "file name is empty or invalid")
	}

	return folder + "/" + name, nil
}

func cleanFolder(folder string) string {
	folder = strings.Trim(path.Clean("/"+folder), "/")
	if folder == "" || folder == "." {
		return defaultFolder
	}
	return folder
}

func generateName(originalName string) string {
	ext := strings.ToLower(path.Ext(originalName))
	suffix := uuid.NewString()[:8]
	return fmt.Sprintf("%d-%s%s", time.Now().UnixMilli(), suffix, ext)
}

// sanitizeName strips path separators and control characters so a
// caller-supplied name cannot escape its folder.
func sanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." || name == "/" {
		return ""
	}

	var b strings.Builder
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
