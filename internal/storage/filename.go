package storage

import (
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

const (
	fallbackFilename = "upload.png"
	maxFilenameLen   = 128
	maxExtLen        = 16
)

var disallowedFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SanitizeFilename 去掉目录部分和不安全字符，只保留 ASCII 字母、数字以及 "_.-"。
// 结果为空时返回 "upload.png"。
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)

	// é -> e + 组合符号，组合符号随后作为非 ASCII 字符被丢弃
	decomposed := norm.NFKD.String(name)
	var b strings.Builder
	for _, r := range decomposed {
		if r < utf8.RuneSelf {
			b.WriteRune(r)
		}
	}

	name = strings.Join(strings.Fields(b.String()), "_")
	name = disallowedFilenameChars.ReplaceAllString(name, "")
	name = strings.Trim(name, "._")

	if len(name) > maxFilenameLen {
		ext := filepath.Ext(name)
		if len(ext) > maxExtLen {
			ext = ""
		}
		name = strings.TrimRight(name[:maxFilenameLen-len(ext)], "._") + ext
	}
	if name == "" {
		return fallbackFilename
	}
	return name
}

// randomToken 返回 32 位十六进制随机串。
func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
