package blob

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
	"unicode"
)

// 对象 key 的最大长度，与 messages.r2_object_key 列宽一致
const maxKeyLength = 512

var unsafeMailboxChars = regexp.MustCompile(`[^a-z0-9@._-]`)

// SafeMailbox 把地址中 [a-z0-9@._-] 以外的字符替换为下划线
func SafeMailbox(address string) string {
	return unsafeMailboxChars.ReplaceAllString(strings.ToLower(address), "_")
}

// ObjectKey 生成邮件原文的 key
// 格式: YYYY/MM/DD/{safeMailbox}/{hhmmss}-{id}.eml（UTC）
func ObjectKey(at time.Time, mailbox, id string) string {
	at = at.UTC()
	return fmt.Sprintf("%s/%s/%s-%s.eml",
		at.Format("2006/01/02"), SafeMailbox(mailbox), at.Format("150405"), id)
}

// FileName 返回 key 的最后一段，用作下载文件名
func FileName(key string) string {
	name := path.Base(strings.TrimRight(key, "/"))
	if name == "." || name == "/" || name == "" {
		return "message.eml"
	}
	return name
}

// ValidateKey 校验 key 是否为安全的相对路径
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty key")
	}
	if len(key) > maxKeyLength {
		return fmt.Errorf("key too long: %d characters", len(key))
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("key must be a relative slash path: %s", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("invalid key segment in %s", key)
		}
	}
	for _, r := range key {
		if unicode.IsControl(r) {
			return fmt.Errorf("control character in key")
		}
	}
	return nil
}
