package domain

import (
	"regexp"
	"strings"

	"mailfree/backend/internal/apperr"
)

// 校验相关常量
const (
	MaxAddressLength  = 254
	MinPasswordLength = 6
)

// 面向操作者的校验消息
const (
	MsgInvalidAddress   = "无效的邮箱地址"
	MsgInvalidLocalPart = "非法用户名"
)

var localPartRegex = regexp.MustCompile(`^[a-z0-9._-]{1,64}$`)

// ExtractAddress 从 "Name <local@domain>" 形式中取出地址部分并转为小写
func ExtractAddress(raw string) string {
	s := strings.TrimSpace(raw)
	if open := strings.LastIndex(s, "<"); open >= 0 {
		if end := strings.Index(s[open:], ">"); end > 0 {
			s = s[open+1 : open+end]
		}
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeAddress 规范化并校验 local@domain 形式的地址
//
// 返回值:
//   - address: 小写后的完整地址
//   - local, domain: 拆分后的两部分
//   - err: 地址为空、缺少 @、任一部分为空或包含空白时返回 Validation 错误
func NormalizeAddress(raw string) (address, local, domain string, err error) {
	address = strings.ToLower(strings.TrimSpace(raw))
	if address == "" || len(address) > MaxAddressLength {
		return "", "", "", apperr.Validation(MsgInvalidAddress)
	}
	if strings.ContainsAny(address, " \t\r\n") || strings.Count(address, "@") != 1 {
		return "", "", "", apperr.Validation(MsgInvalidAddress)
	}
	at := strings.IndexByte(address, '@')
	if at <= 0 || at >= len(address)-1 {
		return "", "", "", apperr.Validation(MsgInvalidAddress)
	}
	return address, address[:at], address[at+1:], nil
}

// ValidLocalPart 校验自定义创建邮箱时的本地部分
func ValidLocalPart(local string) bool {
	return localPartRegex.MatchString(local)
}

// SanitizeSearch 把搜索关键字转为小写并去掉 LIKE 通配符
func SanitizeSearch(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	return strings.NewReplacer("%", "", "_", "").Replace(q)
}

// ClampPage 把分页参数限制在 [1, max] 与 [0, ∞) 内，limit 非正时使用 def
func ClampPage(limit, offset, def, max int) (int, int) {
	if limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
