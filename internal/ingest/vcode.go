package ingest

import (
	"regexp"
	"sort"
	"strings"
)

// 验证码模式，按特异性从高到低排列，越靠前置信度越高
var codePatterns = []*regexp.Regexp{
	// 中文关键字后紧跟验证码，允许以标点结尾
	regexp.MustCompile(`(?i)(?:验证码|校验码|确认码|动态码|安全码|授权码|登录码|登陆码)[：:\s]*([A-Za-z0-9]{4,8})(?:[，,。.\s]|$)`),
	// 中文关键字 + 括号包裹
	regexp.MustCompile(`(?i)(?:验证码|校验码|确认码)[：:\s]*[\[【\(]([A-Za-z0-9]{4,8})[\]】\)]`),
	regexp.MustCompile(`(?i)(?:下列|以下)?(?:验证码|校验码|确认码)[：:\s]+([A-Za-z0-9]{4,8})`),
	regexp.MustCompile(`(?i)(?:verification\s*code|security\s*code|confirmation\s*code)[：:\s]*([A-Za-z0-9]{4,8})`),
	// "Your code is: 123456"
	regexp.MustCompile(`(?i)(?:your\s+)?(?:verification\s+)?(?:code|pin|otp)\s+(?:is|:)\s*([A-Za-z0-9]{4,8})`),
	// "123456 is your verification code"
	regexp.MustCompile(`(?i)([A-Za-z0-9]{4,8})\s+(?:is\s+)?(?:your\s+)?(?:verification\s*)?(?:code|pin|otp)`),
	regexp.MustCompile(`(?i)(?:code|pin|otp)[：:\s]*[\[【\(]([A-Za-z0-9]{4,8})[\]】\)]`),
}

// 独立的候选串，只在强验证码邮件中使用
var standaloneCode = regexp.MustCompile(`(?:^|[\s\p{P}])([A-Za-z0-9]{4,8})(?:[\s\p{P}]|$)`)

var (
	prominentText = regexp.MustCompile(`(?i)<(?:h[1-3]|strong|b|span[^>]*(?:font-size|large|big)[^>]*|div[^>]*(?:font-size|large|big)[^>]*)>([^<]{4,20})</`)
	bareCode      = regexp.MustCompile(`^[A-Za-z0-9]{4,8}$`)
	cssColor      = regexp.MustCompile(`(?i)(?:color|background|border|font|margin|padding)\s*:\s*#?[a-f0-9]{3,6}`)
	whitespace    = regexp.MustCompile(`\s+`)
)

var verificationKeywords = []string{
	"验证码", "校验码", "确认码", "动态码", "安全码", "授权码", "登录码", "登陆码",
	"verification code", "security code", "confirmation code", "login code",
	"one-time password", "one time password", "otp", "2fa", "two-factor",
	"verify your", "confirm your", "验证您的", "确认您的",
}

var strongKeywords = []string{
	"验证码", "校验码", "确认码", "动态码",
	"verification code", "security code", "one-time",
	"verify your email", "confirm your email",
	"验证您的", "确认您的",
}

// 营销类关键字，命中两个以上视为非验证码邮件
var promotionalKeywords = []string{
	"sale", "discount", "offer", "promotion", "promo", "deal", "save",
	"clearance", "limited time", "special offer", "buy now", "shop now",
	"unsubscribe", "newsletter", "marketing", "advertisement",
	"促销", "优惠", "折扣", "特价", "限时", "抢购", "活动", "广告",
	"年终", "年末", "新年", "圣诞", "黑五", "双十一", "双十二",
}

var falsePositiveCodes = map[string]bool{
	"http": true, "https": true, "www": true, "html": true, "text": true, "mail": true, "email": true,
	"1234": true, "12345": true, "123456": true, "1234567": true, "12345678": true,
	"0000": true, "1111": true, "2222": true, "3333": true, "4444": true,
	"5555": true, "6666": true, "7777": true, "8888": true, "9999": true,
}

var commonColors = map[string]bool{
	"ffffff": true, "000000": true, "f0f0f0": true, "e0e0e0": true, "d0d0d0": true, "c0c0c0": true,
	"eeeeee": true, "dddddd": true, "cccccc": true, "bbbbbb": true, "aaaaaa": true, "999999": true,
	"888888": true, "777777": true, "666666": true, "555555": true, "444444": true, "333333": true,
	"ff0000": true, "00ff00": true, "0000ff": true, "ffff00": true, "ff00ff": true, "00ffff": true,
}

var commonWords = map[string]bool{
	"hello": true, "world": true, "email": true, "click": true, "here": true, "view": true, "open": true,
	"from": true, "sent": true, "date": true, "time": true, "year": true, "month": true, "day": true,
}

type codeCandidate struct {
	code       string
	confidence float64
	position   int
}

// ExtractVerificationCode 从主题与正文中提取最可能的验证码，找不到时返回空串
func ExtractVerificationCode(subject, text, html string) string {
	return extractCode(strings.Join([]string{subject, text, html}, "\n"))
}

func extractCode(content string) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	content = normalizeContent(content)
	lower := strings.ToLower(content)
	if !looksLikeVerification(lower) {
		return ""
	}

	var candidates []codeCandidate
	for i, pattern := range codePatterns {
		for _, m := range pattern.FindAllStringSubmatchIndex(content, -1) {
			if len(m) < 4 || m[2] < 0 {
				continue
			}
			code := strings.TrimSpace(content[m[2]:m[3]])
			if validCode(code) {
				candidates = append(candidates, codeCandidate{
					code:       code,
					confidence: 1.0 - float64(i)*0.1,
					position:   m[0],
				})
			}
		}
	}

	if len(candidates) == 0 && containsAny(lower, strongKeywords) {
		for _, m := range standaloneCode.FindAllStringSubmatchIndex(content, -1) {
			code := content[m[2]:m[3]]
			if validCode(code) && !commonWords[strings.ToLower(code)] && !isAllLetters(code) {
				candidates = append(candidates, codeCandidate{code: code, confidence: 0.5, position: m[0]})
			}
		}
	}
	if len(candidates) == 0 {
		return ""
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].confidence != candidates[j].confidence {
			return candidates[i].confidence > candidates[j].confidence
		}
		return candidates[i].position < candidates[j].position
	})
	return candidates[0].code
}

// normalizeContent 把醒目标签中的候选码前置，然后去标签、去样式、折叠空白
func normalizeContent(content string) string {
	for _, m := range prominentText.FindAllStringSubmatch(content, -1) {
		if t := strings.TrimSpace(m[1]); bareCode.MatchString(t) {
			content = "验证码: " + t + " " + content
		}
	}
	content = htmlTagPattern.ReplaceAllString(content, " ")
	content = cssColor.ReplaceAllString(content, " ")
	content = whitespace.ReplaceAllString(content, " ")
	content = strings.NewReplacer(
		"&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`,
	).Replace(content)
	return strings.TrimSpace(content)
}

func looksLikeVerification(lower string) bool {
	promo := 0
	for _, k := range promotionalKeywords {
		if strings.Contains(lower, k) {
			promo++
		}
	}
	if promo >= 2 {
		return false
	}
	return containsAny(lower, verificationKeywords)
}

// validCode 4-8 位字母数字，至少一位数字，排除年份、顺序/重复数字与颜色值
func validCode(code string) bool {
	if len(code) < 4 || len(code) > 8 {
		return false
	}
	digits := 0
	for _, c := range code {
		switch {
		case c >= '0' && c <= '9':
			digits++
		case (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z'):
		default:
			return false
		}
	}
	if digits == 0 {
		return false
	}
	lower := strings.ToLower(code)
	if falsePositiveCodes[lower] {
		return false
	}
	if len(code) == 4 && digits == 4 && (strings.HasPrefix(code, "19") || strings.HasPrefix(code, "20")) {
		return false
	}
	if len(code) == 6 && isHexColor(lower) {
		return false
	}
	return true
}

func isHexColor(code string) bool {
	for _, c := range code {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	if commonColors[code] {
		return true
	}
	// ababab 形式
	return code[0] == code[2] && code[2] == code[4] && code[1] == code[3] && code[3] == code[5]
}

func isAllLetters(s string) bool {
	for _, c := range s {
		if !((c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')) {
			return false
		}
	}
	return true
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
