package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func init() {
	// 常见字符集别名
	charset.RegisterEncoding("gb2312", simplifiedchinese.GBK)
	charset.RegisterEncoding("ks_c_5601-1987", korean.EUCKR)
}

// ParsedEmail 表示解析后的邮件内容。
type ParsedEmail struct {
	From    string
	To      string
	Subject string
	Date    time.Time
	Text    string
	HTML    string
	Header  mail.Header
}

// ParseEmail 解析原始邮件，提取首个纯文本与 HTML 正文；附件被忽略。
func ParseEmail(raw []byte) (*ParsedEmail, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parse mail: %w", err)
	}
	defer mr.Close()

	h := mr.Header
	parsed := &ParsedEmail{Header: h}
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		parsed.From = from[0].Address
	} else {
		parsed.From = strings.Trim(strings.TrimSpace(h.Get("From")), "<>")
	}
	if to, err := h.AddressList("To"); err == nil && len(to) > 0 {
		parsed.To = to[0].Address
	} else {
		parsed.To = strings.Trim(strings.TrimSpace(h.Get("To")), "<>")
	}
	if subject, err := h.Subject(); err == nil {
		parsed.Subject = subject
	} else {
		parsed.Subject = h.Get("Subject")
	}
	if date, err := h.Date(); err == nil {
		parsed.Date = date
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) || message.IsUnknownEncoding(err) {
				continue
			}
			// 已解析到的正文仍然可用
			if parsed.Text != "" || parsed.HTML != "" {
				break
			}
			return nil, fmt.Errorf("read part: %w", err)
		}

		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		mediaType, _, _ := inline.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch {
		case mediaType == "text/html":
			if parsed.HTML == "" {
				parsed.HTML = string(body)
			}
		case mediaType == "text/plain" || mediaType == "":
			if parsed.Text == "" {
				parsed.Text = string(body)
			}
		}
	}

	return parsed, nil
}
