package ingest

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// emlInput 是合成 EML 所需的字段
type emlInput struct {
	Sender   string
	Mailbox  string
	Subject  string
	Text     string
	HTML     string
	Date     time.Time
	Boundary string
}

// buildEML 合成一封可供详情解析与下载的简易 EML。
// 有 HTML 时为 multipart/alternative（text/plain 在前），否则为单个 text/plain；
// 各部分均为 utf-8、8bit。
func buildEML(in emlInput) ([]byte, error) {
	// textproto 按添加的逆序输出头部，From 最后添加以排在最前
	var h mail.Header
	if in.HTML == "" {
		h.Set("Content-Transfer-Encoding", "8bit")
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	} else {
		h.SetContentType("multipart/alternative", map[string]string{"boundary": in.Boundary})
	}
	h.Set("MIME-Version", "1.0")
	h.SetDate(in.Date.UTC())
	h.SetSubject(in.Subject)
	h.Set("To", "<"+in.Mailbox+">")
	h.Set("From", "<"+in.Sender+">")

	var buf bytes.Buffer
	if in.HTML == "" {
		if err := writeEntity(&buf, h.Header, in.Text); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	w, err := message.CreateWriter(&buf, h.Header)
	if err != nil {
		return nil, fmt.Errorf("create eml writer: %w", err)
	}
	for _, p := range []struct {
		mediaType string
		body      string
	}{
		{"text/plain", in.Text},
		{"text/html", in.HTML},
	} {
		var ph message.Header
		ph.Set("Content-Transfer-Encoding", "8bit")
		ph.SetContentType(p.mediaType, map[string]string{"charset": "utf-8"})
		pw, err := w.CreatePart(ph)
		if err != nil {
			return nil, fmt.Errorf("create %s part: %w", p.mediaType, err)
		}
		if _, err := io.WriteString(pw, p.body); err != nil {
			return nil, fmt.Errorf("write %s part: %w", p.mediaType, err)
		}
		if err := pw.Close(); err != nil {
			return nil, fmt.Errorf("close %s part: %w", p.mediaType, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close eml: %w", err)
	}
	return buf.Bytes(), nil
}

func writeEntity(buf *bytes.Buffer, h message.Header, body string) error {
	w, err := message.CreateWriter(buf, h)
	if err != nil {
		return fmt.Errorf("create eml writer: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("write eml body: %w", err)
	}
	return w.Close()
}
