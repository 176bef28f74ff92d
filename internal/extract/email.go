package extract

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"regexp"
	"strings"
)

const maxMIMEDepth = 8

// extractEmail renders the Subject, From and Date headers followed by the message
// body. text/plain parts win over text/html; attachments are skipped.
func extractEmail(content []byte) (*Extraction, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	dec := new(mime.WordDecoder)
	header := func(k string) string {
		v := msg.Header.Get(k)
		if d, err := dec.DecodeHeader(v); err == nil {
			return d
		}
		return v
	}

	body, _, err := emailBody(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body, 0)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	subject := header("Subject")
	for _, k := range []string{"Subject", "From", "To", "Date"} {
		if v := header(k); v != "" {
			fmt.Fprintf(&b, "%s: %s\n", k, v)
		}
	}
	b.WriteByte('\n')
	b.WriteString(body)
	return &Extraction{Title: subject, Pages: []Page{{Number: 1, Section: subject, Text: b.String()}}}, nil
}

// emailBody returns the readable text of a MIME entity and whether it came from HTML.
func emailBody(ctype, encoding string, r io.Reader, depth int) (string, bool, error) {
	if depth > maxMIMEDepth {
		return "", false, fmt.Errorf("MIME nesting deeper than %d", maxMIMEDepth)
	}
	mediaType, params, err := mime.ParseMediaType(ctype)
	if err != nil {
		mediaType = "text/plain"
	}
	if strings.HasPrefix(mediaType, "multipart/") {
		return multipartBody(params["boundary"], r, depth)
	}
	data, err := io.ReadAll(transferDecoder(encoding, r))
	if err != nil {
		return "", false, fmt.Errorf("read %s body: %w", mediaType, err)
	}
	switch {
	case mediaType == "text/html":
		return htmlToText(string(data)), true, nil
	case strings.HasPrefix(mediaType, "text/"):
		return string(data), false, nil
	}
	return "", false, nil
}

func multipartBody(boundary string, r io.Reader, depth int) (string, bool, error) {
	if boundary == "" {
		return "", false, fmt.Errorf("multipart message without boundary")
	}
	mr := multipart.NewReader(r, boundary)
	var plain, htmlText []string
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", false, fmt.Errorf("next MIME part: %w", err)
		}
		if disp, _, _ := mime.ParseMediaType(p.Header.Get("Content-Disposition")); disp == "attachment" {
			continue
		}
		// multipart.Part already removes quoted-printable encoding.
		text, fromHTML, err := emailBody(p.Header.Get("Content-Type"), p.Header.Get("Content-Transfer-Encoding"), p, depth+1)
		if err != nil {
			return "", false, err
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		if fromHTML {
			htmlText = append(htmlText, text)
		} else {
			plain = append(plain, text)
		}
	}
	if len(plain) > 0 {
		return strings.Join(plain, "\n\n"), false, nil
	}
	return strings.Join(htmlText, "\n\n"), len(htmlText) > 0, nil
}

func transferDecoder(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, &newlineStripper{r: r})
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	}
	return r
}

// newlineStripper drops CR and LF so base64 bodies wrapped at 76 columns decode.
type newlineStripper struct{ r io.Reader }

func (n *newlineStripper) Read(p []byte) (int, error) {
	for {
		k, err := n.r.Read(p)
		j := 0
		for _, c := range p[:k] {
			if c != '\r' && c != '\n' {
				p[j] = c
				j++
			}
		}
		if j > 0 || err != nil {
			return j, err
		}
	}
}

var (
	scriptStyle = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	blockTag    = regexp.MustCompile(`(?i)<(br|/p|/div|/li|/tr|/h[1-6])[^>]*>`)
	anyTag      = regexp.MustCompile(`<[^>]*>`)
	blankRuns   = regexp.MustCompile(`\n{3,}`)
)

func htmlToText(s string) string {
	s = scriptStyle.ReplaceAllString(s, "")
	s = blockTag.ReplaceAllString(s, "\n")
	s = anyTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return blankRuns.ReplaceAllString(s, "\n\n")
}
