package exportwriter

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/tuta-cli/tuta-export/internal/entity"
	"github.com/tuta-cli/tuta-export/internal/errs"
	"github.com/tuta-cli/tuta-export/internal/session"
)

// messageIDDomain is the synthetic host used for the Message-ID the
// writer generates; every mail gets one, since the decrypted entity
// carries no native Message-ID field to preserve.
const messageIDDomain = "tuta-export.invalid"

// buildMessage renders one mail as an RFC 2822 message. A plaintext body
// is a single text/plain part; an HTML body is wrapped in a
// multipart/alternative alongside a plaintext rendering synthesized from
// it. When attachments are present, the body (plain
// part or alternative) is nested inside an outer multipart/mixed, with
// each attachment as its declared MIME type (or application/octet-stream)
// base64-encoded.
func buildMessage(mail *entity.Mail, details *entity.MailDetails, attachments []session.Attachment) ([]byte, error) {
	var buf bytes.Buffer
	headers := baseHeaders(mail)

	if len(attachments) == 0 && !details.BodyIsHTML {
		writeHeaders(&buf, headers)
		buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
		buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
		if err := writeQuotedPrintable(&buf, details.Body); err != nil {
			return nil, errs.New(errs.KindIO, "encode message body", err)
		}
		return buf.Bytes(), nil
	}

	if len(attachments) == 0 {
		mw := multipart.NewWriter(&buf)
		headers["Content-Type"] = fmt.Sprintf("multipart/alternative; boundary=%q", mw.Boundary())
		writeHeaders(&buf, headers)
		buf.WriteString("\r\n")
		if err := writeAlternativeParts(mw, details); err != nil {
			return nil, err
		}
		if err := mw.Close(); err != nil {
			return nil, errs.New(errs.KindIO, "close mime writer", err)
		}
		return buf.Bytes(), nil
	}

	mw := multipart.NewWriter(&buf)
	headers["Content-Type"] = fmt.Sprintf("multipart/mixed; boundary=%q", mw.Boundary())
	writeHeaders(&buf, headers)
	buf.WriteString("\r\n")

	if details.BodyIsHTML {
		if err := writeNestedAlternative(mw, details); err != nil {
			return nil, err
		}
	} else if err := writePlainPart(mw, details); err != nil {
		return nil, err
	}

	for _, att := range attachments {
		if err := writeAttachmentPart(mw, att); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, errs.New(errs.KindIO, "close mime writer", err)
	}
	return buf.Bytes(), nil
}

// writePlainPart emits details.Body as the sole text/plain part of an
// outer multipart/mixed.
func writePlainPart(mw *multipart.Writer, details *entity.MailDetails) error {
	header := textproto.MIMEHeader{
		"Content-Type":              {"text/plain; charset=UTF-8"},
		"Content-Transfer-Encoding": {"quoted-printable"},
	}
	part, err := mw.CreatePart(header)
	if err != nil {
		return errs.New(errs.KindIO, "create body part", err)
	}
	if err := writeQuotedPrintable(part, details.Body); err != nil {
		return errs.New(errs.KindIO, "encode message body", err)
	}
	return nil
}

// writeAlternativeParts emits the text/plain rendering first and the
// verbatim text/html body second, per RFC 2046's "most preferred last"
// ordering for multipart/alternative.
func writeAlternativeParts(mw *multipart.Writer, details *entity.MailDetails) error {
	plainHeader := textproto.MIMEHeader{
		"Content-Type":              {"text/plain; charset=UTF-8"},
		"Content-Transfer-Encoding": {"quoted-printable"},
	}
	plainPart, err := mw.CreatePart(plainHeader)
	if err != nil {
		return errs.New(errs.KindIO, "create plaintext part", err)
	}
	if err := writeQuotedPrintable(plainPart, htmlToText(details.Body)); err != nil {
		return errs.New(errs.KindIO, "encode plaintext alternative", err)
	}

	htmlHeader := textproto.MIMEHeader{
		"Content-Type":              {"text/html; charset=UTF-8"},
		"Content-Transfer-Encoding": {"quoted-printable"},
	}
	htmlPart, err := mw.CreatePart(htmlHeader)
	if err != nil {
		return errs.New(errs.KindIO, "create html part", err)
	}
	if err := writeQuotedPrintable(htmlPart, details.Body); err != nil {
		return errs.New(errs.KindIO, "encode html alternative", err)
	}
	return nil
}

// writeNestedAlternative renders the alternative parts into their own
// nested multipart.Writer, then attaches the whole thing as a single
// part of outer (which is itself a multipart/mixed carrying attachments).
func writeNestedAlternative(outer *multipart.Writer, details *entity.MailDetails) error {
	var inner bytes.Buffer
	iw := multipart.NewWriter(&inner)
	if err := writeAlternativeParts(iw, details); err != nil {
		return err
	}
	if err := iw.Close(); err != nil {
		return errs.New(errs.KindIO, "close nested mime writer", err)
	}

	header := textproto.MIMEHeader{
		"Content-Type": {fmt.Sprintf("multipart/alternative; boundary=%q", iw.Boundary())},
	}
	part, err := outer.CreatePart(header)
	if err != nil {
		return errs.New(errs.KindIO, "create alternative part", err)
	}
	if _, err := part.Write(inner.Bytes()); err != nil {
		return errs.New(errs.KindIO, "write alternative part", err)
	}
	return nil
}

// htmlToText derives a plaintext rendering of an HTML body for the
// multipart/alternative plaintext part: text nodes are kept verbatim,
// and block-level boundaries (br/p/div) become line breaks.
func htmlToText(body string) string {
	var sb strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(body))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return strings.TrimRight(sb.String(), "\n")
		case html.TextToken:
			sb.Write(tokenizer.Text())
		case html.StartTagToken, html.EndTagToken:
			name, _ := tokenizer.TagName()
			switch string(name) {
			case "br", "p", "div", "li", "tr":
				sb.WriteByte('\n')
			}
		}
	}
}

func writeAttachmentPart(mw *multipart.Writer, att session.Attachment) error {
	mimeType := att.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	name := encodedWord(att.Name)
	header := textproto.MIMEHeader{
		"Content-Type":              {fmt.Sprintf("%s; name=%q", mimeType, name)},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", name)},
	}
	part, err := mw.CreatePart(header)
	if err != nil {
		return errs.New(errs.KindIO, "create attachment part", err)
	}
	if err := writeBase64Lines(part, att.Data); err != nil {
		return errs.New(errs.KindIO, "encode attachment", err)
	}
	return nil
}

// base64LineWidth matches the 76-character wrapping RFC 2045 requires for
// the base64 content-transfer-encoding.
const base64LineWidth = 76

// writeBase64Lines base64-encodes data and writes it wrapped at
// base64LineWidth characters per line, CRLF-terminated.
func writeBase64Lines(w io.Writer, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > base64LineWidth {
		if _, err := io.WriteString(w, encoded[:base64LineWidth]+"\r\n"); err != nil {
			return err
		}
		encoded = encoded[base64LineWidth:]
	}
	if len(encoded) > 0 {
		if _, err := io.WriteString(w, encoded+"\r\n"); err != nil {
			return err
		}
	}
	return nil
}

// baseHeaders synthesizes the structured RFC 2822 header set from the
// decrypted Mail entity: there is no raw upstream header blob to pass
// through, so every header here is built from scratch.
func baseHeaders(mail *entity.Mail) map[string]string {
	headers := map[string]string{
		"MIME-Version": "1.0",
		"Date":         mail.ReceivedDate.UTC().Format(time.RFC1123Z),
		"From":         formatAddress(mail.SenderName, mail.Sender),
		"Subject":      encodedWord(mail.Subject),
		"Message-Id":   fmt.Sprintf("<%s@%s>", uuid.NewString(), messageIDDomain),
	}
	if len(mail.ToRecipients) > 0 {
		headers["To"] = strings.Join(mail.ToRecipients, ", ")
	}
	if len(mail.CcRecipients) > 0 {
		headers["Cc"] = strings.Join(mail.CcRecipients, ", ")
	}
	if len(mail.BccRecipients) > 0 {
		headers["Bcc"] = strings.Join(mail.BccRecipients, ", ")
	}
	return headers
}

// headerOrder fixes the emitted order of the well-known headers; Go maps
// iterate in random order and a message with headers shuffled run to run
// is needlessly hard to diff.
var headerOrder = []string{"Date", "From", "To", "Cc", "Bcc", "Subject", "Message-Id", "MIME-Version", "Content-Type"}

func writeHeaders(buf *bytes.Buffer, headers map[string]string) {
	written := make(map[string]bool, len(headers))
	for _, key := range headerOrder {
		if v, ok := headers[key]; ok {
			fmt.Fprintf(buf, "%s: %s\r\n", key, v)
			written[key] = true
		}
	}
	for key, v := range headers {
		if !written[key] {
			fmt.Fprintf(buf, "%s: %s\r\n", key, v)
		}
	}
}

func formatAddress(name, address string) string {
	if name == "" {
		return address
	}
	return fmt.Sprintf("%s <%s>", encodedWord(name), address)
}

// encodedWord RFC 2047-encodes s as a UTF-8 "B" (base64) encoded word
// when it carries any non-ASCII byte, and returns it unchanged otherwise.
func encodedWord(s string) string {
	return mime.BEncoding.Encode("UTF-8", s)
}

func writeQuotedPrintable(w io.Writer, s string) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write([]byte(s)); err != nil {
		return err
	}
	return qp.Close()
}
