package exportwriter

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"testing"
	"time"

	"github.com/tuta-cli/tuta-export/internal/entity"
	"github.com/tuta-cli/tuta-export/internal/session"
)

func parseMessage(t *testing.T, data []byte) *mail.Message {
	t.Helper()
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("parse message: %v", err)
	}
	return msg
}

func TestBuildMessagePlainBodyIsSinglePart(t *testing.T) {
	m := &entity.Mail{
		ReceivedDate: time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC),
		Subject:      "plain",
		Sender:       "a@x.test",
		ToRecipients: []string{"b@y.test"},
	}
	details := &entity.MailDetails{Body: "line one\nline two"}

	data, err := buildMessage(m, details, nil)
	if err != nil {
		t.Fatalf("buildMessage: %v", err)
	}

	msg := parseMessage(t, data)
	ct := msg.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		t.Fatalf("parse content type %q: %v", ct, err)
	}
	if mediaType != "text/plain" {
		t.Errorf("media type = %q, want text/plain", mediaType)
	}
	if got := msg.Header.Get("Date"); got != "Mon, 04 Mar 2024 05:06:07 +0000" {
		t.Errorf("Date = %q", got)
	}
	body, err := io.ReadAll(msg.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "line one") {
		t.Errorf("body missing text:\n%s", body)
	}
	if strings.Contains(string(data), "multipart") {
		t.Errorf("plain body must not be multipart:\n%s", data)
	}
}

func TestBuildMessageHTMLBodyIsAlternative(t *testing.T) {
	m := &entity.Mail{
		ReceivedDate: time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC),
		Subject:      "html",
		Sender:       "a@x.test",
	}
	details := &entity.MailDetails{Body: "<p>hi there</p>", BodyIsHTML: true}

	data, err := buildMessage(m, details, nil)
	if err != nil {
		t.Fatalf("buildMessage: %v", err)
	}

	msg := parseMessage(t, data)
	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil {
		t.Fatalf("parse content type: %v", err)
	}
	if mediaType != "multipart/alternative" {
		t.Fatalf("media type = %q, want multipart/alternative", mediaType)
	}

	mr := multipart.NewReader(msg.Body, params["boundary"])

	first, err := mr.NextPart()
	if err != nil {
		t.Fatalf("first part: %v", err)
	}
	if ct := first.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("first part type = %q, want text/plain first", ct)
	}
	plain, err := io.ReadAll(first)
	if err != nil {
		t.Fatalf("read plain part: %v", err)
	}
	if !strings.Contains(string(plain), "hi there") {
		t.Errorf("plain rendering missing text: %q", plain)
	}
	if strings.Contains(string(plain), "<p>") {
		t.Errorf("plain rendering still carries tags: %q", plain)
	}

	second, err := mr.NextPart()
	if err != nil {
		t.Fatalf("second part: %v", err)
	}
	if ct := second.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("second part type = %q, want text/html last", ct)
	}
	htmlBody, err := io.ReadAll(second)
	if err != nil {
		t.Fatalf("read html part: %v", err)
	}
	if string(htmlBody) != "<p>hi there</p>" {
		t.Errorf("html part = %q, want verbatim body", htmlBody)
	}

	if _, err := mr.NextPart(); err != io.EOF {
		t.Errorf("expected exactly two parts, got extra (err=%v)", err)
	}
}

func TestBuildMessageAttachmentsNestAlternative(t *testing.T) {
	m := &entity.Mail{
		ReceivedDate: time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC),
		Subject:      "mixed",
		Sender:       "a@x.test",
	}
	details := &entity.MailDetails{Body: "<b>bold</b>", BodyIsHTML: true}
	atts := []session.Attachment{{Name: "r.bin", MimeType: "", Data: []byte{0x00, 0x01}}}

	data, err := buildMessage(m, details, atts)
	if err != nil {
		t.Fatalf("buildMessage: %v", err)
	}

	msg := parseMessage(t, data)
	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil {
		t.Fatalf("parse content type: %v", err)
	}
	if mediaType != "multipart/mixed" {
		t.Fatalf("outer media type = %q, want multipart/mixed", mediaType)
	}

	mr := multipart.NewReader(msg.Body, params["boundary"])

	first, err := mr.NextPart()
	if err != nil {
		t.Fatalf("first part: %v", err)
	}
	if ct := first.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/alternative") {
		t.Errorf("first part type = %q, want nested multipart/alternative", ct)
	}

	second, err := mr.NextPart()
	if err != nil {
		t.Fatalf("second part: %v", err)
	}
	if ct := second.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/octet-stream") {
		t.Errorf("empty MIME type should default to octet-stream, got %q", ct)
	}
	if cd := second.Header.Get("Content-Disposition"); !strings.Contains(cd, `filename="r.bin"`) {
		t.Errorf("attachment disposition = %q", cd)
	}
}

func TestHTMLToText(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"hello", "hello"},
		{"a<br>b", "a\nb"},
		{"<p>hi</p>", "\nhi"},
		{"<ul><li>one</li><li>two</li></ul>", "\none\n\ntwo"},
		{"plain &amp; simple", "plain & simple"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := htmlToText(tc.in); got != tc.want {
			t.Errorf("htmlToText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestEncodedWord(t *testing.T) {
	if got := encodedWord("plain subject"); got != "plain subject" {
		t.Errorf("ASCII input must pass through, got %q", got)
	}
	got := encodedWord("Grüße")
	if !strings.HasPrefix(got, "=?UTF-8?") || !strings.HasSuffix(got, "?=") {
		t.Errorf("non-ASCII input must become an encoded word, got %q", got)
	}
	dec := new(mime.WordDecoder)
	decoded, err := dec.DecodeHeader(got)
	if err != nil {
		t.Fatalf("decode %q: %v", got, err)
	}
	if decoded != "Grüße" {
		t.Errorf("round trip = %q, want Grüße", decoded)
	}
}
