package exportwriter

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tuta-cli/tuta-export/internal/entity"
	"github.com/tuta-cli/tuta-export/internal/session"
)

func TestWriteProducesExpectedFilenameAndBody(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	mail := &entity.Mail{
		ReceivedDate: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Subject:      "Hello world",
		Sender:       "a@x.test",
		SenderName:   "",
		ToRecipients: []string{"b@y.test"},
	}
	details := &entity.MailDetails{Body: "hi\n"}

	if err := w.Write(mail, details, nil); err != nil {
		t.Fatalf("write: %v", err)
	}

	wantPath := filepath.Join(dir, "2024-01-02T03-04-05Z hello-world.eml")
	data, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatalf("expected file at %s: %v", wantPath, err)
	}
	content := string(data)
	if !strings.Contains(content, "Subject: Hello world\r\n") {
		t.Errorf("missing plain ASCII subject header:\n%s", content)
	}
	if !strings.Contains(content, "From: a@x.test\r\n") {
		t.Errorf("missing From header:\n%s", content)
	}
	if !strings.Contains(content, "To: b@y.test\r\n") {
		t.Errorf("missing To header:\n%s", content)
	}
	if !strings.Contains(content, "hi\r\n") && !strings.Contains(content, "hi\n") {
		t.Errorf("missing body text:\n%s", content)
	}
	if _, err := os.Stat(wantPath + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}
}

func TestWriteResolvesFilenameCollisions(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	mail := &entity.Mail{
		ReceivedDate: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Subject:      "dup",
		Sender:       "a@x.test",
	}
	details := &entity.MailDetails{Body: "body"}

	for i := 0; i < 3; i++ {
		if err := w.Write(mail, details, nil); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 distinct files, got %d", len(entries))
	}
}

func TestWriteEmitsAttachmentAsMultipartMixed(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	mail := &entity.Mail{
		ReceivedDate: time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
		Subject:      "with attachment",
		Sender:       "a@x.test",
	}
	details := &entity.MailDetails{Body: "<p>hi</p>", BodyIsHTML: true}
	attachments := []session.Attachment{
		{Name: "doc.txt", MimeType: "text/plain", Data: []byte("attachment contents")},
	}

	if err := w.Write(mail, details, attachments); err != nil {
		t.Fatalf("write: %v", err)
	}

	wantPath := filepath.Join(dir, "2024-05-06T07-08-09Z with-attachment.eml")
	data, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatalf("expected file at %s: %v", wantPath, err)
	}
	content := string(data)
	if !strings.Contains(content, "multipart/mixed") {
		t.Errorf("expected multipart/mixed wrapper:\n%s", content)
	}
	if !strings.Contains(content, `filename="doc.txt"`) {
		t.Errorf("expected attachment filename header:\n%s", content)
	}
	if !strings.Contains(content, "Content-Transfer-Encoding: base64") {
		t.Errorf("expected base64-encoded attachment part:\n%s", content)
	}
}

func TestEscapeFileStringFoldsAndLowercases(t *testing.T) {
	cases := map[string]string{
		"Hello world":        "hello-world",
		"Re: [urgent] hi!!":  "re-urgent-hi",
		"":                   "",
		"already-lower":      "already-lower",
		"  leading trailing ": "leading-trailing",
	}
	for in, want := range cases {
		if got := escapeFileString(in); got != want {
			t.Errorf("escapeFileString(%q) = %q, want %q", in, got, want)
		}
	}
}
