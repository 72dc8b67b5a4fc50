package session

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tuta-cli/tuta-export/internal/cryptoprim"
	"github.com/tuta-cli/tuta-export/internal/entity"
	"github.com/tuta-cli/tuta-export/internal/transport"
)

var fixedKeyUnwrapIV = strings.Repeat("\x88", 16)

func wrapKey(t *testing.T, wrappingKey, plainKey []byte) string {
	t.Helper()
	block, err := aes.NewCipher(wrappingKey)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	out := make([]byte, len(plainKey))
	cipher.NewCBCEncrypter(block, []byte(fixedKeyUnwrapIV)).CryptBlocks(out, plainKey)
	return base64.StdEncoding.EncodeToString(out)
}

type recordingWriter struct {
	calls int
}

func (w *recordingWriter) Write(mail *entity.Mail, details *entity.MailDetails, attachments []Attachment) error {
	w.calls++
	return nil
}

func TestControllerLoginOnly(t *testing.T) {
	const username = "user@example.com"
	const password = "hunter2"

	salt := []byte("0123456789abcdef")
	argon2Params := argon2idDefaults
	argon2Params.Salt = salt
	passphraseKey := cryptoprim.KDFArgon2id(password, argon2Params)

	userGroupKey := make([]byte, 16)
	for i := range userGroupKey {
		userGroupKey[i] = byte(i + 1)
	}
	mailGroupKey := make([]byte, 16)
	for i := range mailGroupKey {
		mailGroupKey[i] = byte(i + 9)
	}

	wantVerifier := cryptoprim.AuthVerifier(passphraseKey)

	mux := http.NewServeMux()
	mux.HandleFunc("/saltservice", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("mailAddress") != username {
			t.Errorf("unexpected mailAddress: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"kdfVersion": "1",
			"salt":       base64.StdEncoding.EncodeToString(salt),
		})
	})
	mux.HandleFunc("/sessionservice", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			MailAddress  string `json:"mailAddress"`
			AuthVerifier string `json:"authVerifier"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.MailAddress != username {
			t.Errorf("unexpected mailAddress %q", body.MailAddress)
		}
		if body.AuthVerifier != wantVerifier {
			t.Errorf("unexpected auth verifier %q, want %q", body.AuthVerifier, wantVerifier)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"accessToken": "tok-abc",
			"user":        "user1",
		})
	})
	mux.HandleFunc("/user/user1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("accessToken") != "tok-abc" {
			t.Errorf("missing session access token")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"_id":              "user1",
			"userEncClientKey": wrapKey(t, passphraseKey, userGroupKey),
			"userGroup": map[string]any{
				"groupType": "0",
				"group":     "userGroup1",
			},
			"memberships": []map[string]any{
				{
					"groupType":  "5",
					"group":      "mailGroup1",
					"symEncGKey": wrapKey(t, userGroupKey, mailGroupKey),
				},
			},
		})
	})
	mux.HandleFunc("/mailbox/mailGroup1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"_id":     "mailbox1",
			"folders": "foldersListA",
		})
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()

	sys := transport.New(ts.URL, 5*time.Second)
	sys.Retry = transport.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	ctrl := New(sys)
	if err := ctrl.Login(context.Background(), username, password); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if ctrl.State() != StateReady {
		t.Fatalf("expected StateReady, got %v", ctrl.State())
	}
	if ctrl.mailbox.FoldersListID != "foldersListA" {
		t.Fatalf("got folders list id %q", ctrl.mailbox.FoldersListID)
	}
}

func TestExpiredSessionIsSilentlyRenewed(t *testing.T) {
	const username = "user@example.com"
	const password = "hunter2"

	salt := []byte("0123456789abcdef")
	argon2Params := argon2idDefaults
	argon2Params.Salt = salt
	passphraseKey := cryptoprim.KDFArgon2id(password, argon2Params)

	userGroupKey := make([]byte, 16)
	for i := range userGroupKey {
		userGroupKey[i] = byte(i + 1)
	}
	mailGroupKey := make([]byte, 16)
	for i := range mailGroupKey {
		mailGroupKey[i] = byte(i + 9)
	}

	var sessionCalls, folderCalls int

	mux := http.NewServeMux()
	mux.HandleFunc("/saltservice", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"kdfVersion": "1",
			"salt":       base64.StdEncoding.EncodeToString(salt),
		})
	})
	mux.HandleFunc("/sessionservice", func(w http.ResponseWriter, r *http.Request) {
		sessionCalls++
		token := "tok-1"
		if sessionCalls > 1 {
			token = "tok-2"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"accessToken": token,
			"user":        "user1",
		})
	})
	mux.HandleFunc("/user/user1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"_id":              "user1",
			"userEncClientKey": wrapKey(t, passphraseKey, userGroupKey),
			"userGroup": map[string]any{
				"groupType": "0",
				"group":     "userGroup1",
			},
			"memberships": []map[string]any{
				{
					"groupType":  "5",
					"group":      "mailGroup1",
					"symEncGKey": wrapKey(t, userGroupKey, mailGroupKey),
				},
			},
		})
	})
	mux.HandleFunc("/mailbox/mailGroup1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"_id":     "mailbox1",
			"folders": "foldersListA",
		})
	})
	mux.HandleFunc("/folder/foldersListA", func(w http.ResponseWriter, r *http.Request) {
		folderCalls++
		if r.Header.Get("accessToken") == "tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("[]"))
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()

	sys := transport.New(ts.URL, 5*time.Second)
	sys.Retry = transport.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	ctrl := New(sys)
	if err := ctrl.Login(context.Background(), username, password); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	folders, err := ctrl.ListFolders(context.Background())
	if err != nil {
		t.Fatalf("list folders should survive an expired token: %v", err)
	}
	if len(folders) != 0 {
		t.Fatalf("expected empty folder list, got %d", len(folders))
	}
	if sessionCalls != 2 {
		t.Errorf("expected exactly one re-login (2 session calls), got %d", sessionCalls)
	}
	if folderCalls != 2 {
		t.Errorf("expected the folder fetch to be retried once, got %d calls", folderCalls)
	}
	if got := sys.AccessToken(); got != "tok-2" {
		t.Errorf("client should carry the renewed token, got %q", got)
	}
}

func TestControllerLoginRejectsChallenges(t *testing.T) {
	salt := []byte("0123456789abcdef")
	mux := http.NewServeMux()
	mux.HandleFunc("/saltservice", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"kdfVersion": "1",
			"salt":       base64.StdEncoding.EncodeToString(salt),
		})
	})
	mux.HandleFunc("/sessionservice", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"accessToken": "tok",
			"user":        "user1",
			"challenges":  []map[string]any{{"type": "u2f"}},
		})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	sys := transport.New(ts.URL, 5*time.Second)
	sys.Retry = transport.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	ctrl := New(sys)
	err := ctrl.Login(context.Background(), "user@example.com", "pw")
	if err == nil {
		t.Fatal("expected an error for unsupported challenges")
	}
	if ctrl.State() != StateTerminated {
		t.Fatalf("expected StateTerminated, got %v", ctrl.State())
	}
}
