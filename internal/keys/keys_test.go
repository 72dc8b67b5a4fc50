package keys

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"testing"

	"github.com/tuta-cli/tuta-export/internal/entity"
)

var legacyKeyUnwrapIV = bytes.Repeat([]byte{0x88}, 16)

// wrapKeyForTest builds the no-padding, fixed-IV wire shape DecryptKey
// expects for wrapped key material.
func wrapKeyForTest(t *testing.T, wrappingKey, plainKey []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(wrappingKey)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	out := make([]byte, len(plainKey))
	cipher.NewCBCEncrypter(block, legacyKeyUnwrapIV).CryptBlocks(out, plainKey)
	return out
}

func TestUnwrapGroupKeyChain(t *testing.T) {
	passphraseKey := bytes.Repeat([]byte{0x01}, 16)
	userGroupKey := bytes.Repeat([]byte{0x02}, 16)
	mailGroupKey := bytes.Repeat([]byte{0x03}, 16)

	user := &entity.User{
		UserEncClientKey: wrapKeyForTest(t, passphraseKey, userGroupKey),
		Memberships: []entity.UserMembership{
			{GroupType: entity.GroupContact, Group: "contactGroup"},
			{GroupType: entity.GroupMail, Group: "mailGroup", SymEncGroupKey: wrapKeyForTest(t, userGroupKey, mailGroupKey)},
		},
	}

	gotUserGroupKey, err := UnwrapUserGroupKey(passphraseKey, user)
	if err != nil {
		t.Fatalf("unwrap user-group key: %v", err)
	}
	if !bytes.Equal(gotUserGroupKey, userGroupKey) {
		t.Fatalf("got %x want %x", gotUserGroupKey, userGroupKey)
	}

	gotMailGroupKey, err := UnwrapMailGroupKey(gotUserGroupKey, user)
	if err != nil {
		t.Fatalf("unwrap mail-group key: %v", err)
	}
	if !bytes.Equal(gotMailGroupKey, mailGroupKey) {
		t.Fatalf("got %x want %x", gotMailGroupKey, mailGroupKey)
	}
}

func TestUnwrapMailGroupKeyMissing(t *testing.T) {
	user := &entity.User{
		Memberships: []entity.UserMembership{
			{GroupType: entity.GroupContact, Group: "contactGroup"},
		},
	}
	_, err := UnwrapMailGroupKey(bytes.Repeat([]byte{1}, 16), user)
	if err == nil {
		t.Fatal("expected error for missing mail group")
	}
}

func TestResolveMailSessionKeyOwnerGroupPath(t *testing.T) {
	mailGroupKey := bytes.Repeat([]byte{0x04}, 16)
	sessionKey := bytes.Repeat([]byte{0x05}, 16)

	mail := &entity.Mail{
		OwnerEncSessionKey: wrapKeyForTest(t, mailGroupKey, sessionKey),
	}

	got, err := ResolveMailSessionKey(mailGroupKey, nil, mail)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, sessionKey) {
		t.Fatalf("got %x want %x", got, sessionKey)
	}
}

func TestResolveMailSessionKeyBucketPath(t *testing.T) {
	userGroupKey := bytes.Repeat([]byte{0x06}, 16)
	bucketKey := bytes.Repeat([]byte{0x07}, 16)
	sessionKey := bytes.Repeat([]byte{0x08}, 16)

	mail := &entity.Mail{
		BucketKey: &entity.BucketKey{
			GroupEncBucketKey: wrapKeyForTest(t, userGroupKey, bucketKey),
		},
		OwnerEncSessionKey: wrapKeyForTest(t, bucketKey, sessionKey),
	}

	got, err := ResolveMailSessionKey(nil, userGroupKey, mail)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, sessionKey) {
		t.Fatalf("got %x want %x", got, sessionKey)
	}
}

func TestResolveMailSessionKeyExternalPathUnsupported(t *testing.T) {
	mail := &entity.Mail{}
	_, err := ResolveMailSessionKey(nil, nil, mail)
	if err == nil {
		t.Fatal("expected unsupported key path error")
	}
}
