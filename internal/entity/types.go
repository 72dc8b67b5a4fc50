package entity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tuta-cli/tuta-export/internal/errs"
)

// GroupType mirrors the server's permission-group taxonomy. Only the
// members relevant to a read-only mail export are named; the rest decode
// but are otherwise unused.
type GroupType int

const (
	GroupUser GroupType = iota
	GroupAdmin
	GroupMailingList
	GroupCustomer
	GroupExternal
	GroupMail
	GroupContact
	GroupFile
	GroupLocalAdmin
	GroupCalendar
	GroupTemplate
	GroupContactList
)

func ParseGroupType(s string) (GroupType, error) {
	switch s {
	case "0":
		return GroupUser, nil
	case "1":
		return GroupAdmin, nil
	case "2":
		return GroupMailingList, nil
	case "3":
		return GroupCustomer, nil
	case "4":
		return GroupExternal, nil
	case "5":
		return GroupMail, nil
	case "6":
		return GroupContact, nil
	case "7":
		return GroupFile, nil
	case "8":
		return GroupLocalAdmin, nil
	case "9":
		return GroupCalendar, nil
	case "10":
		return GroupTemplate, nil
	case "11":
		return GroupContactList, nil
	default:
		return 0, errs.New(errs.KindCodec, "parse group type", fmt.Errorf("invalid group type: %s", s))
	}
}

// KDFVersion selects which passphrase KDF a SaltService response calls for.
type KDFVersion int

const (
	KDFBcrypt KDFVersion = iota
	KDFArgon2id
)

func ParseKDFVersion(s string) (KDFVersion, error) {
	switch s {
	case "0":
		return KDFBcrypt, nil
	case "1":
		return KDFArgon2id, nil
	default:
		return 0, errs.New(errs.KindCodec, "parse kdf version", fmt.Errorf("invalid KDF version: %s", s))
	}
}

// MailFolderType is the folder taxonomy surfaced by list-folders.
type MailFolderType int

const (
	FolderCustom MailFolderType = iota
	FolderInbox
	FolderSent
	FolderTrash
	FolderArchive
	FolderSpam
	FolderDraft
)

func (t MailFolderType) String() string {
	switch t {
	case FolderCustom:
		return "Custom"
	case FolderInbox:
		return "Inbox"
	case FolderSent:
		return "Sent"
	case FolderTrash:
		return "Trash"
	case FolderArchive:
		return "Archive"
	case FolderSpam:
		return "Spam"
	case FolderDraft:
		return "Draft"
	default:
		return "Unknown"
	}
}

func ParseMailFolderType(s string) (MailFolderType, error) {
	switch s {
	case "0":
		return FolderCustom, nil
	case "1":
		return FolderInbox, nil
	case "2":
		return FolderSent, nil
	case "3":
		return FolderTrash, nil
	case "4":
		return FolderArchive, nil
	case "5":
		return FolderSpam, nil
	case "6":
		return FolderDraft, nil
	default:
		return 0, errs.New(errs.KindCodec, "parse mail folder type", fmt.Errorf("invalid mail folder type: %s", s))
	}
}

// ListID is the (listID, elementID) address pair of a list-member entity.
type ListID [2]string

// UserMembership is one row of User.memberships: a permission group the
// user belongs to and that group's key, wrapped under the passphrase key
// (or, for external/templated groups, absent entirely).
type UserMembership struct {
	GroupType      GroupType
	Group          string
	SymEncGroupKey []byte // nil when the membership carries no group key
}

// User identifies the authenticated principal and carries the envelope
// needed to reach the user-group key.
type User struct {
	ID               string
	UserGroup        UserMembership
	Memberships      []UserMembership
	UserEncClientKey []byte
	SessionsListID   string
}

// Mailbox aggregates the folder list and mail-group reference reachable
// from a signed-in user.
type Mailbox struct {
	ID            string
	FoldersListID string
}

// Folder carries its display name (encrypted under the mail-group session
// key) and a reference to its mail list.
type Folder struct {
	ID                 ListID
	OwnerEncSessionKey []byte
	OwnerGroup         string
	Type               MailFolderType
	Name               string
	MailsListID        string
}

// Mail is the envelope for a single message: subject and timestamp
// decrypt under the mail's own session key; body lives in a linked
// MailDetails record.
type Mail struct {
	ID                 ListID
	OwnerEncSessionKey []byte
	OwnerGroup         string
	BucketKey          *BucketKey
	MailDetailsID      ListID
	ReceivedDate       time.Time
	Subject            string
	Confidential       bool
	Sender             string
	SenderName         string
	ToRecipients       []string
	CcRecipients       []string
	BccRecipients      []string
	AttachmentIDs      []ListID
}

// BucketKey is the indirection used for shared/externally-delivered mail:
// the mail's session key is wrapped by the bucket key, and the bucket key
// itself is wrapped by the user-group key.
type BucketKey struct {
	GroupEncBucketKey []byte
}

// MailDetails holds the decrypted body and, for real inbound email,
// extended header text; the text fields are LZ4-compressed on the wire.
// BodyIsHTML distinguishes an HTML body from a plaintext one, so the
// export writer knows whether a plaintext alternative needs synthesizing.
type MailDetails struct {
	Body              string
	BodyIsHTML        bool
	CompressedHeaders string
	HasHeaders        bool
}

// File is attachment metadata plus a reference to the encrypted blob that
// transport.BlobClient fetches from the storage endpoint.
type File struct {
	ID                 ListID
	OwnerEncSessionKey []byte
	OwnerGroup         string
	Name               string
	MimeType           string
	Size               int64
	BlobArchiveID      string
	BlobID             string
}

// rawObject is the shared entry point for every DecodeX function: an
// entity's wire form is always a flat JSON object plus a handful of
// system keys (_id, _ownerGroup, _ownerEncSessionKey, _format) that are
// plain JSON rather than part of the encrypted field table.
func rawObject(data []byte) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errs.New(errs.KindCodec, "decode entity envelope", err)
	}
	return raw, nil
}

func unmarshalKey[T any](raw map[string]json.RawMessage, key string, required bool) (T, error) {
	var zero T
	msg, ok := raw[key]
	if !ok || string(msg) == "null" {
		if required {
			return zero, errs.New(errs.KindCodec, "decode entity", fmt.Errorf("missing required key %q", key))
		}
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(msg, &v); err != nil {
		return zero, errs.New(errs.KindCodec, "decode entity key "+key, err)
	}
	return v, nil
}
