package entity

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tuta-cli/tuta-export/internal/errs"
)

// decodeKeyBytes reads a base64 key field that is either absent (empty
// string) or one of the wire's three EncryptedKey shapes (16, 32, or 65
// raw bytes once decoded — legacy AES-128/256 or HMAC-authenticated
// AES-128). The codec does not need to distinguish the shapes itself;
// cryptoprim.DecryptKey/DecryptValue dispatch on length internally.
func decodeKeyBytes(raw map[string]json.RawMessage, key string, required bool) ([]byte, error) {
	var encoded string
	msg, ok := raw[key]
	if !ok || string(msg) == "null" {
		if required {
			return nil, errs.New(errs.KindCodec, "decode key "+key, fmt.Errorf("missing required key %q", key))
		}
		return nil, nil
	}
	if err := json.Unmarshal(msg, &encoded); err != nil {
		return nil, errs.New(errs.KindCodec, "decode key "+key, err)
	}
	if encoded == "" {
		return nil, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errs.New(errs.KindCodec, "base64 decode key "+key, err)
	}
	switch len(decoded) {
	case 16, 32, 65:
		return decoded, nil
	default:
		return nil, errs.New(errs.KindCodec, "decode key "+key, fmt.Errorf("invalid key length: %d", len(decoded)))
	}
}

// DecodeUser decodes the User entity. userEncClientKey and the group key
// envelopes are never themselves AES-decrypted by the codec — they are
// key material handed to internal/keys for unwrapping, not field values
// interpreted by the type table.
func DecodeUser(data []byte) (*User, error) {
	raw, err := rawObject(data)
	if err != nil {
		return nil, err
	}

	id, err := unmarshalKey[string](raw, "_id", true)
	if err != nil {
		return nil, err
	}
	clientKey, err := decodeKeyBytes(raw, "userEncClientKey", true)
	if err != nil {
		return nil, err
	}

	userGroupRaw, err := unmarshalKey[json.RawMessage](raw, "userGroup", true)
	if err != nil {
		return nil, err
	}
	userGroup, err := decodeMembership(userGroupRaw)
	if err != nil {
		return nil, err
	}

	membershipsRaw, err := unmarshalKey[[]json.RawMessage](raw, "memberships", false)
	if err != nil {
		return nil, err
	}
	memberships := make([]UserMembership, 0, len(membershipsRaw))
	for _, m := range membershipsRaw {
		membership, err := decodeMembership(m)
		if err != nil {
			return nil, err
		}
		memberships = append(memberships, membership)
	}

	sessionsListID, err := unmarshalKey[string](raw, "sessionsListId", false)
	if err != nil {
		return nil, err
	}

	return &User{
		ID:               id,
		UserGroup:        userGroup,
		Memberships:      memberships,
		UserEncClientKey: clientKey,
		SessionsListID:   sessionsListID,
	}, nil
}

func decodeMembership(data []byte) (UserMembership, error) {
	raw, err := rawObject(data)
	if err != nil {
		return UserMembership{}, err
	}
	groupTypeStr, err := unmarshalKey[string](raw, "groupType", true)
	if err != nil {
		return UserMembership{}, err
	}
	groupType, err := ParseGroupType(groupTypeStr)
	if err != nil {
		return UserMembership{}, err
	}
	group, err := unmarshalKey[string](raw, "group", true)
	if err != nil {
		return UserMembership{}, err
	}
	groupKey, err := decodeKeyBytes(raw, "symEncGKey", false)
	if err != nil {
		return UserMembership{}, err
	}
	return UserMembership{GroupType: groupType, Group: group, SymEncGroupKey: groupKey}, nil
}

// DecodeMailbox decodes the mailbox aggregator reachable from User.
func DecodeMailbox(data []byte) (*Mailbox, error) {
	raw, err := rawObject(data)
	if err != nil {
		return nil, err
	}
	id, err := unmarshalKey[string](raw, "_id", true)
	if err != nil {
		return nil, err
	}
	foldersListID, err := unmarshalKey[string](raw, "folders", true)
	if err != nil {
		return nil, err
	}
	return &Mailbox{ID: id, FoldersListID: foldersListID}, nil
}

var folderFields = []FieldDef{
	{Name: "name", Type: FieldString, Encrypted: true, Compressed: false, Required: true},
}

// DecodeFolder decodes one folder list member; its display name decrypts
// under the mail-group session key resolved from ownerEncSessionKey.
func DecodeFolder(data []byte, sessionKey []byte) (*Folder, []error, error) {
	raw, err := rawObject(data)
	if err != nil {
		return nil, nil, err
	}

	id, err := decodeListID(raw)
	if err != nil {
		return nil, nil, err
	}
	ownerEncSessionKey, err := decodeKeyBytes(raw, "_ownerEncSessionKey", true)
	if err != nil {
		return nil, nil, err
	}
	ownerGroup, err := unmarshalKey[string](raw, "_ownerGroup", true)
	if err != nil {
		return nil, nil, err
	}
	folderTypeStr, err := unmarshalKey[string](raw, "folderType", true)
	if err != nil {
		return nil, nil, err
	}
	folderType, err := ParseMailFolderType(folderTypeStr)
	if err != nil {
		return nil, nil, err
	}
	mailsListID, err := unmarshalKey[string](raw, "mails", true)
	if err != nil {
		return nil, nil, err
	}

	values, softErrors := decodeRecord(raw, folderFields, sessionKey)

	return &Folder{
		ID:                 id,
		OwnerEncSessionKey: ownerEncSessionKey,
		OwnerGroup:         ownerGroup,
		Type:               folderType,
		Name:               values["name"].(string),
		MailsListID:        mailsListID,
	}, softErrors, nil
}

var mailFields = []FieldDef{
	{Name: "subject", Type: FieldString, Encrypted: true, Compressed: false, Required: true},
	{Name: "receivedDate", Type: FieldDate, Encrypted: true, Compressed: false, Required: true},
	{Name: "confidential", Type: FieldBoolean, Encrypted: true, Compressed: false, Required: false},
}

// DecodeMail decodes a mail envelope. Callers resolve the session key via
// internal/keys's three-path cascade before calling this (owner-group,
// bucket, or external) — the codec only consumes the resolved key.
func DecodeMail(data []byte, sessionKey []byte) (*Mail, []error, error) {
	raw, err := rawObject(data)
	if err != nil {
		return nil, nil, err
	}

	id, err := decodeListID(raw)
	if err != nil {
		return nil, nil, err
	}
	ownerGroup, err := unmarshalKey[string](raw, "_ownerGroup", true)
	if err != nil {
		return nil, nil, err
	}
	ownerEncSessionKey, err := decodeKeyBytes(raw, "_ownerEncSessionKey", false)
	if err != nil {
		return nil, nil, err
	}

	var bucketKey *BucketKey
	if bucketRaw, ok := raw["bucketKey"]; ok && string(bucketRaw) != "null" {
		bk, err := decodeBucketKey(bucketRaw)
		if err != nil {
			return nil, nil, err
		}
		bucketKey = bk
	}

	mailDetailsPair, err := unmarshalKey[[2]string](raw, "mailDetails", true)
	if err != nil {
		return nil, nil, err
	}

	sender, err := unmarshalKey[string](raw, "sender", false)
	if err != nil {
		return nil, nil, err
	}
	senderName, err := unmarshalKey[string](raw, "senderName", false)
	if err != nil {
		return nil, nil, err
	}
	toRecipients, err := unmarshalKey[[]string](raw, "toRecipients", false)
	if err != nil {
		return nil, nil, err
	}
	ccRecipients, err := unmarshalKey[[]string](raw, "ccRecipients", false)
	if err != nil {
		return nil, nil, err
	}
	bccRecipients, err := unmarshalKey[[]string](raw, "bccRecipients", false)
	if err != nil {
		return nil, nil, err
	}
	attachmentPairs, err := unmarshalKey[[][2]string](raw, "attachments", false)
	if err != nil {
		return nil, nil, err
	}
	attachmentIDs := make([]ListID, 0, len(attachmentPairs))
	for _, pair := range attachmentPairs {
		attachmentIDs = append(attachmentIDs, ListID(pair))
	}

	values, softErrors := decodeRecord(raw, mailFields, sessionKey)

	receivedMillis, _ := values["receivedDate"].(int64)

	return &Mail{
		ID:                 id,
		OwnerEncSessionKey: ownerEncSessionKey,
		OwnerGroup:         ownerGroup,
		BucketKey:          bucketKey,
		MailDetailsID:      ListID(mailDetailsPair),
		ReceivedDate:       time.UnixMilli(receivedMillis).UTC(),
		Subject:            values["subject"].(string),
		Confidential:       values["confidential"].(bool),
		Sender:             sender,
		SenderName:         senderName,
		ToRecipients:       toRecipients,
		CcRecipients:       ccRecipients,
		BccRecipients:      bccRecipients,
		AttachmentIDs:      attachmentIDs,
	}, softErrors, nil
}

// PeekOwnerEncSessionKey extracts just the _ownerEncSessionKey envelope
// from a folder or file's raw wire form, before its session key has been
// resolved — the session controller needs this key to unwrap the session
// key it then passes back into DecodeFolder/DecodeFile.
func PeekOwnerEncSessionKey(data []byte) ([]byte, error) {
	raw, err := rawObject(data)
	if err != nil {
		return nil, err
	}
	return decodeKeyBytes(raw, "_ownerEncSessionKey", false)
}

// PeekMailKeyEnvelope extracts a mail's key envelope (owner session key
// and, when present, bucket key) ahead of the rest of the decode so the
// controller can run the session-key cascade before calling DecodeMail.
func PeekMailKeyEnvelope(data []byte) (ownerEncSessionKey []byte, bucketKey *BucketKey, err error) {
	raw, err := rawObject(data)
	if err != nil {
		return nil, nil, err
	}
	ownerEncSessionKey, err = decodeKeyBytes(raw, "_ownerEncSessionKey", false)
	if err != nil {
		return nil, nil, err
	}
	if bucketRaw, ok := raw["bucketKey"]; ok && string(bucketRaw) != "null" {
		bucketKey, err = decodeBucketKey(bucketRaw)
		if err != nil {
			return nil, nil, err
		}
	}
	return ownerEncSessionKey, bucketKey, nil
}

func decodeBucketKey(data []byte) (*BucketKey, error) {
	raw, err := rawObject(data)
	if err != nil {
		return nil, err
	}
	groupEncBucketKey, err := decodeKeyBytes(raw, "groupEncBucketKey", true)
	if err != nil {
		return nil, err
	}
	return &BucketKey{GroupEncBucketKey: groupEncBucketKey}, nil
}

var mailDetailsFields = []FieldDef{
	{Name: "compressedText", Type: FieldString, Encrypted: true, Compressed: true, Required: true},
	{Name: "compressedHeaders", Type: FieldString, Encrypted: true, Compressed: true, Required: false},
	{Name: "bodyIsHtml", Type: FieldBoolean, Encrypted: true, Compressed: false, Required: false},
}

// DecodeMailDetails decodes the body/header record. It is always reached
// by decoding a MailDetailsBlob first and resolving the "details" key as
// an embedded (by-value) association under the same session key. A
// record with no "bodyIsHtml" key predates that
// discriminator and is treated as HTML, matching every body this codec
// has ever decoded before the field existed.
func DecodeMailDetails(raw map[string]json.RawMessage, sessionKey []byte) (*MailDetails, []error, error) {
	values, softErrors := decodeRecord(raw, mailDetailsFields, sessionKey)

	_, hasHeaders := raw["compressedHeaders"]
	_, hasBodyFormat := raw["bodyIsHtml"]
	isHTML := true
	if hasBodyFormat {
		isHTML = values["bodyIsHtml"].(bool)
	}

	return &MailDetails{
		Body:              values["compressedText"].(string),
		BodyIsHTML:        isHTML,
		CompressedHeaders: values["compressedHeaders"].(string),
		HasHeaders:        hasHeaders,
	}, softErrors, nil
}

// DecodeMailDetailsBlob decodes the blob-storage wrapper around
// MailDetails, resolving its single embedded association.
func DecodeMailDetailsBlob(data []byte, sessionKey []byte) (*MailDetails, []error, error) {
	raw, err := rawObject(data)
	if err != nil {
		return nil, nil, err
	}
	detailsRaw, err := unmarshalKey[json.RawMessage](raw, "details", true)
	if err != nil {
		return nil, nil, err
	}
	nested, err := rawObject(detailsRaw)
	if err != nil {
		return nil, nil, err
	}
	return DecodeMailDetails(nested, sessionKey)
}

var fileFields = []FieldDef{
	{Name: "name", Type: FieldString, Encrypted: true, Compressed: false, Required: true},
	{Name: "mimeType", Type: FieldString, Encrypted: true, Compressed: false, Required: false},
	{Name: "size", Type: FieldNumber, Encrypted: true, Compressed: false, Required: true},
}

// DecodeFile decodes attachment metadata; the blob itself is fetched and
// decrypted separately via the storage endpoint (transport.BlobClient,
// called from the session controller).
func DecodeFile(data []byte, sessionKey []byte) (*File, []error, error) {
	raw, err := rawObject(data)
	if err != nil {
		return nil, nil, err
	}

	id, err := decodeListID(raw)
	if err != nil {
		return nil, nil, err
	}
	ownerGroup, err := unmarshalKey[string](raw, "_ownerGroup", true)
	if err != nil {
		return nil, nil, err
	}
	ownerEncSessionKey, err := decodeKeyBytes(raw, "_ownerEncSessionKey", false)
	if err != nil {
		return nil, nil, err
	}
	blobArchiveID, err := unmarshalKey[string](raw, "blobArchiveId", true)
	if err != nil {
		return nil, nil, err
	}
	blobID, err := unmarshalKey[string](raw, "blobId", true)
	if err != nil {
		return nil, nil, err
	}

	values, softErrors := decodeRecord(raw, fileFields, sessionKey)

	return &File{
		ID:                 id,
		OwnerEncSessionKey: ownerEncSessionKey,
		OwnerGroup:         ownerGroup,
		Name:               values["name"].(string),
		MimeType:           values["mimeType"].(string),
		Size:               values["size"].(int64),
		BlobArchiveID:      blobArchiveID,
		BlobID:             blobID,
	}, softErrors, nil
}

// PeekElementID reads the element-ID half of a list entity's (list_id,
// element_id) pair, without decrypting or otherwise decoding the rest of
// the record — the paginator uses this to check ordering and build the
// next page's start_id.
func PeekElementID(data []byte) (string, error) {
	raw, err := rawObject(data)
	if err != nil {
		return "", err
	}
	id, err := decodeListID(raw)
	if err != nil {
		return "", err
	}
	return id[1], nil
}

func decodeListID(raw map[string]json.RawMessage) (ListID, error) {
	pair, err := unmarshalKey[[2]string](raw, "_id", true)
	if err != nil {
		return ListID{}, err
	}
	return ListID(pair), nil
}
