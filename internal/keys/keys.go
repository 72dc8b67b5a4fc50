// Package keys implements the three-tier key hierarchy: passphrase key →
// group keys → per-mail session key. It sits directly on cryptoprim's
// primitives and is consulted by the session controller on login and
// before decoding every mail.
package keys

import (
	"github.com/tuta-cli/tuta-export/internal/cryptoprim"
	"github.com/tuta-cli/tuta-export/internal/entity"
	"github.com/tuta-cli/tuta-export/internal/errs"
)

// DerivePassphraseKey dispatches to the KDF the SaltService response named
// for this account: bcrypt for legacy accounts, Argon2id for current ones.
func DerivePassphraseKey(version entity.KDFVersion, password, username string, argon2Params cryptoprim.Argon2Params) ([]byte, error) {
	switch version {
	case entity.KDFBcrypt:
		return cryptoprim.KDFBcrypt(password, username)
	case entity.KDFArgon2id:
		return cryptoprim.KDFArgon2id(password, argon2Params), nil
	default:
		return nil, errs.New(errs.KindAuth, "derive passphrase key", ErrUnsupportedKeyPath)
	}
}

// UnwrapUserGroupKey unwraps User.userEncClientKey with the passphrase key,
// yielding the entry point of the group-key hierarchy.
func UnwrapUserGroupKey(passphraseKey []byte, user *entity.User) ([]byte, error) {
	key, err := cryptoprim.DecryptKey(passphraseKey, user.UserEncClientKey)
	if err != nil {
		return nil, errs.New(errs.KindAuth, "unwrap user-group key", err)
	}
	return key, nil
}

// UnwrapMailGroupKey finds the user's GroupType_Mail membership and
// unwraps its group key with the already-unwrapped user-group key.
func UnwrapMailGroupKey(userGroupKey []byte, user *entity.User) ([]byte, error) {
	for _, m := range user.Memberships {
		if m.GroupType != entity.GroupMail {
			continue
		}
		if m.SymEncGroupKey == nil {
			return nil, errs.New(errs.KindAuth, "unwrap mail-group key", ErrMembershipKeyMissing)
		}
		key, err := cryptoprim.DecryptKey(userGroupKey, m.SymEncGroupKey)
		if err != nil {
			return nil, errs.New(errs.KindAuth, "unwrap mail-group key", err)
		}
		return key, nil
	}
	return nil, errs.New(errs.KindAuth, "unwrap mail-group key", ErrNoMailGroup)
}

// ResolveMailSessionKey tries the three decrypt paths in order:
// owner-group, bucket, and (unsupported) external.
func ResolveMailSessionKey(mailGroupKey, userGroupKey []byte, mail *entity.Mail) ([]byte, error) {
	switch {
	case mail.OwnerEncSessionKey != nil && mail.BucketKey == nil:
		key, err := cryptoprim.DecryptKey(mailGroupKey, mail.OwnerEncSessionKey)
		if err != nil {
			return nil, errs.New(errs.KindCrypto, "resolve mail session key (owner-group path)", err)
		}
		return key, nil

	case mail.BucketKey != nil:
		bucketKey, err := cryptoprim.DecryptKey(userGroupKey, mail.BucketKey.GroupEncBucketKey)
		if err != nil {
			return nil, errs.New(errs.KindCrypto, "resolve mail session key (bucket path)", err)
		}
		if mail.OwnerEncSessionKey == nil {
			return nil, errs.New(errs.KindCrypto, "resolve mail session key (bucket path)",
				ErrMembershipKeyMissing)
		}
		key, err := cryptoprim.DecryptKey(bucketKey, mail.OwnerEncSessionKey)
		if err != nil {
			return nil, errs.New(errs.KindCrypto, "resolve mail session key (bucket path)", err)
		}
		return key, nil

	default:
		return nil, errs.New(errs.KindCrypto, "resolve mail session key (external path)", ErrUnsupportedKeyPath)
	}
}

// UnwrapOwnerSessionKey unwraps a plain owner-group envelope — the path
// folders and files always take, with no bucket-key indirection.
func UnwrapOwnerSessionKey(groupKey, ownerEncSessionKey []byte) ([]byte, error) {
	if ownerEncSessionKey == nil {
		return nil, errs.New(errs.KindCrypto, "unwrap owner session key", ErrMembershipKeyMissing)
	}
	key, err := cryptoprim.DecryptKey(groupKey, ownerEncSessionKey)
	if err != nil {
		return nil, errs.New(errs.KindCrypto, "unwrap owner session key", err)
	}
	return key, nil
}
