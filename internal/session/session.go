// Package session implements the controller that drives a single
// export end to end: login, key-hierarchy load, folder enumeration, and
// the concurrent mail pipeline (pipeline.go).
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/tuta-cli/tuta-export/internal/cryptoprim"
	"github.com/tuta-cli/tuta-export/internal/entity"
	"github.com/tuta-cli/tuta-export/internal/errs"
	"github.com/tuta-cli/tuta-export/internal/keys"
	"github.com/tuta-cli/tuta-export/internal/transport"
)

// State is one node of the login/export state machine.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateReady
	StateExporting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "Unauthenticated"
	case StateAuthenticated:
		return "Authenticated"
	case StateReady:
		return "Ready"
	case StateExporting:
		return "Exporting"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// ErrInvalidTransition marks an attempted operation the current state
// does not allow (e.g. calling Export before Login).
type ErrInvalidTransition struct {
	From State
	Op   string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("cannot %s from state %s", e.Op, e.From)
}

// argon2idDefaults covers a SaltService response that omits explicit
// Argon2id tuning (the service has historically used one fixed profile
// for every current-path account).
var argon2idDefaults = cryptoprim.Argon2Params{
	Time:        4,
	MemoryKiB:   65536,
	Parallelism: 1,
	KeyLen:      32,
}

// Controller holds everything a login unlocks: the access-token-bearing
// transport client, the unwrapped group keys, and the signed-in user's
// mailbox. It is not safe for concurrent Login/Export calls, but Export's
// own internal pipeline (pipeline.go) fans out safely once started.
type Controller struct {
	sys   *transport.Client
	blob  *transport.BlobClient
	state State

	// PageSize overrides the paginator's DefaultPageSize for every list
	// walk this controller performs. Zero selects the default.
	PageSize int

	username string
	password string

	// passphraseKey is retained between authenticate and the key unwrap
	// steps of the first handshake; it never leaves the process.
	passphraseKey []byte

	// reauthMu serializes re-login attempts: two workers hitting a 401 at
	// once must not both reset the state machine and re-run the handshake
	// concurrently.
	reauthMu sync.Mutex

	user         *entity.User
	userGroupKey []byte
	mailGroupKey []byte
	mailbox      *entity.Mailbox
}

// New wraps a transport.Client whose BaseURL serves every REST call the
// controller makes: the login services and the mail entities are all
// addressed as paths under that one base.
func New(sys *transport.Client) *Controller {
	return &Controller{sys: sys, state: StateUnauthenticated}
}

// State reports the controller's current node in the login/export
// state machine.
func (c *Controller) State() State { return c.state }

type saltResponse struct {
	KDFVersion  string `json:"kdfVersion"`
	Salt        string `json:"salt"`
	MemoryKiB   uint32 `json:"memoryInKiB"`
	Iterations  uint32 `json:"iterations"`
	Parallelism uint8  `json:"parallelism"`
	KeyLength   uint32 `json:"keyLength"`
}

type sessionRequest struct {
	MailAddress      string `json:"mailAddress"`
	AuthVerifier     string `json:"authVerifier"`
	ClientIdentifier string `json:"clientIdentifier"`
}

type sessionResponse struct {
	AccessToken string            `json:"accessToken"`
	User        string            `json:"user"`
	Challenges  []json.RawMessage `json:"challenges"`
}

// clientIdentifier names this client on every SessionService login.
const clientIdentifier = "tuta-export"

// Login authenticates username/password and retains both so a later 401
// can trigger a single silent re-login; see
// runHandshake for the five-step handshake itself.
func (c *Controller) Login(ctx context.Context, username, password string) error {
	if c.state != StateUnauthenticated {
		return errs.New(errs.KindAuth, "login", &ErrInvalidTransition{From: c.state, Op: "login"})
	}
	c.username = username
	c.password = password
	return c.runHandshake(ctx)
}

// reLogin re-runs just the credential handshake (salt lookup, KDF,
// SessionService) with the credentials captured by the most recent Login
// call and installs the fresh token on the shared transport client. The
// unwrapped key hierarchy is untouched: keys derive from the password,
// not the session. staleToken is the token the caller saw rejected;
// if another worker already replaced it, the handshake is skipped.
func (c *Controller) reLogin(ctx context.Context, staleToken string) error {
	c.reauthMu.Lock()
	defer c.reauthMu.Unlock()

	if c.sys.AccessToken() != staleToken {
		return nil
	}
	token, _, err := c.authenticate(ctx)
	if err != nil {
		return err
	}
	c.sys.SetAccessToken(token)
	return nil
}

// withReauth runs op once; if it fails because the access token was
// rejected, it performs a single silent re-login and retries op exactly
// once more. Any other failure, or a second 401 after the
// retry, is returned as-is.
func (c *Controller) withReauth(ctx context.Context, op func() error) error {
	staleToken := c.sys.AccessToken()
	err := op()
	if !errors.Is(err, transport.ErrUnauthorized) {
		return err
	}
	if err := c.reLogin(ctx, staleToken); err != nil {
		return err
	}
	return op()
}

// authenticate performs the credential half of the login handshake: salt
// lookup, passphrase key derivation, and session creation. It returns the
// fresh access token and user ID without touching controller state, so
// both the initial handshake and a silent re-login can share it. The
// derived passphrase key is retained on the controller for the key
// unwrapping that follows on first login.
func (c *Controller) authenticate(ctx context.Context) (token, userID string, err error) {
	username, password := c.username, c.password

	var salt saltResponse
	if err := c.sys.Get(ctx, "saltservice?mailAddress="+url.QueryEscape(username), &salt); err != nil {
		return "", "", err
	}

	kdfVersion, err := entity.ParseKDFVersion(salt.KDFVersion)
	if err != nil {
		return "", "", err
	}

	saltBytes, err := decodeSalt(salt.Salt)
	if err != nil {
		return "", "", errs.New(errs.KindCodec, "login: decode salt", err)
	}

	argon2Params := argon2idDefaults
	argon2Params.Salt = saltBytes
	if salt.Iterations != 0 {
		argon2Params.Time = salt.Iterations
	}
	if salt.MemoryKiB != 0 {
		argon2Params.MemoryKiB = salt.MemoryKiB
	}
	if salt.Parallelism != 0 {
		argon2Params.Parallelism = salt.Parallelism
	}
	if salt.KeyLength != 0 {
		argon2Params.KeyLen = salt.KeyLength
	}

	passphraseKey, err := keys.DerivePassphraseKey(kdfVersion, password, username, argon2Params)
	if err != nil {
		return "", "", err
	}
	c.passphraseKey = passphraseKey

	var sessResp sessionResponse
	err = c.sys.Post(ctx, "sessionservice", sessionRequest{
		MailAddress:      username,
		AuthVerifier:     cryptoprim.AuthVerifier(passphraseKey),
		ClientIdentifier: clientIdentifier,
	}, &sessResp)
	if err != nil {
		return "", "", err
	}
	if len(sessResp.Challenges) > 0 {
		return "", "", errs.New(errs.KindAuth, "login", fmt.Errorf("second factor challenges not supported"))
	}
	return sessResp.AccessToken, sessResp.User, nil
}

// runHandshake performs the five-step login handshake against
// c.username/c.password: salt lookup, passphrase key derivation, session
// creation, user fetch, and key-chain unwrap. On success the controller's
// state becomes StateReady; any failure leaves it StateTerminated, since
// a half-authenticated controller is not safely retryable.
func (c *Controller) runHandshake(ctx context.Context) error {
	token, userID, err := c.authenticate(ctx)
	if err != nil {
		c.state = StateTerminated
		return err
	}

	c.sys.SetAccessToken(token)
	c.state = StateAuthenticated
	if c.blob == nil {
		c.blob = transport.NewBlobClient(c.sys)
	}

	var userRaw json.RawMessage
	if err := c.sys.Get(ctx, "user/"+userID, &userRaw); err != nil {
		c.state = StateTerminated
		return err
	}
	user, err := entity.DecodeUser(userRaw)
	if err != nil {
		c.state = StateTerminated
		return err
	}

	userGroupKey, err := keys.UnwrapUserGroupKey(c.passphraseKey, user)
	if err != nil {
		c.state = StateTerminated
		return err
	}
	mailGroupKey, err := keys.UnwrapMailGroupKey(userGroupKey, user)
	if err != nil {
		c.state = StateTerminated
		return err
	}

	mailGroupMembership, err := mailGroupOf(user)
	if err != nil {
		c.state = StateTerminated
		return err
	}

	var mailboxRaw json.RawMessage
	if err := c.sys.Get(ctx, "mailbox/"+mailGroupMembership.Group, &mailboxRaw); err != nil {
		c.state = StateTerminated
		return err
	}
	mailbox, err := entity.DecodeMailbox(mailboxRaw)
	if err != nil {
		c.state = StateTerminated
		return err
	}

	c.user = user
	c.userGroupKey = userGroupKey
	c.mailGroupKey = mailGroupKey
	c.mailbox = mailbox
	c.state = StateReady

	return nil
}

func mailGroupOf(user *entity.User) (*entity.UserMembership, error) {
	for i := range user.Memberships {
		if user.Memberships[i].GroupType == entity.GroupMail {
			return &user.Memberships[i], nil
		}
	}
	return nil, errs.New(errs.KindAuth, "resolve mail group", keys.ErrNoMailGroup)
}

func decodeSalt(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
