package cryptoprim

import "errors"

// Sentinel causes wrapped by errs.CLIError{Kind: errs.KindCrypto}; callers
// use errors.Is against these to decide per-field/per-mail recovery policy.
var (
	ErrKeyLength        = errors.New("invalid key length")
	ErrMACMismatch      = errors.New("MAC mismatch")
	ErrPaddingMismatch  = errors.New("padding mismatch")
	ErrLZ4Malformed     = errors.New("malformed LZ4 block")
	ErrUTF8Mismatch     = errors.New("decoded bytes are not valid UTF-8")
	ErrCiphertextLength = errors.New("invalid ciphertext length")
)
