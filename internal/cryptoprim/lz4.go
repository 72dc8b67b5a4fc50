package cryptoprim

import (
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"

	"github.com/tuta-cli/tuta-export/internal/errs"
)

// maxDecompressedSize bounds how far DecodeLZ4 will grow its scratch buffer
// while probing for the decompressed size. Mail bodies run to tens of MB;
// anything past this ceiling is treated as malformed input rather than
// allowed to exhaust memory.
const maxDecompressedSize = 128 * 1024 * 1024

// initialBufferSize is a reasonable first guess for a compressed mail
// field; most fields decompress in one attempt at this size.
const initialBufferSize = 8 * 1024

// DecodeLZ4 decompresses a raw LZ4 block. The frame carries no
// decompressed-length header, so the buffer is grown geometrically until
// decompression succeeds or the size ceiling is exceeded.
func DecodeLZ4(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}

	size := initialBufferSize
	for {
		buf := make([]byte, size)
		n, err := lz4.UncompressBlock(data, buf)
		if err == nil {
			return buf[:n], nil
		}
		if !errors.Is(err, lz4.ErrInvalidSourceShortBuffer) {
			return nil, errs.New(errs.KindCrypto, "lz4 decode", fmt.Errorf("%w: %v", ErrLZ4Malformed, err))
		}
		if size >= maxDecompressedSize {
			return nil, errs.New(errs.KindCrypto, "lz4 decode", fmt.Errorf("%w: exceeds %d byte ceiling", ErrLZ4Malformed, maxDecompressedSize))
		}
		size *= 2
		if size > maxDecompressedSize {
			size = maxDecompressedSize
		}
	}
}
