package crypto

import "errors"

// ErrCrypto is returned for any padding, tag, key or framing failure. The
// underlying cause is wrapped but callers should only branch on ErrCrypto.
var ErrCrypto = errors.New("crypto failure")
