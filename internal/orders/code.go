package orders

import gonanoid "github.com/matoous/go-nanoid/v2"

const (
	codeAlphabet = "0123456789ABCDEFGHJKLMNPQRSTUVWXYZ" // no I/O, read aloud over the phone
	codeLength   = 8
	codeAttempts = 5
)

// NewCode returns a short order code, about 40 bits of entropy.
func NewCode() (string, error) {
	return gonanoid.Generate(codeAlphabet, codeLength)
}
