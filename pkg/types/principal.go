package types

import (
	"bytes"
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"
)

// MaxPrincipalLength is the longest raw principal the broker accepts.
const MaxPrincipalLength = 29

// PrincipalEncodedLength is the size of a principal inside a storage key:
// one length byte followed by the zero padded raw bytes.
const PrincipalEncodedLength = 1 + MaxPrincipalLength

const selfAuthenticatingTag = 0x02

var (
	ErrInvalidPrincipal = errors.New("types: invalid principal")

	principalEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)
)

// Principal identifies a caller, a key owner or a grantee. The zero value is
// the empty principal, which sorts before every other principal.
type Principal struct { // A
	raw    [MaxPrincipalLength]byte
	length uint8
}

// PrincipalFromBytes copies b into a Principal.
func PrincipalFromBytes(b []byte) (Principal, error) { // A
	if len(b) > MaxPrincipalLength {
		return Principal{}, fmt.Errorf(
			"%w: %d bytes exceeds maximum of %d",
			ErrInvalidPrincipal,
			len(b),
			MaxPrincipalLength,
		)
	}
	var p Principal
	copy(p.raw[:], b)
	p.length = uint8(len(b))
	return p, nil
}

// SelfAuthenticatingPrincipal derives the principal of a public key holder.
func SelfAuthenticatingPrincipal(publicKeyDER []byte) Principal { // A
	sum := sha256.Sum224(publicKeyDER)
	var p Principal
	copy(p.raw[:], sum[:])
	p.raw[len(sum)] = selfAuthenticatingTag
	p.length = uint8(len(sum) + 1)
	return p
}

// ParsePrincipal parses the textual form produced by String.
func ParsePrincipal(text string) (Principal, error) { // A
	compact := strings.ToUpper(strings.ReplaceAll(text, "-", ""))
	decoded, err := principalEncoding.DecodeString(compact)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %q: %v", ErrInvalidPrincipal, text, err)
	}
	if len(decoded) < 4 {
		return Principal{}, fmt.Errorf("%w: %q: too short", ErrInvalidPrincipal, text)
	}
	p, err := PrincipalFromBytes(decoded[4:])
	if err != nil {
		return Principal{}, err
	}
	if binary.BigEndian.Uint32(decoded[:4]) != crc32.ChecksumIEEE(p.Bytes()) {
		return Principal{}, fmt.Errorf("%w: %q: checksum mismatch", ErrInvalidPrincipal, text)
	}
	if p.String() != strings.ToLower(text) {
		return Principal{}, fmt.Errorf("%w: %q: not in canonical form", ErrInvalidPrincipal, text)
	}
	return p, nil
}

// MustParsePrincipal is ParsePrincipal for constants and tests.
func MustParsePrincipal(text string) Principal {
	p, err := ParsePrincipal(text)
	if err != nil {
		panic(err)
	}
	return p
}

// Bytes returns a copy of the raw principal bytes.
func (p Principal) Bytes() []byte {
	return append([]byte(nil), p.raw[:p.length]...)
}

func (p Principal) Len() int {
	return int(p.length)
}

// String renders the principal as checksummed base32 in groups of five,
// e.g. the empty principal is "aaaaa-aa".
func (p Principal) String() string { // A
	body := make([]byte, 4, 4+p.length)
	binary.BigEndian.PutUint32(body, crc32.ChecksumIEEE(p.raw[:p.length]))
	body = append(body, p.raw[:p.length]...)
	encoded := strings.ToLower(principalEncoding.EncodeToString(body))

	var sb strings.Builder
	for i := 0; i < len(encoded); i += 5 {
		if i > 0 {
			sb.WriteByte('-')
		}
		end := min(i+5, len(encoded))
		sb.WriteString(encoded[i:end])
	}
	return sb.String()
}

// Compare orders principals the same way their storage encodings sort.
func (p Principal) Compare(other Principal) int {
	if p.length != other.length {
		if p.length < other.length {
			return -1
		}
		return 1
	}
	return bytes.Compare(p.raw[:p.length], other.raw[:other.length])
}

func (p Principal) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Principal) UnmarshalText(text []byte) error {
	parsed, err := ParsePrincipal(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// AppendPrincipal appends the fixed width storage encoding of p to dst.
func AppendPrincipal(dst []byte, p Principal) []byte {
	dst = append(dst, p.length)
	return append(dst, p.raw[:]...)
}

// DecodePrincipal reads a principal written by AppendPrincipal.
func DecodePrincipal(b []byte) (Principal, error) { // A
	if len(b) < PrincipalEncodedLength {
		return Principal{}, fmt.Errorf(
			"%w: encoded principal needs %d bytes, got %d",
			ErrInvalidPrincipal,
			PrincipalEncodedLength,
			len(b),
		)
	}
	if int(b[0]) > MaxPrincipalLength {
		return Principal{}, fmt.Errorf("%w: encoded length %d", ErrInvalidPrincipal, b[0])
	}
	return PrincipalFromBytes(b[1 : 1+int(b[0])])
}
