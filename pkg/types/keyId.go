package types

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// NameLength is the fixed size of key names and map keys.
const NameLength = 32

// KeyIDEncodedLength is the size of a KeyID inside a storage key.
const KeyIDEncodedLength = PrincipalEncodedLength + NameLength

var (
	ErrInvalidKeyName = errors.New("types: invalid key name")
	ErrInvalidKeyID   = errors.New("types: invalid key id")
)

// KeyName is the owner-chosen part of a KeyID.
type KeyName [NameLength]byte

// MapName names an encrypted map; it is the KeyName of the map's KeyID.
type MapName = KeyName

// MapKey addresses a single value inside an encrypted map.
type MapKey [NameLength]byte

// TransportKey is the caller supplied public key the derivation service
// encrypts derived key material to.
type TransportKey []byte

// KeyNameFromBytes zero pads b to NameLength.
func KeyNameFromBytes(b []byte) (KeyName, error) { // A
	var n KeyName
	if len(b) > NameLength {
		return n, fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidKeyName, len(b), NameLength)
	}
	copy(n[:], b)
	return n, nil
}

// KeyNameFromString is KeyNameFromBytes for human readable names.
func KeyNameFromString(s string) (KeyName, error) {
	return KeyNameFromBytes([]byte(s))
}

// ParseKeyName parses the hex form produced by String.
func ParseKeyName(s string) (KeyName, error) { // A
	var n KeyName
	if err := decodeFixedHex(n[:], s); err != nil {
		return n, fmt.Errorf("%w: %v", ErrInvalidKeyName, err)
	}
	return n, nil
}

func (n KeyName) String() string { return hex.EncodeToString(n[:]) }

func (n KeyName) MarshalText() ([]byte, error) { return []byte(n.String()), nil }

func (n *KeyName) UnmarshalText(text []byte) error {
	parsed, err := ParseKeyName(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// MapKeyFromBytes zero pads b to NameLength.
func MapKeyFromBytes(b []byte) (MapKey, error) {
	var k MapKey
	if len(b) > NameLength {
		return k, fmt.Errorf("%w: map key of %d bytes exceeds %d", ErrInvalidKeyName, len(b), NameLength)
	}
	copy(k[:], b)
	return k, nil
}

// ParseMapKey parses the hex form produced by String.
func ParseMapKey(s string) (MapKey, error) {
	var k MapKey
	if err := decodeFixedHex(k[:], s); err != nil {
		return k, fmt.Errorf("%w: map key: %v", ErrInvalidKeyName, err)
	}
	return k, nil
}

func (k MapKey) String() string { return hex.EncodeToString(k[:]) }

func (k MapKey) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *MapKey) UnmarshalText(text []byte) error {
	parsed, err := ParseMapKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func decodeFixedHex(dst []byte, s string) error {
	if len(s) != hex.EncodedLen(len(dst)) {
		return fmt.Errorf("expected %d hex characters, got %d", hex.EncodedLen(len(dst)), len(s))
	}
	_, err := hex.Decode(dst, []byte(s))
	return err
}

// KeyID identifies a key namespace. Owner always holds full rights on it.
type KeyID struct { // A
	Owner Principal `json:"owner"`
	Name  KeyName   `json:"name"`
}

// MapID identifies an encrypted map and shares the KeyID authorization.
type MapID = KeyID

func (id KeyID) String() string {
	return id.Owner.String() + "/" + id.Name.String()
}

// AppendKeyID appends the fixed width storage encoding of id to dst.
func AppendKeyID(dst []byte, id KeyID) []byte {
	dst = AppendPrincipal(dst, id.Owner)
	return append(dst, id.Name[:]...)
}

// EncodeKeyID returns the storage encoding of id.
func EncodeKeyID(id KeyID) []byte {
	return AppendKeyID(make([]byte, 0, KeyIDEncodedLength), id)
}

// DecodeKeyID reads a KeyID written by AppendKeyID.
func DecodeKeyID(b []byte) (KeyID, error) { // A
	if len(b) < KeyIDEncodedLength {
		return KeyID{}, fmt.Errorf(
			"%w: need %d bytes, got %d",
			ErrInvalidKeyID,
			KeyIDEncodedLength,
			len(b),
		)
	}
	owner, err := DecodePrincipal(b)
	if err != nil {
		return KeyID{}, fmt.Errorf("%w: %w", ErrInvalidKeyID, err)
	}
	var name KeyName
	copy(name[:], b[PrincipalEncodedLength:KeyIDEncodedLength])
	return KeyID{Owner: owner, Name: name}, nil
}

// NextName returns the smallest name sorting after n, and false when n is
// already the largest name.
func NextName(n KeyName) (KeyName, bool) {
	for i := len(n) - 1; i >= 0; i-- {
		if n[i] != 0xff {
			n[i]++
			return n, true
		}
		n[i] = 0
	}
	return n, false
}
