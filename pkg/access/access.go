// Package access defines the permission levels a principal can hold on a key.
package access

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidAccessRights = errors.New("access: invalid access rights")

// AccessControl is the capability set every permission level answers.
type AccessControl interface { // A
	CanRead() bool
	CanWrite() bool
	CanGetUserRights() bool
	CanSetUserRights() bool
}

// AccessRights is an ordered permission level. Each level holds every
// capability of the levels below it.
type AccessRights uint8 // A

const ( // A
	Read AccessRights = iota
	ReadWrite
	ReadWriteManage
)

var _ AccessControl = Read

// OwnerRights is the implicit level of a key owner. It is never stored.
func OwnerRights() AccessRights {
	return ReadWriteManage
}

// All returns every level in ascending order.
func All() []AccessRights {
	return []AccessRights{Read, ReadWrite, ReadWriteManage}
}

func (a AccessRights) Valid() bool {
	return a <= ReadWriteManage
}

func (a AccessRights) CanRead() bool {
	return a == Read || a == ReadWrite || a == ReadWriteManage
}

func (a AccessRights) CanWrite() bool {
	return a == ReadWrite || a == ReadWriteManage
}

func (a AccessRights) CanGetUserRights() bool {
	return a == ReadWriteManage
}

func (a AccessRights) CanSetUserRights() bool {
	return a == ReadWriteManage
}

func (a AccessRights) String() string {
	switch a {
	case Read:
		return "Read"
	case ReadWrite:
		return "ReadWrite"
	case ReadWriteManage:
		return "ReadWriteManage"
	default:
		return fmt.Sprintf("AccessRights(%d)", uint8(a))
	}
}

// Parse accepts the names produced by String, case-insensitively.
func Parse(s string) (AccessRights, error) { // A
	for _, a := range All() {
		if strings.EqualFold(s, a.String()) {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidAccessRights, s)
}

func (a AccessRights) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAccessRights, uint8(a))
	}
	return []byte(a.String()), nil
}

func (a *AccessRights) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Bytes is the one byte storage encoding.
func (a AccessRights) Bytes() []byte {
	return []byte{byte(a)}
}

// FromBytes decodes the storage encoding written by Bytes.
func FromBytes(b []byte) (AccessRights, error) { // A
	if len(b) != 1 {
		return 0, fmt.Errorf("%w: expected 1 byte, got %d", ErrInvalidAccessRights, len(b))
	}
	a := AccessRights(b[0])
	if !a.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidAccessRights, b[0])
	}
	return a, nil
}
