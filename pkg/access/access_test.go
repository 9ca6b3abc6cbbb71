package access

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestCapabilities(t *testing.T) {
	t.Parallel()

	cases := []struct {
		rights                   AccessRights
		read, write, get, manage bool
	}{
		{Read, true, false, false, false},
		{ReadWrite, true, true, false, false},
		{ReadWriteManage, true, true, true, true},
	}
	for _, tc := range cases {
		if tc.rights.CanRead() != tc.read ||
			tc.rights.CanWrite() != tc.write ||
			tc.rights.CanGetUserRights() != tc.get ||
			tc.rights.CanSetUserRights() != tc.manage {
			t.Fatalf("%s: unexpected capability set", tc.rights)
		}
	}
}

func TestLevelsAreOrdered(t *testing.T) {
	t.Parallel()

	all := All()
	for i := 1; i < len(all); i++ {
		if all[i-1] >= all[i] {
			t.Fatalf("%s is not below %s", all[i-1], all[i])
		}
	}
	if OwnerRights() != all[len(all)-1] {
		t.Fatalf("owner rights %s are not the maximum", OwnerRights())
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	for _, a := range All() {
		got, err := Parse(a.String())
		if err != nil || got != a {
			t.Fatalf("Parse(%q) = %v, %v", a.String(), got, err)
		}
	}
	if got, err := Parse("readwrite"); err != nil || got != ReadWrite {
		t.Fatalf("case-insensitive parse failed: %v, %v", got, err)
	}
	if _, err := Parse("Admin"); !errors.Is(err, ErrInvalidAccessRights) {
		t.Fatalf("expected ErrInvalidAccessRights, got %v", err)
	}
}

func TestBytes(t *testing.T) {
	t.Parallel()

	for _, a := range All() {
		got, err := FromBytes(a.Bytes())
		if err != nil || got != a {
			t.Fatalf("FromBytes(%x) = %v, %v", a.Bytes(), got, err)
		}
	}
	for _, bad := range [][]byte{nil, {0, 0}, {3}, {0xff}} {
		if _, err := FromBytes(bad); !errors.Is(err, ErrInvalidAccessRights) {
			t.Fatalf("FromBytes(%x) error = %v", bad, err)
		}
	}
}

func TestJSON(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(struct {
		Rights AccessRights `json:"rights"`
	}{ReadWriteManage})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"rights":"ReadWriteManage"}` {
		t.Fatalf("got %s", data)
	}

	var v struct {
		Rights AccessRights `json:"rights"`
	}
	if err := json.Unmarshal([]byte(`{"rights":"Read"}`), &v); err != nil || v.Rights != Read {
		t.Fatalf("Unmarshal: %v, %v", v.Rights, err)
	}
	if _, err := json.Marshal(AccessRights(7)); err == nil {
		t.Fatal("marshaling an invalid level should fail")
	}
}
