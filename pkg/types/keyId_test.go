package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func genKeyName(t *rapid.T, label string) KeyName {
	var n KeyName
	copy(n[:], rapid.SliceOfN(rapid.Byte(), NameLength, NameLength).Draw(t, label))
	return n
}

func TestKeyNameFromString(t *testing.T) {
	t.Parallel()

	n, err := KeyNameFromString("notes")
	if err != nil {
		t.Fatalf("KeyNameFromString: %v", err)
	}
	if !bytes.HasPrefix(n[:], []byte("notes")) || n[5] != 0 {
		t.Fatalf("unexpected name bytes %x", n)
	}

	_, err = KeyNameFromString(strings.Repeat("x", NameLength+1))
	if !errors.Is(err, ErrInvalidKeyName) {
		t.Fatalf("expected ErrInvalidKeyName, got %v", err)
	}
}

func TestParseKeyName(t *testing.T) {
	t.Parallel()

	n, _ := KeyNameFromString("notes")
	parsed, err := ParseKeyName(n.String())
	if err != nil {
		t.Fatalf("ParseKeyName: %v", err)
	}
	if parsed != n {
		t.Fatalf("got %x, want %x", parsed, n)
	}

	for _, bad := range []string{"", "abcd", strings.Repeat("zz", NameLength)} {
		if _, err := ParseKeyName(bad); !errors.Is(err, ErrInvalidKeyName) {
			t.Fatalf("ParseKeyName(%q) error = %v", bad, err)
		}
	}
}

func TestKeyID_JSON(t *testing.T) {
	t.Parallel()

	name, _ := KeyNameFromString("notes")
	id := KeyID{Owner: MustParsePrincipal("2vxsx-fae"), Name: name}

	data, err := json.Marshal(id)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"owner":"2vxsx-fae","name":"` + name.String() + `"}`
	if string(data) != want {
		t.Fatalf("got %s, want %s", data, want)
	}

	var back KeyID
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back != id {
		t.Fatalf("round trip gave %v", back)
	}
}

func TestKeyID_EncodingPreservesOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := KeyID{Owner: genPrincipal(t, "ownerA"), Name: genKeyName(t, "nameA")}
		b := KeyID{Owner: genPrincipal(t, "ownerB"), Name: genKeyName(t, "nameB")}

		encA := EncodeKeyID(a)
		if len(encA) != KeyIDEncodedLength {
			t.Fatalf("encoded length %d", len(encA))
		}

		want := a.Owner.Compare(b.Owner)
		if want == 0 {
			want = bytes.Compare(a.Name[:], b.Name[:])
		}
		if got := bytes.Compare(encA, EncodeKeyID(b)); got != want {
			t.Fatalf("bytes.Compare = %d, want %d", got, want)
		}

		decoded, err := DecodeKeyID(encA)
		if err != nil {
			t.Fatalf("DecodeKeyID: %v", err)
		}
		if decoded != a {
			t.Fatalf("decoded %v, want %v", decoded, a)
		}
	})
}

func TestDecodeKeyID_Short(t *testing.T) {
	t.Parallel()

	if _, err := DecodeKeyID(make([]byte, KeyIDEncodedLength-1)); !errors.Is(err, ErrInvalidKeyID) {
		t.Fatalf("expected ErrInvalidKeyID, got %v", err)
	}
}

func TestNextName(t *testing.T) {
	t.Parallel()

	var n KeyName
	next, ok := NextName(n)
	if !ok || next[NameLength-1] != 1 {
		t.Fatalf("NextName(zero) = %x, %v", next, ok)
	}

	n[NameLength-1] = 0xff
	next, ok = NextName(n)
	if !ok || next[NameLength-2] != 1 || next[NameLength-1] != 0 {
		t.Fatalf("carry failed: %x", next)
	}

	for i := range n {
		n[i] = 0xff
	}
	if _, ok := NextName(n); ok {
		t.Fatal("NextName(max) should report overflow")
	}
}

func TestNextName_IsSuccessor(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := genKeyName(t, "name")
		next, ok := NextName(n)
		if !ok {
			return
		}
		if bytes.Compare(next[:], n[:]) <= 0 {
			t.Fatalf("NextName(%x) = %x is not larger", n, next)
		}
		other := genKeyName(t, "other")
		if bytes.Compare(other[:], n[:]) > 0 && bytes.Compare(other[:], next[:]) < 0 {
			t.Fatalf("%x lies between %x and its successor %x", other, n, next)
		}
	})
}
