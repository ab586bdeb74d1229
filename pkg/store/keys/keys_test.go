package keys

import (
	"bytes"
	"testing"
	"time"
)

func TestConversationIxRoundTrip(t *testing.T) {
	created := time.Date(2024, 6, 1, 10, 0, 0, 123, time.UTC)
	k := GenConversationIx("conv-1", created, 42)
	p, err := ParseConversationIx(string(k))
	if err != nil {
		t.Fatalf("ParseConversationIx error: %v (key=%s)", err, k)
	}
	if p.ConversationID != "conv-1" || !p.CreatedAt.Equal(created) || p.Seq != 42 {
		t.Fatalf("ParseConversationIx mismatch: got %+v", p)
	}
	if !bytes.HasPrefix(k, GenConversationPrefix("conv-1")) {
		t.Fatalf("index key %s does not carry its conversation prefix", k)
	}
}

func TestIndexKeysSortByTimeThenSeq(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	a := GenOutboxIx(t0, 9)
	b := GenOutboxIx(t0, 10)
	c := GenOutboxIx(t0.Add(time.Nanosecond), 1)
	if !(bytes.Compare(a, b) < 0 && bytes.Compare(b, c) < 0) {
		t.Fatalf("unexpected order: %s %s %s", a, b, c)
	}
}

func TestUpperBound(t *testing.T) {
	cases := []struct{ in, want []byte }{
		{[]byte("c:a:"), []byte("c:a;")},
		{[]byte{'a', 0xff}, []byte{'b'}},
		{[]byte{0xff, 0xff}, nil},
	}
	for _, c := range cases {
		if got := UpperBound(c.in); !bytes.Equal(got, c.want) {
			t.Fatalf("UpperBound(%q) = %q want %q", c.in, got, c.want)
		}
	}
}

func TestValidateIDs(t *testing.T) {
	if err := ValidateConversationID("conv:1"); err == nil {
		t.Fatalf("expected colon to be rejected")
	}
	if err := ValidateConversationID("patient-7@clinic"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateMessageID("srv-42"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateMessageID("has space"); err == nil {
		t.Fatalf("expected whitespace to be rejected")
	}
}
