package protocol

import "testing"

func TestMissingRoundTrip(t *testing.T) {
	m := NewMissing(42, "a")
	buf := EncodeMissing(m)
	if len(buf) != PacketSize {
		t.Fatalf("encoded length = %d, want %d", len(buf), PacketSize)
	}

	got, err := DecodeMissing(buf)
	if err != nil {
		t.Fatalf("DecodeMissing: %v", err)
	}
	if got.WaitQueueToken != 42 {
		t.Fatalf("token = %d, want 42", got.WaitQueueToken)
	}
	if NameString(got.Len, got.Name) != "a" {
		t.Fatalf("name = %q, want %q", NameString(got.Len, got.Name), "a")
	}
	if !Valid(got.Len, got.Name) {
		t.Fatal("Valid() = false for well-formed packet")
	}
}

func TestValidRejectsOutOfRangeLength(t *testing.T) {
	var name [NameMax + 1]byte
	if Valid(0, name) {
		t.Fatal("Valid() = true for length 0")
	}
	if Valid(NameMax+1, name) {
		t.Fatal("Valid() = true for length NameMax+1")
	}
}

func TestValidRejectsMissingNulTerminator(t *testing.T) {
	var name [NameMax + 1]byte
	for i := range name {
		name[i] = 'x'
	}
	if Valid(5, name) {
		t.Fatal("Valid() = true when name[len] is not NUL")
	}
}

func TestPoolRoundTrip(t *testing.T) {
	p := NewPool(2)
	a := p.Allocate()
	if len(*a) != PacketSize {
		t.Fatalf("allocated buffer size = %d, want %d", len(*a), PacketSize)
	}
	p.Free(a)
	b := p.Allocate()
	if len(*b) != PacketSize {
		t.Fatalf("reused buffer size = %d, want %d", len(*b), PacketSize)
	}
}
