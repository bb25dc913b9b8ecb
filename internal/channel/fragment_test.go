package channel

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"testing"
)

func TestSplitReassembleAnyOrder(t *testing.T) {
	tests := []struct {
		name     string
		length   int
		capacity int
	}{
		{name: "single", length: 10, capacity: 100},
		{name: "exact_multiple", length: 400, capacity: 100},
		{name: "remainder", length: 1001, capacity: 100},
		{name: "one_byte_fragments", length: 37, capacity: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, tt.length)
			for i := range data {
				data[i] = byte(i * 7)
			}
			frags := Split(data, tt.capacity)
			want := (tt.length + tt.capacity - 1) / tt.capacity
			if len(frags) != want {
				t.Fatalf("got %d fragments, want %d", len(frags), want)
			}

			for seed := uint64(0); seed < 5; seed++ {
				order := rand.New(rand.NewPCG(seed, 1)).Perm(len(frags))
				a := NewAssembly(frags[0].Count, frags[0].TotalLength)
				for i, idx := range order {
					if a.Complete() {
						t.Fatalf("seed %d: complete after %d of %d fragments", seed, i, len(frags))
					}
					added, err := a.Add(frags[idx])
					if err != nil {
						t.Fatal(err)
					}
					if !added {
						t.Fatalf("fragment %d reported as duplicate", idx)
					}
				}
				if !a.Complete() {
					t.Fatalf("seed %d: incomplete after every fragment", seed)
				}
				if !bytes.Equal(a.Bytes(), data) {
					t.Fatalf("seed %d: reassembled bytes differ", seed)
				}
			}
		})
	}
}

func TestAssemblyDuplicateFragment(t *testing.T) {
	frags := Split([]byte("abcdefgh"), 4)
	a := NewAssembly(frags[0].Count, frags[0].TotalLength)
	if _, err := a.Add(frags[0]); err != nil {
		t.Fatal(err)
	}
	added, err := a.Add(frags[0])
	if err != nil {
		t.Fatal(err)
	}
	if added || a.Received() != 1 {
		t.Fatalf("duplicate counted: added=%v received=%d", added, a.Received())
	}
}

func TestFragmentValidate(t *testing.T) {
	tests := []struct {
		name string
		f    Fragment
	}{
		{name: "zero_count", f: Fragment{Count: 0, TotalLength: 10, Data: []byte("x")}},
		{name: "count_too_large", f: Fragment{Count: 1024*1024 + 1, TotalLength: 1 << 24}},
		{name: "number_past_count", f: Fragment{Count: 2, Number: 2, TotalLength: 10}},
		{name: "total_too_large", f: Fragment{Count: 1, TotalLength: 1 << 20}},
		{name: "offset_past_total", f: Fragment{Count: 2, Number: 1, TotalLength: 10, Offset: 10}},
		{name: "data_past_total", f: Fragment{Count: 2, Number: 1, TotalLength: 10, Offset: 8, Data: []byte("abc")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.f.Validate(1 << 16); !errors.Is(err, ErrFragmentOverflow) {
				t.Fatalf("expected ErrFragmentOverflow, got %v", err)
			}
		})
	}

	ok := Fragment{Count: 2, Number: 1, TotalLength: 10, Offset: 5, Data: []byte("12345")}
	if err := ok.Validate(1 << 16); err != nil {
		t.Fatalf("valid fragment rejected: %v", err)
	}
}

func TestAssemblyShapeMismatch(t *testing.T) {
	a := NewAssembly(2, 10)
	if _, err := a.Add(Fragment{Count: 3, Number: 0, TotalLength: 10, Data: []byte("x")}); !errors.Is(err, ErrFragmentOverflow) {
		t.Fatalf("expected ErrFragmentOverflow, got %v", err)
	}
}
