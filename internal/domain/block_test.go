package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPackStripsReservedFields(t *testing.T) {
	flat := FlatBlock{
		FieldBlockName: "n",
		FieldBlockRef:  "r",
		FieldBlockID:   "placeholder",
		"token":        "abc",
		"nested":       map[string]any{"x": 1.0},
	}
	packed, err := Pack(flat)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if packed.Name != "n" || packed.BlockReference != "r" {
		t.Fatalf("identity mismatch: %+v", packed)
	}
	want := map[string]any{"token": "abc", "nested": map[string]any{"x": 1.0}}
	if diff := cmp.Diff(want, packed.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
	// input must be left intact
	if _, ok := flat[FieldBlockID]; !ok {
		t.Fatalf("Pack mutated its input")
	}
}

func TestPackRequiresIdentity(t *testing.T) {
	tests := []struct {
		name     string
		flat     FlatBlock
		wantText []string
	}{
		{"missing both", FlatBlock{"token": "abc"}, []string{FieldBlockName, FieldBlockRef}},
		{"missing ref", FlatBlock{FieldBlockName: "n"}, []string{FieldBlockRef}},
		{"empty name", FlatBlock{FieldBlockName: "", FieldBlockRef: "r"}, []string{FieldBlockName}},
		{"non-string name", FlatBlock{FieldBlockName: 3.0, FieldBlockRef: "r"}, []string{"must be a string"}},
		{"nil ref", FlatBlock{FieldBlockName: "n", FieldBlockRef: nil}, []string{FieldBlockRef}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Pack(tc.flat)
			if !errors.Is(err, ErrInvalidBlock) {
				t.Fatalf("expected ErrInvalidBlock, got %v", err)
			}
			for _, s := range tc.wantText {
				if !strings.Contains(err.Error(), s) {
					t.Fatalf("expected %q in error, got %q", s, err.Error())
				}
			}
		})
	}
}

func TestUnpackReservedFieldsWin(t *testing.T) {
	rec := BlockRecord{ID: "0123456789abcdef0123456789abcdef", Name: "n", BlockReference: "r"}
	data := map[string]any{"token": "abc", FieldBlockName: "shadow", FieldBlockID: "old"}
	got := Unpack(rec, data)
	want := FlatBlock{
		"token":        "abc",
		FieldBlockName: "n",
		FieldBlockRef:  "r",
		FieldBlockID:   "0123456789abcdef0123456789abcdef",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unpack mismatch (-want +got):\n%s", diff)
	}
	if data[FieldBlockName] != "shadow" {
		t.Fatalf("Unpack mutated the payload map")
	}
}

func TestPackUnpackInverse(t *testing.T) {
	flat := FlatBlock{FieldBlockName: "n", FieldBlockRef: "r", "a": "1", "b": true, "c": []any{"x", 2.0}}
	packed, err := Pack(flat)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	rec := BlockRecord{ID: "ffffffffffffffffffffffffffffffff", Name: packed.Name, BlockReference: packed.BlockReference}
	got := Unpack(rec, packed.Data)

	want := FlatBlock{}
	for k, v := range flat {
		want[k] = v
	}
	want[FieldBlockID] = "ffffffffffffffffffffffffffffffff"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestBlockUpdateEmpty(t *testing.T) {
	if !(BlockUpdate{}).Empty() {
		t.Fatalf("zero update should be empty")
	}
	name := "x"
	if (BlockUpdate{Name: &name}).Empty() {
		t.Fatalf("update with name should not be empty")
	}
	if (BlockUpdate{Data: map[string]any{}}).Empty() {
		t.Fatalf("update with empty non-nil data replaces the payload and is not empty")
	}
}

func TestBlockUpdateValidate(t *testing.T) {
	empty, name := "", "n"
	cases := []struct {
		name    string
		upd     BlockUpdate
		wantErr string
	}{
		{"nothing provided", BlockUpdate{}, ""},
		{"rename", BlockUpdate{Name: &name, BlockReference: &name}, ""},
		{"blank name", BlockUpdate{Name: &empty}, FieldBlockName},
		{"blank blockref", BlockUpdate{BlockReference: &empty, Data: map[string]any{"a": "b"}}, FieldBlockRef},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.upd.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidBlock) {
				t.Fatalf("expected ErrInvalidBlock, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected %q in %v", tc.wantErr, err)
			}
		})
	}
}
