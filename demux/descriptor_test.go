package demux

import (
	"errors"
	"testing"
)

func TestParseDescriptors_Typed(t *testing.T) {
	t.Parallel()

	loop := descriptor(DescriptorTagCA, 0x06, 0x04, 0xE1, 0x00, 0xAA)
	loop = append(loop, descriptor(DescriptorTagStreamIdentifier, 0x07)...)
	loop = append(loop, descriptor(DescriptorTagParentalRating, 'S', 'W', 'E', 0x0C)...)

	d := New()
	descs, err := d.parseDescriptors(loop)
	if err != nil {
		t.Fatalf("parseDescriptors: %v", err)
	}
	if len(descs) != 3 {
		t.Fatalf("got %d descriptors, want 3", len(descs))
	}

	ca := descs[0].CA
	if ca == nil || ca.SystemID != 0x0604 || ca.PID != 0x0100 {
		t.Errorf("CA descriptor: %+v", ca)
	}
	if len(ca.Private) != 1 || ca.Private[0] != 0xAA {
		t.Errorf("CA private data: %v", ca.Private)
	}
	if si := descs[1].StreamIdentifier; si == nil || si.ComponentTag != 0x07 {
		t.Errorf("stream identifier: %+v", si)
	}
	pr := descs[2].ParentalRating
	if pr == nil || len(pr.Entries) != 1 {
		t.Fatalf("parental rating: %+v", pr)
	}
	e := pr.Entries[0]
	if e.CountryCode != "SWE" || e.MinimumAge() != 15 {
		t.Errorf("got country %q age %d, want SWE 15", e.CountryCode, e.MinimumAge())
	}
}

func TestParseDescriptors_UnknownTagKeptRaw(t *testing.T) {
	t.Parallel()

	d := New()
	descs, err := d.parseDescriptors(descriptor(0xA7, 0xDE, 0xAD))
	if err != nil {
		t.Fatalf("parseDescriptors: %v", err)
	}
	if len(descs) != 1 {
		t.Fatalf("got %d descriptors, want 1", len(descs))
	}
	desc := descs[0]
	if desc.Tag != 0xA7 || desc.Parsed() {
		t.Errorf("unknown tag 0x%02X reported as parsed", desc.Tag)
	}
	if len(desc.Raw) != 2 || desc.Raw[0] != 0xDE {
		t.Errorf("raw payload: %v", desc.Raw)
	}
}

func TestParseDescriptors_Truncated(t *testing.T) {
	t.Parallel()

	d := New()
	cases := map[string][]byte{
		"header cut":          {DescriptorTagService},
		"length exceeds loop": {DescriptorTagService, 0x10, 0x01},
		"service name cut":    descriptor(DescriptorTagService, 0x01, 0x02, 'a'),
		"CA too short":        descriptor(DescriptorTagCA, 0x06, 0x04),
	}
	for name, loop := range cases {
		if _, err := d.parseDescriptors(loop); !errors.Is(err, ErrInvalidData) {
			t.Errorf("%s: got %v, want ErrInvalidData", name, err)
		}
	}
}

func TestParseDescriptors_Cap(t *testing.T) {
	t.Parallel()

	caps := DefaultTableCaps()
	caps.MaxDescriptors = 2
	d := New(WithTableCaps(caps))

	var loop []byte
	for i := 0; i < 3; i++ {
		loop = append(loop, descriptor(DescriptorTagStreamIdentifier, byte(i))...)
	}
	if _, err := d.parseDescriptors(loop); !errors.Is(err, ErrTableFull) {
		t.Fatalf("got %v, want ErrTableFull", err)
	}
}

func TestParentalRatingMinimumAge(t *testing.T) {
	t.Parallel()

	cases := []struct {
		rating uint8
		want   int
	}{
		{0x00, 0},
		{0x01, 4},
		{0x0C, 15},
		{0x0F, 18},
		{0x10, 0},
	}
	for _, tc := range cases {
		e := ParentalRatingEntry{Rating: tc.rating}
		if got := e.MinimumAge(); got != tc.want {
			t.Errorf("rating 0x%02X: got %d, want %d", tc.rating, got, tc.want)
		}
	}
}
