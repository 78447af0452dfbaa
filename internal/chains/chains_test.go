package chains

import (
	"reflect"
	"testing"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry([]int64{8453, 1, 777})

	if !r.Supported(1) || !r.Supported(8453) || !r.Supported(777) {
		t.Fatal("configured chains must be supported")
	}
	if r.Supported(137) {
		t.Fatal("unconfigured chain must not be supported")
	}

	c, ok := r.Get(8453)
	if !ok || c.Name != "base" {
		t.Fatalf("expected base for 8453, got %+v ok=%v", c, ok)
	}
	c, ok = r.Get(777)
	if !ok || c.Name != "unknown" {
		t.Fatalf("expected generic name for unlisted chain, got %+v ok=%v", c, ok)
	}

	if got, want := r.IDs(), []int64{1, 777, 8453}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected sorted IDs %v, got %v", want, got)
	}
}

func TestValidAddress(t *testing.T) {
	cases := []struct {
		addr string
		want bool
	}{
		{"0x52908400098527886E0F7030069857D2E4169EE7", true},
		{"0xde709f2102306220921060314715629080e2fb77", true},
		{"52908400098527886E0F7030069857D2E4169EE7", true}, // prefix optional
		{"0x5290840009852788", false},
		{"0xZZ908400098527886E0F7030069857D2E4169EE7", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := ValidAddress(tc.addr); got != tc.want {
			t.Errorf("ValidAddress(%q) = %v, want %v", tc.addr, got, tc.want)
		}
	}
}

func TestValidSalt(t *testing.T) {
	cases := []struct {
		salt string
		want bool
	}{
		{"0x0000000000000000000000000000000000000000000000000000000000000001", true},
		{"0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff", true},
		{"0x01", false},
		{"0000000000000000000000000000000000000000000000000000000000000001", false}, // prefix required
		{"0x00000000000000000000000000000000000000000000000000000000000000011", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := ValidSalt(tc.salt); got != tc.want {
			t.Errorf("ValidSalt(%q) = %v, want %v", tc.salt, got, tc.want)
		}
	}
}
