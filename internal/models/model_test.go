package models

import "testing"

func TestParseModelProvidersParity(t *testing.T) {
	if _, errParse := ParseModelProviders("p1,p2", "A"); errParse == nil {
		t.Fatalf("expected length mismatch error")
	}
	if _, errParse := ParseModelProviders("p1,p1", "A,D"); errParse == nil {
		t.Fatalf("expected duplicate provider error")
	}
	if _, errParse := ParseModelProviders("p1", "Z"); errParse == nil {
		t.Fatalf("expected invalid status error")
	}
	list, errParse := ParseModelProviders(" p1 , p2 ", "d,A")
	if errParse != nil {
		t.Fatalf("parse: %v", errParse)
	}
	ids, statuses := list.Positional()
	if ids != "p1,p2" || statuses != "D,A" {
		t.Fatalf("unexpected positional form %s / %s", ids, statuses)
	}
	if list.IndexOf("p2") != 1 || list.IndexOf("p3") != -1 {
		t.Fatalf("unexpected IndexOf results")
	}
}

func TestModelProvidersScan(t *testing.T) {
	var list ModelProviders
	if errScan := list.Scan(`[{"provider_id":"p1","status":"A"}]`); errScan != nil {
		t.Fatalf("scan: %v", errScan)
	}
	if len(list) != 1 || list[0].Status != ProviderStatusActive {
		t.Fatalf("unexpected scan result %v", list)
	}
	if errScan := list.Scan(nil); errScan != nil || len(list) != 0 {
		t.Fatalf("expected empty list from nil, got %v %v", list, errScan)
	}
	if errScan := list.Scan(42); errScan == nil {
		t.Fatalf("expected unsupported type error")
	}
	value, errValue := ModelProviders(nil).Value()
	if errValue != nil || value.(string) != "[]" {
		t.Fatalf("expected empty json array, got %v %v", value, errValue)
	}
}

func TestSettingValueScanScalarStorage(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{in: int64(0), want: "0"},
		{in: float64(1.5), want: "1.5"},
		{in: false, want: "false"},
		{in: []byte(`{"a":1}`), want: `{"a":1}`},
		{in: `"x"`, want: `"x"`},
		{in: nil, want: "null"},
	}
	for _, tc := range cases {
		var v SettingValue
		if errScan := v.Scan(tc.in); errScan != nil {
			t.Fatalf("scan %v: %v", tc.in, errScan)
		}
		if string(v) != tc.want {
			t.Fatalf("scan %v: expected %s, got %s", tc.in, tc.want, string(v))
		}
	}
	var v SettingValue
	if errScan := v.Scan(struct{}{}); errScan == nil {
		t.Fatalf("expected unsupported type error")
	}
	if raw, errValue := SettingValue(nil).Value(); errValue != nil || raw != "null" {
		t.Fatalf("expected null for empty value, got %v %v", raw, errValue)
	}
}
