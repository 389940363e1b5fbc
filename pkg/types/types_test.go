package types

import (
	"encoding/json"
	"testing"
)

func TestParseNodeType(t *testing.T) {
	tests := []struct {
		in      string
		want    NodeType
		wantErr bool
	}{
		{"Cloud", NodeCloud, false},
		{"fog", NodeFog, false},
		{" EDGE ", NodeEdge, false},
		{"Sensor", NodeSensor, false},
		{"actuator", NodeActuator, false},
		{"gateway", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseNodeType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseNodeType(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseNodeType(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNodeTypeJSON(t *testing.T) {
	data, err := json.Marshal(NodeFog)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"Fog"` {
		t.Errorf("marshal = %s, want \"Fog\"", data)
	}

	var nt NodeType
	if err := json.Unmarshal([]byte(`3`), &nt); err != nil || nt != NodeSensor {
		t.Errorf("unmarshal numeric = %v, %v", nt, err)
	}
	if err := json.Unmarshal([]byte(`9`), &nt); err == nil {
		t.Error("out-of-range numeric type should fail")
	}
	if NodeType(7).String() != "NodeType(7)" {
		t.Errorf("unknown String() = %s", NodeType(7).String())
	}
}

func TestParseSignature(t *testing.T) {
	sig, err := ParseSignature("0xDEADbeef")
	if err != nil {
		t.Fatalf("ParseSignature: %v", err)
	}
	if sig.Hex() != "0xdeadbeef" {
		t.Errorf("Hex() = %s", sig.Hex())
	}
	if _, err := ParseSignature("deadbeef"); err != nil {
		t.Errorf("unprefixed hex should parse: %v", err)
	}
	for _, bad := range []string{"", "0x", "0xzz", "0xabc"} {
		if _, err := ParseSignature(bad); err == nil {
			t.Errorf("ParseSignature(%q) should fail", bad)
		}
	}
}

func TestSignatureShort(t *testing.T) {
	sig := Signature(make([]byte, 65))
	if got := sig.Short(); len(got) != 17 {
		t.Errorf("Short() = %q", got)
	}
	if got := (Signature{1}).Short(); got != "0x01" {
		t.Errorf("Short() of tiny sig = %q", got)
	}
}

func TestParseAddress(t *testing.T) {
	const valid = "0xda93a1cbb5c3d1e4b6f3e2f4b1c2d3e4f5a6b7c8"
	addr, err := ParseAddress(valid)
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if NormalizeAddress(addr) != valid {
		t.Errorf("NormalizeAddress = %s", NormalizeAddress(addr))
	}
	if _, err := ParseAddress(valid[2:]); err == nil {
		t.Error("address without 0x should fail")
	}
	if _, err := ParseAddress("0x1234"); err == nil {
		t.Error("short address should fail")
	}
	if NormalizeAddressString(" 0xABC ") != "0xabc" {
		t.Error("NormalizeAddressString did not lowercase/trim")
	}
}
