package inventory

import (
	"errors"
	"testing"
)

func TestDecode(t *testing.T) {
	raw := []byte(`{
		"gateway_serial": "GW01",
		"items": [
			{"kind": "group", "id": "1", "name": "Hall", "type_info": {"group": {"channel": 0, "group": 1}}},
			{"kind": "device", "id": "7", "name": "Lamp", "online": true,
			 "type_info": {"device": {"dev_type": "1", "channel": 0, "address": 7}}},
			{"kind": "scene", "id": "2", "gateway_serial": "GW01", "name": "Evening",
			 "type_info": {"scene": {"channel": 0, "scene": 2}}}
		]
	}`)

	items, err := Decode("GW01", raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("len(items) = %d, want 3", len(items))
	}
	if items[0].Kind != KindDevice || items[0].GatewaySerial != "GW01" || !items[0].Online {
		t.Errorf("items[0] = %+v, want online device with inherited serial", items[0])
	}
	if items[0].TypeInfo.Device.Address != 7 {
		t.Errorf("device address = %d, want 7", items[0].TypeInfo.Device.Address)
	}
	if items[1].Kind != KindGroup || items[2].Kind != KindScene {
		t.Errorf("items not sorted by kind: %v, %v", items[1].Kind, items[2].Kind)
	}
}

func TestDecode_Empty(t *testing.T) {
	items, err := Decode("GW01", []byte(`{"items": []}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(items) != 0 {
		t.Errorf("len(items) = %d, want 0", len(items))
	}
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{`},
		{"wrong gateway", `{"gateway_serial": "GW02", "items": []}`},
		{"item from other gateway", `{"items": [{"kind": "device", "id": "1", "gateway_serial": "GW02", "type_info": {"device": {}}}]}`},
		{"gateway item", `{"items": [{"kind": "gateway", "id": "GW01", "type_info": {"gateway": {}}}]}`},
		{"unknown kind", `{"items": [{"kind": "lamp", "id": "1", "type_info": {"device": {}}}]}`},
		{"payload mismatch", `{"items": [{"kind": "device", "id": "1", "type_info": {"scene": {}}}]}`},
		{"duplicate", `{"items": [
			{"kind": "device", "id": "1", "type_info": {"device": {}}},
			{"kind": "device", "id": "1", "type_info": {"device": {}}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := Decode("GW01", []byte(tt.raw))
			if !errors.Is(err, ErrInvalidItem) {
				t.Errorf("Decode() error = %v, want ErrInvalidItem", err)
			}
			if items != nil {
				t.Errorf("Decode() returned partial result %v", items)
			}
		})
	}
}

func TestEncode_DecodeAccepts(t *testing.T) {
	in := []Item{device("GW01", "1", "Lamp"), group("GW01", "2", "Hall", 0, 2)}
	raw, err := Encode("GW01", in)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	out, err := Decode("GW01", raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(out) != 2 || !out[0].SameMetadata(in[0]) || !out[1].SameMetadata(in[1]) {
		t.Errorf("Decode(Encode()) = %+v", out)
	}
}
