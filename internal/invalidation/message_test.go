package invalidation

import "testing"

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantOK  bool
		want    Message
	}{
		{"data changed", `{"type":"DATA_CHANGED","channel":"events:changed"}`, true, DataChanged("events:changed")},
		{"extra fields", `{"type":"DATA_CHANGED","channel":"todos:changed","at":123}`, true, DataChanged("todos:changed")},
		{"missing channel", `{"type":"DATA_CHANGED"}`, true, Message{Type: TypeDataChanged}},
		{"wrong field types", `{"type":7,"channel":["x"]}`, true, Message{}},
		{"array", `[1,2]`, false, Message{}},
		{"string", `"DATA_CHANGED"`, false, Message{}},
		{"null", `null`, false, Message{}},
		{"garbage", `not json`, false, Message{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Decode([]byte(tt.payload))
			if ok != tt.wantOK {
				t.Fatalf("Decode ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("Decode = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestMessageMatches(t *testing.T) {
	m := DataChanged("events:changed")
	if !m.Matches("events:changed") {
		t.Error("should match its own channel")
	}
	if m.Matches("todos:changed") {
		t.Error("should not match another channel")
	}
	if (Message{Type: "OTHER", Channel: "events:changed"}).Matches("events:changed") {
		t.Error("other message types should not match")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := DataChanged("memos:changed")
	got, ok := Decode(m.Encode())
	if !ok || got != m {
		t.Errorf("Decode(Encode(m)) = %+v, %v", got, ok)
	}
}
