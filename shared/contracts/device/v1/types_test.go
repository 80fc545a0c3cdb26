package v1

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	cases := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{name: "register ok", env: Envelope{V: Version, Type: TypeRegister, ID: "1", TS: now, Payload: json.RawMessage(`{}`)}},
		{name: "ack ok", env: Envelope{V: Version, Type: TypeAck, ID: "2", TS: now}},
		{name: "missing version", env: Envelope{Type: TypeAck}, wantErr: true},
		{name: "wrong version", env: Envelope{V: "v2", Type: TypeAck}, wantErr: true},
		{name: "missing type", env: Envelope{V: Version}, wantErr: true},
		{name: "unknown type", env: Envelope{V: Version, Type: "message_send"}, wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.env.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestAckPayloadValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      AckPayload
		wantErr bool
	}{
		{in: AckPayload{CorrelationID: "c1", Status: AckSent}},
		{in: AckPayload{CorrelationID: "c1", Status: AckDelivered}},
		{in: AckPayload{CorrelationID: "c1", Status: AckFailed, Error: "no signal"}},
		{in: AckPayload{CorrelationID: "", Status: AckSent}, wantErr: true},
		{in: AckPayload{CorrelationID: "c1", Status: "queued"}, wantErr: true},
	}

	for _, tc := range cases {
		err := tc.in.Validate()
		if tc.wantErr != (err != nil) {
			t.Fatalf("Validate(%+v) err=%v wantErr=%v", tc.in, err, tc.wantErr)
		}
	}
}
