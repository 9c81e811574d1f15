package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/xraph/hookrelay/id"
)

func TestNew_Prefixes(t *testing.T) {
	cases := map[id.Prefix]id.ID{
		id.PrefixWebhook:  id.NewWebhookID(),
		id.PrefixTopic:    id.NewTopicID(),
		id.PrefixEvent:    id.NewEventID(),
		id.PrefixDelivery: id.NewDeliveryID(),
		id.PrefixDLQ:      id.NewDLQID(),
		id.PrefixJob:      id.NewJobID(),
	}
	for prefix, got := range cases {
		if got.Prefix() != prefix {
			t.Errorf("expected prefix %q, got %q", prefix, got.Prefix())
		}
		if !strings.HasPrefix(got.String(), string(prefix)+"_") {
			t.Errorf("expected %q to start with %q_", got.String(), prefix)
		}
	}
}

func TestParseWithPrefix_Mismatch(t *testing.T) {
	evtID := id.NewEventID()
	if _, err := id.ParseDLQID(evtID.String()); err == nil {
		t.Fatal("expected prefix mismatch error")
	}
	parsed, err := id.ParseEventID(evtID.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.String() != evtID.String() {
		t.Fatalf("round trip mismatch: %s != %s", parsed, evtID)
	}
}

func TestID_JSONAndScan(t *testing.T) {
	orig := id.NewDeliveryID()

	b, err := json.Marshal(struct {
		ID id.ID `json:"id"`
	}{orig})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out struct {
		ID id.ID `json:"id"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.ID.String() != orig.String() {
		t.Fatalf("expected %s, got %s", orig, out.ID)
	}

	var scanned id.ID
	if err := scanned.Scan(orig.String()); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if scanned.String() != orig.String() {
		t.Fatalf("scan mismatch")
	}
	if err := scanned.Scan(nil); err != nil || !scanned.IsNil() {
		t.Fatalf("expected nil ID after scanning NULL")
	}
	if v, _ := id.Nil.Value(); v != nil {
		t.Fatalf("expected NULL value for Nil ID, got %v", v)
	}
}

func TestParseWithPrefix_ErrorNamesKinds(t *testing.T) {
	_, err := id.ParseWebhookID(id.NewEventID().String())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "expected webhook id, got event id") {
		t.Fatalf("unexpected error text: %v", err)
	}
}

func TestParse_Empty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Fatal("expected error for empty string")
	}
	var v id.ID
	if err := v.UnmarshalText(nil); err != nil || !v.IsNil() {
		t.Fatalf("empty text must decode to Nil, got %v / %v", v, err)
	}
}
