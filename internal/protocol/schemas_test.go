package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"tradepost.gg/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	helloSchema := compile("hello.schema.json")
	actSchema := compile("trade_act.schema.json")
	stateSchema := compile("trade_state.schema.json")
	errorSchema := compile("trade_error.schema.json")

	var hello any
	_ = json.Unmarshal([]byte(`{
	  "type":"HELLO",
	  "protocol_version":"1.0",
	  "player_id":"P1",
	  "player_name":"alice",
	  "capabilities":{"max_queue":16}
	}`), &hello)
	validate(helloSchema, hello)

	var add any
	_ = json.Unmarshal([]byte(`{
	  "type":"TRADE_ADD_ITEM",
	  "protocol_version":"1.0",
	  "session_id":"s-1",
	  "item_id":"IRON_INGOT",
	  "quantity":3
	}`), &add)
	validate(actSchema, add)

	var lock any
	_ = json.Unmarshal([]byte(`{
	  "type":"TRADE_LOCK",
	  "protocol_version":"1.0",
	  "session_id":"s-1",
	  "amount":0
	}`), &lock)
	validate(actSchema, lock)

	var updated any
	_ = json.Unmarshal([]byte(`{
	  "type":"TRADE_UPDATED",
	  "session_id":"s-1",
	  "snapshot":{
	    "state":"NEGOTIATING",
	    "sides":[
	      {"player_id":"P1","items":{"IRON_INGOT":3},"gold":10,"locked":true,"confirmed":false},
	      {"player_id":"P2","items":{},"gold":0,"locked":false,"confirmed":false}
	    ]
	  }
	}`), &updated)
	validate(stateSchema, updated)

	var tradeErr any
	_ = json.Unmarshal([]byte(`{
	  "type":"TRADE_ERROR",
	  "session_id":"s-1",
	  "code":"E_INVALID_STATE",
	  "message":"offer is locked"
	}`), &tradeErr)
	validate(errorSchema, tradeErr)

	// A zero gold offer clears the side's gold; the encoder must keep the
	// amount field on the wire so the required-field rule holds.
	raw, err := json.Marshal(protocol.TradeActMsg{
		Type:            protocol.TypeTradeSetGold,
		ProtocolVersion: protocol.Version,
		SessionID:       "s-1",
		Amount:          0,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var setGold any
	_ = json.Unmarshal(raw, &setGold)
	validate(actSchema, setGold)

	// Missing item_id must fail for TRADE_ADD_ITEM.
	var bad any
	_ = json.Unmarshal([]byte(`{
	  "type":"TRADE_ADD_ITEM",
	  "protocol_version":"1.0",
	  "session_id":"s-1",
	  "quantity":3
	}`), &bad)
	if err := actSchema.Validate(bad); err == nil {
		t.Fatalf("expected ADD_ITEM without item_id to fail validation")
	}
}
