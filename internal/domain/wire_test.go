package domain

import "testing"

func TestParseTerminalMessageOpened(t *testing.T) {
	msg := map[string]interface{}{
		"type":       TypeOpened,
		"accountId":  "12345",
		"positionId": "pos-1",
		"ticket":     float64(777),
		"price":      1.2345,
		"time":       float64(1700000000000),
		"status":     ResultSuccess,
	}

	event, err := ParseTerminalMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	opened, ok := event.(OpenedEvent)
	if !ok {
		t.Fatalf("expected OpenedEvent, got %T", event)
	}
	if opened.AccountID != "12345" || opened.PositionID != "pos-1" {
		t.Fatalf("unexpected identity fields: %+v", opened)
	}
	if opened.Ticket != 777 || opened.Price != 1.2345 {
		t.Fatalf("unexpected trade fields: %+v", opened)
	}
	if !opened.Success() {
		t.Fatal("SUCCESS status should report success")
	}
}

func TestParseTerminalMessageFailedClose(t *testing.T) {
	msg := map[string]interface{}{
		"type":       TypeClosed,
		"accountId":  "12345",
		"positionId": "pos-2",
		"status":     ResultFailed,
	}

	event, err := ParseTerminalMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	closed, ok := event.(ClosedEvent)
	if !ok {
		t.Fatalf("expected ClosedEvent, got %T", event)
	}
	if closed.Success() {
		t.Fatal("FAILED status must not report success")
	}
}

func TestParseTerminalMessageIgnorableTypes(t *testing.T) {
	for _, msgType := range []string{TypeAuthSuccess, TypeHeartbeatAck, TypePrice, TypeInfo} {
		event, err := ParseTerminalMessage(map[string]interface{}{"type": msgType})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", msgType, err)
		}
		if event != nil {
			t.Fatalf("%s: expected nil event, got %T", msgType, event)
		}
	}
}

func TestParseTerminalMessageUnknownType(t *testing.T) {
	if _, err := ParseTerminalMessage(map[string]interface{}{"type": "BOGUS"}); err == nil {
		t.Fatal("expected error for unknown message type")
	}
}

func TestOpenCommandToJSONCarriesDerivedSide(t *testing.T) {
	frame := OpenCommandToJSON(&OpenCommand{
		AccountID:  "12345",
		PositionID: "pos-1",
		Symbol:     "USDJPY",
		Side:       OrderSideSell,
		Volume:     0.3,
	})

	if frame["type"] != TypeOpen {
		t.Fatalf("expected type OPEN, got %v", frame["type"])
	}
	if frame["side"] != "SELL" {
		t.Fatalf("expected side SELL, got %v", frame["side"])
	}
}

func TestErrorFromMT4CodeRetryable(t *testing.T) {
	if code := ErrorFromMT4Code(138); code != ErrRequote {
		t.Fatalf("expected REQUOTE for 138, got %s", code)
	}
	if !IsRetryable(ErrRequote) {
		t.Fatal("requote should be retryable")
	}
	if IsRetryable(ErrorFromMT4Code(134)) {
		t.Fatal("not enough money must not be retryable")
	}
}
