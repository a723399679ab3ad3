package mempool

import (
	"testing"
)

func TestClassifyRaw(t *testing.T) {
	tests := []struct {
		name     string
		tx       string
		expected TxClass
	}{
		{"signed order", `{"type":"order","order":{"side":"buy"},"signature":"0x1234"}`, TxOrder},
		{"signed cancel", `{"type":"cancel","cancel":{"orderId":3},"signature":"0xabcd"}`, TxCancel},
		{"listing buy", `{"type":"buy_listing","buy":{"listingId":1},"signature":"0xabcd"}`, TxListing},
		{"invalid json", `{"invalid": "json"`, TxOrder},
		{"not json", "UNKNOWN:foo", TxOrder},
		{"empty", "", TxOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyRaw([]byte(tt.tx)); got != tt.expected {
				t.Errorf("ClassifyRaw() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestMempoolOrdering(t *testing.T) {
	m := NewMempool(0)

	orderTx1 := `{"type":"order","order":{"side":"buy","nonce":1},"signature":"0x1111"}`
	buyTx := `{"type":"buy_listing","buy":{"listingId":0},"signature":"0x6666"}`
	orderTx2 := `{"type":"order","order":{"side":"sell","nonce":2},"signature":"0x2222"}`
	cancelTx1 := `{"type":"cancel","cancel":{"orderId":1},"signature":"0x4444"}`
	cancelTx2 := `{"type":"cancel","cancel":{"orderId":2},"signature":"0x5555"}`

	for _, tx := range []string{orderTx1, buyTx, cancelTx1, orderTx2, cancelTx2} {
		if err := m.PushRaw([]byte(tx)); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	txs := m.SelectForBlock(0, 0)
	want := []string{cancelTx1, cancelTx2, orderTx1, orderTx2, buyTx}
	if len(txs) != len(want) {
		t.Fatalf("expected %d txs, got %d", len(want), len(txs))
	}
	for i := range want {
		if string(txs[i]) != want[i] {
			t.Errorf("tx[%d]\ngot:  %q\nwant: %q", i, txs[i], want[i])
		}
	}
	if m.Len() != 0 {
		t.Errorf("pool not drained: %d left", m.Len())
	}
}

func TestMempoolLimits(t *testing.T) {
	m := NewMempool(3)
	for _, tx := range []string{"N:1", "N:2", "N:3"} {
		if err := m.PushRaw([]byte(tx)); err != nil {
			t.Fatalf("push %s: %v", tx, err)
		}
	}
	if err := m.PushRaw([]byte("N:4")); err != ErrFull {
		t.Errorf("expected ErrFull, got %v", err)
	}
	if err := m.PushRaw([]byte("N:1")); err != ErrDuplicate {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	if txs := m.SelectForBlock(0, 6); len(txs) != 2 {
		t.Errorf("expected 2 txs with maxBytes=6, got %d", len(txs))
	}
	if txs := m.SelectForBlock(5, 0); len(txs) != 1 {
		t.Errorf("expected the last tx, got %d", len(txs))
	}

	// a drained tx may be submitted again
	if err := m.PushRaw([]byte("N:1")); err != nil {
		t.Errorf("resubmit after drain: %v", err)
	}
}
