package can

import "testing"

func TestNewFrameValidation(t *testing.T) {
	tests := []struct {
		name    string
		id      uint16
		data    []byte
		wantErr error
	}{
		{"ok_empty", 0x110, nil, nil},
		{"ok_full", 0x7FF, make([]byte, 8), nil},
		{"id_out_of_range", 0x800, nil, ErrInvalidID},
		{"payload_too_long", 0x110, make([]byte, 9), ErrInvalidLen},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewFrame(tc.id, tc.data)
			if err != tc.wantErr {
				t.Fatalf("NewFrame(%#x, %d bytes) err = %v, want %v", tc.id, len(tc.data), err, tc.wantErr)
			}
		})
	}
}

func TestFrameString(t *testing.T) {
	f, err := NewFrame(0x110, []byte{0x00, 0x00, 0x80, 0x3F})
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	got := f.String()
	want := "110 [4] 00 00 80 3F"
	if got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestLoopbackDeliveryOrder(t *testing.T) {
	bus := NewLoopbackBus()
	defer bus.Close()
	tx := bus.Open()
	rx := bus.Open()

	for i := 0; i < 10; i++ {
		f, _ := NewFrame(uint16(0x100+i), []byte{byte(i)})
		if err := tx.Send(f); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	for i := 0; i < 10; i++ {
		f, err := rx.Receive()
		if err != nil {
			t.Fatalf("Receive %d: %v", i, err)
		}
		if f.ID != uint16(0x100+i) {
			t.Fatalf("frame %d out of order: id %03X", i, f.ID)
		}
	}
}

func TestLoopbackPeerDelivery(t *testing.T) {
	bus := NewLoopbackBus()
	defer bus.Close()
	a := bus.Open()
	b := bus.Open()

	f, _ := NewFrame(0x120, []byte{1, 2, 3, 4})
	if err := a.Send(f); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := b.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got.ID != 0x120 {
		t.Fatalf("peer got id %03X, want 120", got.ID)
	}
}

func TestLoopbackClosePropagates(t *testing.T) {
	bus := NewLoopbackBus()
	ep := bus.Open()
	done := make(chan error, 1)
	go func() {
		_, err := ep.Receive()
		done <- err
	}()
	if err := bus.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := <-done; err != ErrClosed {
		t.Fatalf("Receive after close = %v, want ErrClosed", err)
	}
	if err := ep.Send(Frame{ID: 0x110}); err != ErrClosed {
		t.Fatalf("Send after close = %v, want ErrClosed", err)
	}
}
