package throttle

import "testing"

func TestAdmitSpreadsOverScale(t *testing.T) {
	for v := uint32(0); v <= Scale; v++ {
		th := New(DefaultInterval, DefaultAcceleration, DefaultDeceleration)
		th.Value = v
		admitted := 0
		for range Scale {
			if th.Admit() {
				admitted++
			}
		}
		if admitted != int(v) {
			t.Fatalf("value %d admitted %d of %d", v, admitted, Scale)
		}
	}
}

func TestUpdate(t *testing.T) {
	th := New(1000, 2, 3)

	if th.Update(5000) {
		t.Fatal("update before any traffic")
	}

	for range 10 {
		th.Sent(0)
		th.Acked(0)
	}
	if th.Update(999) {
		t.Fatal("update before interval elapsed")
	}
	if !th.Update(1000) {
		t.Fatal("expected update at interval")
	}
	if th.Value != Scale {
		t.Fatalf("value %d exceeded limit", th.Value)
	}

	for i := range 10 {
		th.Sent(1500)
		if i%2 == 0 {
			th.Acked(1500)
		}
	}
	if !th.Update(2000) {
		t.Fatal("expected update")
	}
	if th.Value != Scale-3 {
		t.Fatalf("value %d after loss, want %d", th.Value, Scale-3)
	}

	if th.Update(3000) {
		t.Fatal("update with nothing sent")
	}
}

func TestUpdateThreshold(t *testing.T) {
	tests := []struct {
		name        string
		sent, acked int
		want        uint32
	}{
		{name: "all_acked", sent: 8, acked: 8, want: 12},
		{name: "exactly_seven_eighths", sent: 8, acked: 7, want: 7},
		{name: "none_acked", sent: 8, acked: 0, want: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := New(100, 2, 3)
			th.Value = 10
			for range tt.sent {
				th.Sent(0)
			}
			for range tt.acked {
				th.Acked(0)
			}
			th.Update(100)
			if th.Value != tt.want {
				t.Fatalf("value %d, want %d", th.Value, tt.want)
			}
		})
	}
}

func TestUpdateClampsAtZero(t *testing.T) {
	th := New(100, 2, 3)
	th.Value = 2
	th.Sent(0)
	th.Update(100)
	if th.Value != 0 {
		t.Fatalf("value %d, want 0", th.Value)
	}
	if th.Admit() {
		t.Fatal("closed throttle admitted a command")
	}
}

func TestValueCappedAtScale(t *testing.T) {
	th := New(100, 4, 1)
	th.Value = Scale - 1
	th.Sent(0)
	th.Acked(0)
	if !th.Update(100) {
		t.Fatal("interval not closed")
	}
	if th.Value != Scale {
		t.Fatalf("value %d, want %d", th.Value, Scale)
	}
}
