package status

import "testing"

func TestStatusStrings(t *testing.T) {
	cases := map[Status]string{
		Success:             "Success",
		Failure:             "Failure",
		PortFullDiscarded:   "PortFullDiscarded",
		PortFullTimeout:     "PortFullTimeout",
		PortNullPtr:         "PortNullPtr",
		EventRegisterFailed: "EventRegisterFailed",
		EventNotFound:       "EventNotFound",
		CallbackFail:        "CallbackFail",
	}
	for st, want := range cases {
		if st.String() != want {
			t.Errorf("String() = %q, want %q", st.String(), want)
		}
		if st.Error() != want {
			t.Errorf("Error() = %q, want %q", st.Error(), want)
		}
	}
}

func TestOK(t *testing.T) {
	if !Success.OK() {
		t.Error("Success.OK() should be true")
	}
	if Failure.OK() {
		t.Error("Failure.OK() should be false")
	}
}

func TestStateStrings(t *testing.T) {
	cases := map[State]string{
		Idle:        "idle",
		Initialized: "initialized",
		Running:     "running",
		Paused:      "paused",
		Stop:        "stop",
	}
	for st, want := range cases {
		if st.String() != want {
			t.Errorf("String() = %q, want %q", st.String(), want)
		}
	}
}
