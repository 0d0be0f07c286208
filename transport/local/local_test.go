package local

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestCallReachesRemoteHandler(t *testing.T) {
	a, b := Pair()

	err := b.Listen("echo", func(_ context.Context, body []byte) ([]byte, error) {
		return append([]byte("re:"), body...), nil
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	got, err := a.Call(context.Background(), "echo", []byte("hi"))
	if err != nil || !bytes.Equal(got, []byte("re:hi")) {
		t.Fatalf("Call: %q, %v", got, err)
	}

	// the channel is directional: a's handlers serve b, not a
	if _, err := a.Call(context.Background(), "missing", nil); err == nil {
		t.Fatalf("call to unregistered method succeeded")
	}
}

func TestNotifyDiscardsResult(t *testing.T) {
	a, b := Pair()

	var delivered [][]byte
	if err := b.Listen("push", func(_ context.Context, body []byte) ([]byte, error) {
		delivered = append(delivered, body)
		return []byte("ignored"), nil
	}); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	if err := a.Notify(context.Background(), "push", []byte("x")); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(delivered) != 1 || !bytes.Equal(delivered[0], []byte("x")) {
		t.Fatalf("delivery: %v", delivered)
	}
}

func TestNotifySurfacesHandlerError(t *testing.T) {
	a, b := Pair()
	want := errors.New("boom")
	if err := b.Listen("push", func(context.Context, []byte) ([]byte, error) {
		return nil, want
	}); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := a.Notify(context.Background(), "push", nil); !errors.Is(err, want) {
		t.Fatalf("Notify: %v", err)
	}
}

func TestListenValidation(t *testing.T) {
	a, _ := Pair()
	if err := a.Listen("m", nil); err == nil {
		t.Fatalf("nil handler accepted")
	}
	if err := a.Listen("m", func(context.Context, []byte) ([]byte, error) { return nil, nil }); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := a.Listen("m", func(context.Context, []byte) ([]byte, error) { return nil, nil }); err == nil {
		t.Fatalf("duplicate method accepted")
	}
}
