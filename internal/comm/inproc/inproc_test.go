package inproc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/tensormesh/tensormesh/internal/comm"
)

func TestSendReceive(t *testing.T) {
	w := NewWorld(2)
	done := make(chan error, 2)

	go func() {
		req, err := w.Endpoint(0).Isend([]byte("hello"), 1, 5)
		if err != nil {
			done <- err
			return
		}
		done <- req.Wait()
	}()
	go func() {
		buf := make([]byte, 5)
		req, err := w.Endpoint(1).Irecv(buf, 0, 5)
		if err != nil {
			done <- err
			return
		}
		if err := req.Wait(); err != nil {
			done <- err
			return
		}
		if string(buf) != "hello" {
			done <- fmt.Errorf("received %q", buf)
			return
		}
		done <- nil
	}()
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatal(err)
		}
	}
}

func TestSendBufferReusableImmediately(t *testing.T) {
	w := NewWorld(2)
	buf := []byte{1, 2, 3}
	req, err := w.Endpoint(0).Isend(buf, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := req.Wait(); err != nil {
		t.Fatal(err)
	}
	buf[0] = 99

	recv := make([]byte, 3)
	if err := must(w.Endpoint(1).Irecv(recv, 0, 1)).Wait(); err != nil {
		t.Fatal(err)
	}
	if recv[0] != 1 {
		t.Errorf("send buffer was aliased: received %v", recv)
	}
}

func TestTagsMatchOutOfOrder(t *testing.T) {
	w := NewWorld(2)
	if _, err := w.Endpoint(0).Isend([]byte{1}, 1, 10); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Endpoint(0).Isend([]byte{2}, 1, 20); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 1)
	if err := must(w.Endpoint(1).Irecv(buf, 0, 20)).Wait(); err != nil {
		t.Fatal(err)
	}
	if buf[0] != 2 {
		t.Errorf("tag 20 delivered %d, want 2", buf[0])
	}
	if err := must(w.Endpoint(1).Irecv(buf, 0, 10)).Wait(); err != nil {
		t.Fatal(err)
	}
	if buf[0] != 1 {
		t.Errorf("tag 10 delivered %d, want 1", buf[0])
	}
}

func TestSelfSend(t *testing.T) {
	w := NewWorld(1)
	ep := w.Endpoint(0)
	if _, err := ep.Isend([]byte{7}, 0, 3); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 1)
	if err := must(ep.Irecv(buf, 0, 3)).Wait(); err != nil {
		t.Fatal(err)
	}
	if buf[0] != 7 {
		t.Errorf("self-send delivered %d", buf[0])
	}
}

func TestClosedEndpoint(t *testing.T) {
	w := NewWorld(2)
	ep := w.Endpoint(0)
	if err := ep.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := ep.Isend([]byte{1}, 1, 0); !errors.Is(err, comm.ErrClosed) {
		t.Errorf("Isend after close: %v", err)
	}
	if _, err := ep.Irecv(make([]byte, 1), 1, 0); !errors.Is(err, comm.ErrClosed) {
		t.Errorf("Irecv after close: %v", err)
	}
}

func TestRankOutOfRange(t *testing.T) {
	w := NewWorld(2)
	if _, err := w.Endpoint(0).Isend([]byte{1}, 2, 0); !errors.Is(err, comm.ErrTransport) {
		t.Errorf("out-of-range send: %v", err)
	}
	if _, err := w.Endpoint(0).Irecv(make([]byte, 1), -1, 0); !errors.Is(err, comm.ErrTransport) {
		t.Errorf("out-of-range receive: %v", err)
	}
}

func TestRunPropagatesErrors(t *testing.T) {
	w := NewWorld(3)
	boom := errors.New("boom")
	err := w.Run(func(tr comm.Transport) error {
		if tr.Rank() == 1 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("Run = %v, want boom", err)
	}
	if err := w.Run(func(comm.Transport) error { return nil }); err != nil {
		t.Errorf("Run = %v", err)
	}
}

func must(req comm.Request, err error) comm.Request {
	if err != nil {
		panic(err)
	}
	return req
}
