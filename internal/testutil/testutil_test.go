package testutil

import (
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

func TestAssertStatusCode(t *testing.T) {
	t.Parallel()
	AssertStatusCode(t, http.StatusOK, http.StatusOK)
	AssertStatusCode(t, http.StatusNotFound, http.StatusNotFound)
}

func TestAssertNoError(t *testing.T) {
	t.Parallel()
	AssertNoError(t, nil)
}

func TestLocalHostRequest(t *testing.T) {
	t.Parallel()
	req := LocalHostRequest(http.MethodPost, "/debug/sensor", nil)
	if req.RemoteAddr != "127.0.0.1:12345" {
		t.Errorf("RemoteAddr = %q", req.RemoteAddr)
	}
	if req.Method != http.MethodPost {
		t.Errorf("Method = %q, want POST", req.Method)
	}
	if req.URL.Path != "/debug/sensor" {
		t.Errorf("Path = %q", req.URL.Path)
	}
}

func TestWaitFor(t *testing.T) {
	t.Parallel()
	var n atomic.Int32
	go func() {
		for i := 0; i < 3; i++ {
			time.Sleep(time.Millisecond)
			n.Add(1)
		}
	}()
	WaitFor(t, time.Second, func() bool { return n.Load() == 3 }, "counter never reached 3")
}
