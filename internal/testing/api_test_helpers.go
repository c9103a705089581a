package testing

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"log/slog"

	"github.com/fcptools/fcpd/cards"
	"github.com/fcptools/fcpd/fcptest"
	"github.com/fcptools/fcpd/internal/log"
	"github.com/fcptools/fcpd/internal/server/api"
)

// StartAPIServer starts an API server on a free port and calls register to allow
// the caller to register the handlers needed for the test. Returns the address
// and a function to call when done.
func StartAPIServer(t *testing.T, register func(r *api.Router, reg *cards.Registry, apiSrv *api.Server)) (addr string, reg *cards.Registry, done func()) {
	t.Helper()
	reg = cards.NewRegistry(slog.Default(), log.NewRaw(nil))

	apiSrv := api.New(reg, api.ServerConfig{Addr: "127.0.0.1:0"}, slog.Default())
	if register != nil {
		register(apiSrv.Router(), reg, apiSrv)
	}
	if err := apiSrv.Start(); err != nil {
		t.Fatalf("api start failed: %v", err)
	}
	addr = apiSrv.Addr()

	done = func() {
		_ = reg.Close()
		apiSrv.Close()
		time.Sleep(10 * time.Millisecond)
	}
	return addr, reg, done
}

// AttachEmulated attaches an emulated device to the registry and returns the
// card along with the device so tests can drive it directly.
func AttachEmulated(t *testing.T, reg *cards.Registry, levels ...int32) (*cards.Card, *fcptest.Device) {
	t.Helper()
	dev := fcptest.New(levels...)
	card, err := reg.Attach(dev)
	if err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	return card, dev
}

// ExecCmd dials the API server, sends cmd and reads the full response.
// The command should not include a trailing newline. Returns the response
// without the trailing newline.
func ExecCmd(t *testing.T, addr string, cmd string) string {
	t.Helper()
	c, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer c.Close()

	_, _ = fmt.Fprintf(c, "%s\x00", cmd)

	r := bufio.NewReader(c)
	line, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		t.Fatalf("read failed: %v", err)
	}

	result := strings.TrimSuffix(line, "\n")
	result = strings.TrimSuffix(result, "\r")
	return result
}
