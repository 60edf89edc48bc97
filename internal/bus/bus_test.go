package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"regexp"
	"runtime"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/z-galaxy/busd/internal/peers"
	"github.com/z-galaxy/busd/internal/protocol"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// startBus boots a bus on a fresh socket directory and runs its accept
// loop until the test ends.
func startBus(t *testing.T) (*Bus, chan error) {
	t.Helper()

	b, err := New(Config{
		Address: "unix:dir=" + t.TempDir(),
		Logger:  testLogger(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() {
		runErr <- b.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-runErr:
		case <-time.After(2 * time.Second):
			t.Error("Run did not return after cancellation")
		}
	})

	return b, runErr
}

func dialBus(t *testing.T, b *Bus) (*peers.Peer, string) {
	t.Helper()

	conn, err := net.Dial("unix", b.Address().Path)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	peer, guid, err := peers.Connect(ctx, conn, peers.AuthExternal)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { _ = peer.Close() })

	return peer, guid
}

func TestUnixDirScenario(t *testing.T) {
	dir := t.TempDir()
	b, err := New(Config{
		Address: "unix:dir=" + dir,
		Logger:  testLogger(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	canonical := regexp.MustCompile("^unix:path=" + regexp.QuoteMeta(dir) + `/dbus-\d+,guid=[0-9a-f]{32}$`)
	if got := b.Address().String(); !canonical.MatchString(got) {
		t.Fatalf("Resolved address %q does not match %v", got, canonical)
	}

	path := b.Address().Path
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Expected socket file at %s: %v", path, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() {
		runErr <- b.Run(ctx)
	}()

	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("Dial resolved address failed: %v", err)
	}
	peer, guid, err := peers.Connect(ctx, conn, peers.AuthExternal)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if peer.Name() != ":1.1" {
		t.Errorf("Expected first peer id to yield ':1.1', got %q", peer.Name())
	}
	if guid != b.GUID() {
		t.Errorf("Advertised guid %s does not match bus guid %s", guid, b.GUID())
	}

	cancel()
	if err := <-runErr; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled from Run, got %v", err)
	}

	if err := b.Cleanup(); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Expected socket file removed, stat returned %v", err)
	}
}

func TestTCPAnonymousScenario(t *testing.T) {
	b, err := New(Config{
		Address: "tcp:host=127.0.0.1,port=0",
		Logger:  testLogger(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = b.Cleanup() })

	if b.AuthMechanism() != peers.AuthAnonymous {
		t.Fatalf("Expected TCP to negotiate %s, got %s", peers.AuthAnonymous, b.AuthMechanism())
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() {
		runErr <- b.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-runErr
	})

	// port=0 means the kernel picks; dial the bound endpoint, not the
	// spec the bus was built from.
	conn, err := net.Dial("tcp", b.ListenAddr().String())
	if err != nil {
		t.Fatalf("Dial bound endpoint failed: %v", err)
	}
	peer, guid, err := peers.Connect(ctx, conn, peers.AuthAnonymous)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { _ = peer.Close() })

	if peer.Name() != ":1.1" {
		t.Errorf("Expected first peer id to yield ':1.1', got %q", peer.Name())
	}
	if guid != b.GUID() {
		t.Errorf("Advertised guid %s does not match bus guid %s", guid, b.GUID())
	}
}

func TestPeerIDsFollowAcceptanceOrder(t *testing.T) {
	b, _ := startBus(t)

	for i := 1; i <= 5; i++ {
		peer, _ := dialBus(t, b)
		want := fmt.Sprintf(":1.%d", i)
		if peer.Name() != want {
			t.Fatalf("Connection %d got name %q, want %q", i, peer.Name(), want)
		}
	}
}

func TestAdmissionFailureDoesNotStopTheLoop(t *testing.T) {
	b, runErr := startBus(t)

	// First connection dies before saying anything.
	bad, err := net.Dial("unix", b.Address().Path)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	_ = bad.Close()

	// Second connection dies mid-handshake, after the auth exchange.
	mid, err := net.Dial("unix", b.Address().Path)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	codec := protocol.NewCodec(mid)
	if err := codec.Encode(&protocol.Auth{Mechanism: string(peers.AuthExternal)}); err != nil {
		t.Fatalf("Encode auth failed: %v", err)
	}
	if _, err := codec.Decode(); err != nil {
		t.Fatalf("Decode auth ok failed: %v", err)
	}
	_ = mid.Close()

	// The loop must still admit the next client, with ids minted in
	// acceptance order.
	peer, _ := dialBus(t, b)
	if peer.Name() != ":1.3" {
		t.Errorf("Expected third acceptance to yield ':1.3', got %q", peer.Name())
	}

	select {
	case err := <-runErr:
		t.Fatalf("Run returned early: %v", err)
	default:
	}
}

func TestManagementServiceThroughSelfConnection(t *testing.T) {
	b, err := New(Config{
		Address: "unix:dir=" + t.TempDir(),
		Logger:  testLogger(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = b.Cleanup() })

	us := b.Peers().Us()
	if us == nil {
		t.Fatal("Expected a registered loopback peer")
	}

	reply, err := us.Call(&protocol.ListNames{})
	if err != nil {
		t.Fatalf("ListNames through self connection failed: %v", err)
	}
	list, ok := reply.(*protocol.NameList)
	if !ok {
		t.Fatalf("Expected *NameList, got %T", reply)
	}
	if len(list.Names) != 1 || list.Names[0] != peers.BusName {
		t.Errorf("Fresh bus should list only %s, got %v", peers.BusName, list.Names)
	}

	reply, err = us.Call(&protocol.GetID{})
	if err != nil {
		t.Fatalf("GetID through self connection failed: %v", err)
	}
	if id := reply.(*protocol.ID); id.GUID != b.GUID() {
		t.Errorf("Management service reports guid %s, bus has %s", id.GUID, b.GUID())
	}
}

func TestCleanupReportsMissingSocketFile(t *testing.T) {
	b, err := New(Config{
		Address: "unix:dir=" + t.TempDir(),
		Logger:  testLogger(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := os.Remove(b.Address().Path); err != nil {
		t.Fatalf("Removing socket file out of band failed: %v", err)
	}
	if err := b.Cleanup(); err == nil {
		t.Error("Expected Cleanup to report the missing socket file")
	}
}

func TestCleanupTCPIsTrivial(t *testing.T) {
	b, err := New(Config{
		Address: "tcp:host=127.0.0.1,port=0",
		Logger:  testLogger(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if b.AuthMechanism() != peers.AuthAnonymous {
		t.Errorf("Expected anonymous auth on tcp, got %s", b.AuthMechanism())
	}
	if err := b.Cleanup(); err != nil {
		t.Errorf("Expected trivial cleanup for tcp, got %v", err)
	}
}

func TestCleanupAbstractIsTrivial(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("abstract unix sockets are linux-only")
	}

	b, err := New(Config{
		Address: fmt.Sprintf("unix:abstract=busd-test-%d", os.Getpid()),
		Logger:  testLogger(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if b.AuthMechanism() != peers.AuthExternal {
		t.Errorf("Expected external auth on unix, got %s", b.AuthMechanism())
	}
	if err := b.Cleanup(); err != nil {
		t.Errorf("Expected trivial cleanup for abstract socket, got %v", err)
	}
}

func TestNonceFileRejected(t *testing.T) {
	_, err := New(Config{
		Address: "tcp:host=127.0.0.1,port=0,noncefile=/tmp/nonce",
		Logger:  testLogger(),
	})
	if !errors.Is(err, ErrNonceFile) {
		t.Fatalf("Expected ErrNonceFile, got %v", err)
	}
}

func TestRunFailsWhenListenerDies(t *testing.T) {
	b, err := New(Config{
		Address: "unix:dir=" + t.TempDir(),
		Logger:  testLogger(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = b.Cleanup() })

	runErr := make(chan error, 1)
	go func() {
		runErr <- b.Run(context.Background())
	}()

	time.Sleep(50 * time.Millisecond)
	_ = b.listener.close()

	select {
	case err := <-runErr:
		if err == nil || errors.Is(err, context.Canceled) {
			t.Errorf("Expected a listener failure, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not propagate the listener failure")
	}
}
