// Package address parses and resolves bus address specifications of the
// form transport:key=value[,key=value...]. Two transports are
// recognized: unix (path=, abstract=, dir=, tmpdir=) and tcp (host=,
// port=). Either may carry an explicit guid= key.
package address

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

var (
	ErrUnsupportedTransport = errors.New("unsupported transport")
	ErrMalformedAddress     = errors.New("malformed address")
)

// Kind tags the transport variant of an address. The set is closed:
// exactly unix and tcp.
type Kind int

const (
	KindUnix Kind = iota
	KindTCP
)

func (k Kind) String() string {
	switch k {
	case KindUnix:
		return "unix"
	case KindTCP:
		return "tcp"
	default:
		return "unknown"
	}
}

// Address is a parsed bus address. After Resolve it always carries a
// GUID, and a unix directory hint has been rewritten into a concrete
// socket path, so String() yields an address a client can dial
// verbatim.
type Address struct {
	Kind Kind

	// Unix transport parameters. At most one of Path, Abstract, and
	// Dir is set; Dir is cleared by resolution.
	Path     string
	Abstract string
	Dir      string
	TmpDir   bool

	// TCP transport parameters.
	Host      string
	Port      uint16
	NonceFile string

	GUID string
}

// Parse parses a bus address specification without resolving it.
func Parse(spec string) (*Address, error) {
	transport, params, ok := strings.Cut(spec, ":")
	if !ok {
		return nil, fmt.Errorf("%w %q: missing transport separator", ErrMalformedAddress, spec)
	}

	addr := &Address{}
	switch transport {
	case "unix":
		addr.Kind = KindUnix
	case "tcp":
		addr.Kind = KindTCP
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedTransport, transport)
	}

	for _, pair := range strings.Split(params, ",") {
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok || value == "" {
			return nil, fmt.Errorf("%w %q: expected key=value, got %q", ErrMalformedAddress, spec, pair)
		}
		if err := addr.setKey(key, value); err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrMalformedAddress, spec, err)
		}
	}

	if err := addr.validate(); err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrMalformedAddress, spec, err)
	}

	return addr, nil
}

func (a *Address) setKey(key, value string) error {
	switch {
	case a.Kind == KindUnix && key == "path":
		a.Path = value
	case a.Kind == KindUnix && key == "abstract":
		a.Abstract = value
	case a.Kind == KindUnix && key == "dir":
		a.Dir = value
	case a.Kind == KindUnix && key == "tmpdir":
		a.Dir = value
		a.TmpDir = true
	case a.Kind == KindTCP && key == "host":
		a.Host = value
	case a.Kind == KindTCP && key == "port":
		port, err := strconv.ParseUint(value, 10, 16)
		if err != nil {
			return fmt.Errorf("invalid port %q", value)
		}
		a.Port = uint16(port)
	case a.Kind == KindTCP && key == "noncefile":
		a.NonceFile = value
	case key == "guid":
		if !ValidGUID(value) {
			return fmt.Errorf("invalid guid %q", value)
		}
		a.GUID = value
	default:
		return fmt.Errorf("unknown key %q for %s transport", key, a.Kind)
	}
	return nil
}

func (a *Address) validate() error {
	switch a.Kind {
	case KindUnix:
		set := 0
		for _, s := range []string{a.Path, a.Abstract, a.Dir} {
			if s != "" {
				set++
			}
		}
		if set != 1 {
			return errors.New("exactly one of path, abstract, dir, tmpdir required")
		}
	case KindTCP:
		if a.Host == "" {
			return errors.New("host key required")
		}
	}
	return nil
}

// Resolve parses spec, or the platform default when spec is empty, and
// produces the dialable form: a session GUID is adopted or generated,
// and a unix directory hint is replaced by a randomized socket path
// inside that directory. The randomized name is collision-improbable,
// not collision-proof; a racing bind simply fails.
func Resolve(spec string) (*Address, error) {
	if spec == "" {
		spec = Default()
	}

	addr, err := Parse(spec)
	if err != nil {
		return nil, err
	}

	if addr.GUID == "" {
		addr.GUID = NewGUID()
	}

	if addr.Kind == KindUnix && addr.Dir != "" {
		name := fmt.Sprintf("dbus-%d", 1_000_000+uint32(rand.Int63n(1<<31)))
		addr.Path = filepath.Join(addr.Dir, name)
		addr.Dir = ""
		addr.TmpDir = false
	}

	return addr, nil
}

// String renders the canonical specification for the address.
func (a *Address) String() string {
	var b strings.Builder
	switch a.Kind {
	case KindUnix:
		b.WriteString("unix:")
		switch {
		case a.Path != "":
			b.WriteString("path=" + a.Path)
		case a.Abstract != "":
			b.WriteString("abstract=" + a.Abstract)
		case a.TmpDir:
			b.WriteString("tmpdir=" + a.Dir)
		default:
			b.WriteString("dir=" + a.Dir)
		}
	case KindTCP:
		fmt.Fprintf(&b, "tcp:host=%s,port=%d", a.Host, a.Port)
		if a.NonceFile != "" {
			b.WriteString(",noncefile=" + a.NonceFile)
		}
	}
	if a.GUID != "" {
		b.WriteString(",guid=" + a.GUID)
	}
	return b.String()
}

// Default synthesizes the platform default address: a directory hint
// rooted at the runtime directory on UNIX-like systems, loopback TCP
// elsewhere. XDG_RUNTIME_DIR being unset falls back to the conventional
// uid-qualified path.
func Default() string {
	if runtime.GOOS == "windows" {
		return "tcp:host=127.0.0.1,port=4242"
	}

	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = filepath.Join("/run", "user", strconv.Itoa(os.Getuid()))
	}
	return "unix:dir=" + dir
}
