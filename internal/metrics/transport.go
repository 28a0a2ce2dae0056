//go:generate go run github.com/golang/mock/mockgen -destination=../mocks/transport_mock.go -package=mocks jobstatsd/internal/metrics Transport

package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cactus/go-statsd-client/v5/statsd"
)

// ErrNoDestination is returned when a send is attempted without a usable host and port.
var ErrNoDestination = errors.New("transport: no destination")

// Transport ships a single statsd line to a destination. Implementations must never panic; a
// failed send is reported only through the returned error, which callers treat as diagnostic.
type Transport interface {
	Send(ctx context.Context, dest Destination, line string) error
}

// UDPTransport opens a connectionless socket per send, writes the line as one datagram, and
// closes the socket again.
type UDPTransport struct {
	resolver *net.Resolver
}

// NewUDPTransport creates a UDP transport using the default resolver.
func NewUDPTransport() *UDPTransport {
	return &UDPTransport{resolver: net.DefaultResolver}
}

// Send writes line to dest. Host name resolution honors the context deadline so that an
// unreachable DNS server cannot stall the caller.
func (t *UDPTransport) Send(ctx context.Context, dest Destination, line string) error {
	if !dest.Valid() {
		return ErrNoDestination
	}

	addr, err := t.resolve(ctx, dest)
	if err != nil {
		return err
	}

	sender, err := statsd.NewSimpleSender(addr)
	if err != nil {
		return fmt.Errorf("transport: error opening socket: addr=%s err=%w", addr, err)
	}
	defer sender.Close()

	if _, err := sender.Send([]byte(line)); err != nil {
		return fmt.Errorf("transport: error writing datagram: addr=%s err=%w", addr, err)
	}

	return nil
}

// resolve turns the destination into a literal ip:port address.
func (t *UDPTransport) resolve(ctx context.Context, dest Destination) (string, error) {
	port := strconv.Itoa(dest.Port)

	if ip := net.ParseIP(dest.Host); ip != nil {
		return net.JoinHostPort(ip.String(), port), nil
	}

	addrs, err := t.resolver.LookupHost(ctx, dest.Host)
	if err != nil {
		return "", fmt.Errorf("transport: error resolving host: host=%s err=%w", dest.Host, err)
	}

	if len(addrs) == 0 {
		return "", fmt.Errorf("transport: host resolved to no addresses: host=%s", dest.Host)
	}

	return net.JoinHostPort(addrs[0], port), nil
}

// withSendTimeout bounds a single send. A non-positive timeout leaves the context untouched.
func withSendTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, timeout)
}
