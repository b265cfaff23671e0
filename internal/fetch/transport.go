package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"

	utls "github.com/refraction-networking/utls"
)

// Fingerprint names the TLS ClientHello the direct scraper presents
type Fingerprint string

const (
	FingerprintGo      Fingerprint = "go"
	FingerprintChrome  Fingerprint = "chrome"
	FingerprintFirefox Fingerprint = "firefox"
	FingerprintSafari  Fingerprint = "safari"
	FingerprintRandom  Fingerprint = "random"
)

// Transport returns a round tripper presenting the fingerprint's ClientHello.
// "go" and "" use the standard library handshake. proxy may be nil.
func Transport(fp Fingerprint, proxy func(*http.Request) (*url.URL, error)) (http.RoundTripper, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxy != nil {
		transport.Proxy = proxy
	}

	var hello utls.ClientHelloID
	switch fp {
	case FingerprintGo, "":
		return transport, nil
	case FingerprintChrome:
		hello = utls.HelloChrome_Auto
	case FingerprintFirefox:
		hello = utls.HelloFirefox_Auto
	case FingerprintSafari:
		hello = utls.HelloIOS_Auto
	case FingerprintRandom:
		hello = utls.HelloRandomizedNoALPN
	default:
		return nil, fmt.Errorf("unknown fingerprint %q", fp)
	}
	if _, err := http1Spec(hello); err != nil {
		return nil, err
	}

	dial := transport.DialContext
	transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		uconn, err := newUConn(conn, host, hello)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		if err := uconn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("utls handshake with %s: %w", host, err)
		}
		return uconn, nil
	}
	return transport, nil
}

// newUConn prepares a client presenting hello. Browser presets are
// rebuilt to offer only http/1.1, since the transport cannot speak h2 over
// a connection it did not handshake itself.
func newUConn(conn net.Conn, host string, hello utls.ClientHelloID) (*utls.UConn, error) {
	cfg := &utls.Config{ServerName: host}
	if hello == utls.HelloRandomizedNoALPN {
		return utls.UClient(conn, cfg, hello), nil
	}
	spec, err := http1Spec(hello)
	if err != nil {
		return nil, err
	}
	uconn := utls.UClient(conn, cfg, utls.HelloCustom)
	if err := uconn.ApplyPreset(&spec); err != nil {
		return nil, fmt.Errorf("apply %s preset: %w", hello.Str(), err)
	}
	return uconn, nil
}

// http1Spec returns a fresh ClientHello spec for hello with ALPN limited to
// http/1.1. Specs hold per-connection state and must not be shared.
func http1Spec(hello utls.ClientHelloID) (utls.ClientHelloSpec, error) {
	if hello == utls.HelloRandomizedNoALPN {
		return utls.ClientHelloSpec{}, nil
	}
	spec, err := utls.UTLSIdToSpec(hello)
	if err != nil {
		return spec, fmt.Errorf("client hello %s: %w", hello.Str(), err)
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}
	return spec, nil
}
