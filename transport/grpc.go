package transport

import (
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
)

// DialOptions bundles the TLS certificate path and server address needed
// to dial a remote participant's message-relay endpoint.
type DialOptions struct {
	ServerAddr   string
	TLSCertPath  string
	KeepaliveInt time.Duration
	KeepaliveTO  time.Duration
}

// DialPeer opens a gRPC client connection to a remote participant's
// message relay, grounded on client/client.go's NewPongClient dial: TLS
// credentials from a certificate file plus keepalive parameters to detect
// a dropped peer faster than TCP would on its own. Callers build a
// Transport on top of the returned *grpc.ClientConn; this module does not
// itself define the relay's protobuf service, since the wire messages
// travel as the JSON-tagged Message envelope rather than a generated
// protobuf type.
func DialPeer(opts DialOptions) (*grpc.ClientConn, error) {
	if opts.ServerAddr == "" {
		return nil, fmt.Errorf("transport: dial: empty server address")
	}
	keepaliveInt := opts.KeepaliveInt
	if keepaliveInt == 0 {
		keepaliveInt = 30 * time.Second
	}
	keepaliveTO := opts.KeepaliveTO
	if keepaliveTO == 0 {
		keepaliveTO = 10 * time.Second
	}

	creds, err := credentials.NewClientTLSFromFile(opts.TLSCertPath, "")
	if err != nil {
		return nil, fmt.Errorf("transport: load TLS credentials: %w", err)
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    keepaliveInt,
			Timeout: keepaliveTO,
		}),
	}

	conn, err := grpc.Dial(opts.ServerAddr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", opts.ServerAddr, err)
	}
	return conn, nil
}
