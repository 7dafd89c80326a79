// Package grpcclient pushes accepted telemetry frames to the downstream
// forwarder service.
package grpcclient

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	forwarder "fleetlink/proto"
)

type GRPCClient struct {
	conn   *grpc.ClientConn
	client forwarder.ForwarderClient
}

func NewGRPCClient(addr string) (*GRPCClient, error) {
	conn, err := grpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	return &GRPCClient{conn: conn, client: forwarder.NewForwarderClient(conn)}, nil
}

func (g *GRPCClient) Close() {
	_ = g.conn.Close()
}

// SendData forwards one payload for the given device. The payload is the
// hex dump of the raw frame; the forwarder owns any further decoding.
func (g *GRPCClient) SendData(deviceID, payload string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := g.client.SendData(ctx, &forwarder.DataRequest{
		DeviceId: deviceID,
		Payload:  payload,
	})
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("forwarder rejected data for device %s: %s", deviceID, res.Message)
	}
	return nil
}
