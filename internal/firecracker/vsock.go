package firecracker

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/mdlayher/vsock"
)

// primeWarmUp dials the guest agent over vsock and sends a single priming
// message so the guest can pre-fault its runtime before any tenant is
// attached. warm_up has exactly one concern here: "wake up and get ready,"
// not a general-purpose guest RPC surface.
func primeWarmUp(ctx context.Context, cid uint32, port uint32, payload []byte) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}

	conn, err := dialVsockWithDeadline(cid, port, deadline)
	if err != nil {
		return fmt.Errorf("dial vsock cid=%d port=%d: %w", cid, port, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)

	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("write priming frame: %w", err)
	}

	ack := make([]byte, 4)
	if _, err := net.Conn(conn).Read(ack); err != nil {
		return fmt.Errorf("read priming ack: %w", err)
	}
	if binary.BigEndian.Uint32(ack) != 0 {
		return fmt.Errorf("guest agent rejected priming frame")
	}
	return nil
}

func dialVsockWithDeadline(cid, port uint32, deadline time.Time) (*vsock.Conn, error) {
	type result struct {
		conn *vsock.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := vsock.Dial(cid, port, nil)
		ch <- result{conn, err}
	}()

	select {
	case r := <-ch:
		return r.conn, r.err
	case <-time.After(time.Until(deadline)):
		return nil, fmt.Errorf("vsock dial timed out")
	}
}
