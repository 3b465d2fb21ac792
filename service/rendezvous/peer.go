package rendezvous

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
	"time"
)

const (
	tokenRelease byte = 'R'
	tokenPayload byte = 'P'

	// MaxPayload bounds a single Send.
	MaxPayload = 1 << 20
)

// Peer is one side of a synchronized fork: it reads frames from in and writes
// frames to out. A Peer is not safe for concurrent use by several goroutines.
type Peer struct {
	in   *os.File
	out  *os.File
	once sync.Once
	err  error
}

func newPeer(in, out *os.File) *Peer {
	return &Peer{in: in, out: out}
}

// Release sends one release token. It does not wait for the other side.
func (p *Peer) Release() error {
	return p.write([]byte{tokenRelease})
}

// Sync blocks until a release token from the other side arrives.
func (p *Peer) Sync() error {
	tag, err := p.readTag()
	if err != nil {
		return err
	}
	if tag != tokenRelease {
		return fmt.Errorf("%w: sync received frame %q", ErrProtocol, tag)
	}
	return nil
}

// Send passes payload to the other side.
func (p *Peer) Send(payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrProtocol, len(payload), MaxPayload)
	}
	frame := make([]byte, 5+len(payload))
	frame[0] = tokenPayload
	binary.BigEndian.PutUint32(frame[1:5], uint32(len(payload)))
	copy(frame[5:], payload)
	return p.write(frame)
}

// Receive blocks until a payload from the other side arrives.
func (p *Peer) Receive() ([]byte, error) {
	tag, err := p.readTag()
	if err != nil {
		return nil, err
	}
	if tag != tokenPayload {
		return nil, fmt.Errorf("%w: receive got frame %q", ErrProtocol, tag)
	}
	var size [4]byte
	if _, err := io.ReadFull(p.in, size[:]); err != nil {
		return nil, p.readErr(err)
	}
	n := binary.BigEndian.Uint32(size[:])
	if n > MaxPayload {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrProtocol, n, MaxPayload)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(p.in, payload); err != nil {
		return nil, p.readErr(err)
	}
	return payload, nil
}

// SendString and ReceiveString are conveniences for textual payloads.
func (p *Peer) SendString(s string) error { return p.Send([]byte(s)) }

func (p *Peer) ReceiveString() (string, error) {
	data, err := p.Receive()
	return string(data), err
}

// SetDeadline bounds blocking operations of the parent side; the child side
// uses blocking descriptors and ignores it.
func (p *Peer) SetDeadline(t time.Time) error {
	if err := p.in.SetReadDeadline(t); err != nil && !errors.Is(err, os.ErrNoDeadline) {
		return err
	}
	if err := p.out.SetWriteDeadline(t); err != nil && !errors.Is(err, os.ErrNoDeadline) {
		return err
	}
	return nil
}

// Close closes both channels. It is safe to call more than once and unblocks
// a pending parent side Sync or Receive.
func (p *Peer) Close() error {
	p.once.Do(func() {
		err := p.in.Close()
		if cerr := p.out.Close(); err == nil {
			err = cerr
		}
		p.err = err
	})
	return p.err
}

func (p *Peer) readTag() (byte, error) {
	var tag [1]byte
	if _, err := io.ReadFull(p.in, tag[:]); err != nil {
		return 0, p.readErr(err)
	}
	return tag[0], nil
}

func (p *Peer) write(frame []byte) error {
	if _, err := p.out.Write(frame); err != nil {
		if errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) {
			return fmt.Errorf("%w: %v", ErrPeerGone, err)
		}
		return err
	}
	return nil
}

func (p *Peer) readErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrPeerGone, err)
	}
	return err
}
