package scu

import (
	"log/slog"
	"time"

	"github.com/caio-sobreiro/dicomscu/assoc"
	"github.com/caio-sobreiro/dicomscu/uid"
)

// Config holds client configuration. Zero values mean defaults; a zero
// LingerTimeout means release immediately after the last request.
type Config struct {
	CallingAETitle string
	CalledAETitle  string

	// MaxPDULength is the largest PDU this side is willing to receive
	// (default: 16KB). Outgoing fragmentation honors the peer's announced
	// maximum instead.
	MaxPDULength uint32

	ConnectTimeout   time.Duration // transport dial (default: 30s)
	AssociateTimeout time.Duration // waiting for A-ASSOCIATE-AC/RJ (default: 30s)
	PDUTimeout       time.Duration // inactivity between PDUs once established (default: 60s)
	LingerTimeout    time.Duration // delay before release after the last request (default: none)

	Logger *slog.Logger // default: slog.Default()

	// Registry supplies the storage classes proposed for retrieve
	// requests and the default transfer syntax (default: the standard set
	// with Implicit VR Little Endian).
	Registry *uid.Registry

	ImplementationClassUID    string
	ImplementationVersionName string
}

func (c Config) withDefaults() Config {
	if c.MaxPDULength == 0 {
		c.MaxPDULength = assoc.DefaultMaxPDULength
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.AssociateTimeout == 0 {
		c.AssociateTimeout = 30 * time.Second
	}
	if c.PDUTimeout == 0 {
		c.PDUTimeout = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Registry == nil {
		c.Registry = uid.DefaultRegistry()
	}
	if c.ImplementationClassUID == "" {
		c.ImplementationClassUID = assoc.DefaultImplementationClassUID
	}
	if c.ImplementationVersionName == "" {
		c.ImplementationVersionName = assoc.DefaultImplementationVersionName
	}
	return c
}
